package service

import (
	"context"
	"regexp"
	"sort"

	"qarag-go/internal/model"
	"qarag-go/pkg/log"
)

// 来源过滤阈值。
const (
	internalThreshold       = 0.4
	internalThresholdVsWeb  = 0.75
	webThreshold            = 0.4
	internalConfidenceBoost = 1.2
	webConfidenceWeight     = 0.8
)

var urlPattern = regexp.MustCompile("https?://[^\\s<>\"{}|\\\\^`\\[\\]]+")

// DetectURLs 返回消息中出现的 URL。
func DetectURLs(message string) []string {
	return urlPattern.FindAllString(message, -1)
}

// GatherRequest 是一次来源收集的输入。History 不包含本轮的用户消息。
type GatherRequest struct {
	Message     string
	History     []model.ChatMessage
	Scope       DocScope
	MaxInternal int
	MaxWeb      int
	ForceWeb    bool
}

// Gathered 是过滤、合并后的来源。
type Gathered struct {
	Internal []model.Source
	Web      []model.Source
	// Sources 是 Internal 与 Web 合并后按分数降序排列的结果。
	Sources []model.Source
	// WebSearched 表示本轮执行了网络搜索并至少返回一条结果。
	WebSearched bool
	URLs        []string
}

// HasDocuments 报告本轮请求是否带有文档范围。
func (r GatherRequest) HasDocuments() bool {
	return len(r.Scope.DocIDs) > 0
}

// Aggregator 按 URL 抽取或规划网络搜索 → 文档检索 → 阈值过滤 → 合并排序 的顺序收集来源。
type Aggregator struct {
	planner Planner
	search  SearchService
	web     WebService
}

// NewAggregator 创建一个新的 Aggregator。
func NewAggregator(planner Planner, search SearchService, web WebService) *Aggregator {
	return &Aggregator{planner: planner, search: search, web: web}
}

// Gather 收集本轮对话的来源。只有文档检索失败会返回错误，网络与规划失败都已降级处理。
func (a *Aggregator) Gather(ctx context.Context, req GatherRequest) (*Gathered, error) {
	out := &Gathered{URLs: DetectURLs(req.Message)}

	var web []model.Source
	if len(out.URLs) > 0 {
		// 1. 消息中带 URL：直接抽取网页，跳过规划
		log.Infof("[Aggregator] 步骤1: 检测到 %d 个 URL, 直接抽取网页内容", len(out.URLs))
		web = a.web.Extract(ctx, out.URLs)
	} else {
		// 2. 规划是否需要网络搜索
		plan := a.planner.Plan(ctx, req.Message, req.History, req.HasDocuments())
		useWeb := req.ForceWeb || plan.UseWeb
		log.Infof("[Aggregator] 步骤2: 规划结果 use_web=%t (force=%t, reason=%s)", useWeb, req.ForceWeb, plan.Reason)
		if useWeb {
			query := plan.Query
			if query == "" {
				query = req.Message
			}
			web = a.web.Search(ctx, query, req.MaxWeb)
			out.WebSearched = len(web) > 0
		}
	}

	// 3. 无论是否带 URL，都在本会话的文档范围内检索
	internal, err := a.search.Search(ctx, req.Message, req.MaxInternal, req.Scope)
	if err != nil {
		return nil, err
	}
	log.Infof("[Aggregator] 步骤3: 文档检索返回 %d 个来源", len(internal))

	// 4. 阈值过滤：网络搜索有结果时只保留强匹配的文档片段
	threshold := internalThreshold
	if out.WebSearched {
		threshold = internalThresholdVsWeb
	}
	out.Internal = capSources(filterByScore(internal, threshold), req.MaxInternal)
	out.Web = capSources(filterByScore(web, webThreshold), req.MaxWeb)

	// 5. 合并并按分数降序稳定排序
	merged := make([]model.Source, 0, len(out.Internal)+len(out.Web))
	merged = append(merged, out.Internal...)
	merged = append(merged, out.Web...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RelevanceScore > merged[j].RelevanceScore
	})
	out.Sources = merged
	log.Infof("[Aggregator] 步骤4: 过滤后内部来源 %d 个, 网络来源 %d 个", len(out.Internal), len(out.Web))
	return out, nil
}

// Confidence 计算置信度：内部来源分数 ×1.2、网络来源 ×0.8 后取平均，最大 1.0；没有来源时为 0。
func Confidence(sources []model.Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		if s.SourceType == model.SourceInternal {
			sum += s.RelevanceScore * internalConfidenceBoost
		} else {
			sum += s.RelevanceScore * webConfidenceWeight
		}
	}
	avg := sum / float64(len(sources))
	if avg > 1.0 {
		return 1.0
	}
	return avg
}

func filterByScore(sources []model.Source, min float64) []model.Source {
	out := make([]model.Source, 0, len(sources))
	for _, s := range sources {
		if s.RelevanceScore >= min {
			out = append(out, s)
		}
	}
	return out
}

func capSources(sources []model.Source, n int) []model.Source {
	if n >= 0 && len(sources) > n {
		return sources[:n]
	}
	return sources
}
