package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"qarag-go/internal/model"
	"qarag-go/pkg/llm"
	"qarag-go/pkg/log"
)

const plannerPrompt = `You are a routing assistant for a RAG system.
Decide if this user query requires a live web search tool.

Use web search when:
- The query asks for today/current/latest/recent/breaking information
- The user asks for real-time facts like news, market, weather, schedule, or "as of now"
- Uploaded documents are unlikely to have the up-to-date answer

Do NOT use web search when:
- The user asks to summarize/explain uploaded documents
- The answer is likely stable and already in provided documents/history

Return ONLY minified JSON with keys:
{"use_web_search": boolean, "search_query": string}

Rules:
- If use_web_search is true, rewrite search_query to be clear and web-search friendly
- If false, set search_query to the original user query`

const plannerHistoryTurns = 3

var (
	jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)
	freshnessPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\btoday'?s?\b`),
		regexp.MustCompile(`\b(latest|current|recent|breaking|live)\b`),
		regexp.MustCompile(`\b(news|headline|headlines|update|updates)\b`),
		regexp.MustCompile(`\b(as of|right now)\b`),
		regexp.MustCompile(`\b(this week|this month|this year)\b`),
	}
)

// Plan 是一次检索规划的结果。
type Plan struct {
	UseWeb bool
	Query  string
	// Reason 记录决策来源："llm" 或 "heuristic"。
	Reason string
}

// Planner 决定是否需要网络搜索，以及使用的搜索语句。
type Planner interface {
	Plan(ctx context.Context, query string, history []model.ChatMessage, hasDocs bool) Plan
}

type llmPlanner struct {
	llmClient llm.Client
}

// NewPlanner 创建基于大模型的 Planner，模型不可用时退化为关键词规则。
func NewPlanner(llmClient llm.Client) Planner {
	return &llmPlanner{llmClient: llmClient}
}

func (p *llmPlanner) Plan(ctx context.Context, query string, history []model.ChatMessage, hasDocs bool) Plan {
	query = strings.TrimSpace(query)

	messages := []llm.Message{{Role: model.RoleSystem, Content: plannerPrompt}}
	for _, m := range lastN(history, plannerHistoryTurns) {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("has_uploaded_documents=%t\nquery=%s", hasDocs, query),
	})

	content, err := p.llmClient.Complete(ctx, messages, &llm.GenerationParams{
		Temperature: llm.Float64(0),
		TopP:        llm.Float64(1),
		MaxTokens:   llm.Int(200),
	})
	if err != nil {
		log.Warnf("[Planner] 规划模型调用失败, 使用规则判断: %v", err)
		return HeuristicPlan(query)
	}

	decision, ok := parseDecision(content)
	if !ok {
		log.Warnf("[Planner] 无法解析规划结果, 使用规则判断: %q", content)
		return HeuristicPlan(query)
	}

	plan := Plan{UseWeb: decision.UseWebSearch, Query: strings.TrimSpace(decision.SearchQuery), Reason: "llm"}
	if plan.Query == "" {
		plan.Query = query
	}
	log.Infof("[Planner] use_web_search=%t, search_query='%s'", plan.UseWeb, plan.Query)
	return plan
}

// HeuristicPlan 根据时效性关键词判断是否需要网络搜索，查询语句保持不变。
func HeuristicPlan(query string) Plan {
	text := strings.TrimSpace(query)
	lower := strings.ToLower(text)
	for _, re := range freshnessPatterns {
		if re.MatchString(lower) {
			return Plan{UseWeb: true, Query: text, Reason: "heuristic"}
		}
	}
	return Plan{UseWeb: false, Query: text, Reason: "heuristic"}
}

type plannerDecision struct {
	UseWebSearch bool   `json:"use_web_search"`
	SearchQuery  string `json:"search_query"`
}

// parseDecision 先按严格 JSON 解析，失败时取出第一个 {...} 片段再解析。
func parseDecision(text string) (plannerDecision, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return plannerDecision{}, false
	}
	var d plannerDecision
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &d); err == nil {
			return d, true
		}
	}
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return plannerDecision{}, false
	}
	if err := json.Unmarshal([]byte(match), &d); err != nil {
		return plannerDecision{}, false
	}
	return d, true
}

func lastN(history []model.ChatMessage, n int) []model.ChatMessage {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
