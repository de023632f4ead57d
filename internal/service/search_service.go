// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"qarag-go/internal/model"
	"qarag-go/internal/repository"
	"qarag-go/pkg/es"
	"qarag-go/pkg/log"
)

const maxQueryTerms = 12

var termPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by can could did do does for from get give
		how i if in is it its me my of on or our please show tell that the their them this to us was we
		what when where which who why with you your doc docs document documents`) {
		stopWords[w] = struct{}{}
	}
}

// DocScope 是一次检索的文档范围。Scoped 为 false 表示全局检索；
// Scoped 为 true 且 DocIDs 为空表示"本会话没有文档"，直接返回空结果。
type DocScope struct {
	DocIDs []string
	Scoped bool
}

// ScopeOf 把请求中的 doc_ids 转换为检索范围：nil 为全局，非 nil（包括空切片）为限定范围。
func ScopeOf(docIDs []string) DocScope {
	return DocScope{DocIDs: docIDs, Scoped: docIDs != nil}
}

// LexicalIndex 是可选的外部词法索引（Elasticsearch 镜像）。
type LexicalIndex interface {
	Search(ctx context.Context, p es.SearchParams) ([]model.ScoredChunk, error)
}

// SearchService 接口定义了文档检索操作。
type SearchService interface {
	Search(ctx context.Context, query string, limit int, scope DocScope) ([]model.Source, error)
}

type searchService struct {
	chunkRepo repository.ChunkRepository
	index     LexicalIndex
}

// NewSearchService 创建一个新的 SearchService 实例。index 可以为 nil。
func NewSearchService(chunkRepo repository.ChunkRepository, index LexicalIndex) SearchService {
	return &searchService{chunkRepo: chunkRepo, index: index}
}

// Search 执行三档词法检索：整句命中 1.0、关键词命中 0.7；限定范围且无命中时返回前几个分块（0.45）。
func (s *searchService) Search(ctx context.Context, query string, limit int, scope DocScope) ([]model.Source, error) {
	query = strings.TrimSpace(query)
	terms := ExtractTerms(query)
	log.Infof("[SearchService] 开始检索, query: '%s', limit: %d, scoped: %t, doc_ids: %v, terms: %v",
		query, limit, scope.Scoped, scope.DocIDs, terms)

	if limit <= 0 {
		return nil, nil
	}
	// 1. 空范围直接返回，绝不退化为全局检索
	if scope.Scoped && len(scope.DocIDs) == 0 {
		log.Info("[SearchService] 步骤1: doc_ids 为空, 不返回内部来源")
		return nil, nil
	}

	// 2. 词法匹配
	rows, err := s.match(ctx, repository.ChunkQuery{
		Query:  query,
		Terms:  terms,
		DocIDs: scope.DocIDs,
		Scoped: scope.Scoped,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	log.Infof("[SearchService] 步骤2: 词法匹配命中 %d 条", len(rows))

	// 3. 限定范围且无命中时，返回所选文档的前几个分块
	if len(rows) == 0 && scope.Scoped {
		log.Info("[SearchService] 步骤3: 无词法命中, 使用文档开头的分块兜底")
		rows, err = s.chunkRepo.Leading(ctx, scope.DocIDs, limit)
		if err != nil {
			return nil, fmt.Errorf("fallback search failed: %w", err)
		}
	}

	sources := make([]model.Source, 0, len(rows))
	for _, row := range rows {
		name := row.Filename
		if name == "" {
			name = "Unknown"
		}
		sources = append(sources, model.Source{
			SourceType:     model.SourceInternal,
			DocumentID:     row.DocID,
			DocumentName:   name,
			Snippet:        Snippet(row.Content),
			RelevanceScore: row.Score,
		})
	}
	log.Infof("[SearchService] 返回 %d 个内部来源", len(sources))
	return sources, nil
}

func (s *searchService) match(ctx context.Context, q repository.ChunkQuery) ([]model.ScoredChunk, error) {
	if s.index != nil {
		rows, err := s.index.Search(ctx, es.SearchParams{
			Query:  q.Query,
			Terms:  q.Terms,
			DocIDs: q.DocIDs,
			Scoped: q.Scoped,
			Limit:  q.Limit,
		})
		switch {
		case err != nil:
			log.Warnf("[SearchService] Elasticsearch 检索失败, 回退到数据库: %v", err)
		case len(rows) > 0:
			return rows, nil
		default:
			// 镜像写入可能失败过，索引无命中不能当作最终结果
			log.Info("[SearchService] Elasticsearch 无命中, 由数据库确认")
		}
	}
	return s.chunkRepo.Match(ctx, q)
}

// ExtractTerms 提取查询中的关键词：小写、按字母数字切分、去掉短词和停用词、去重，最多 12 个。
func ExtractTerms(query string) []string {
	tokens := termPattern.FindAllString(strings.ToLower(query), -1)
	terms := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if len(t) < 3 {
			continue
		}
		if _, ok := stopWords[t]; ok {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}

// Snippet 返回内容的前 500 个字符，截断时追加 "..."。
func Snippet(content string) string {
	r := []rune(content)
	if len(r) <= model.MaxSnippetLen {
		return content
	}
	return string(r[:model.MaxSnippetLen]) + "..."
}

// truncate 返回前 n 个字符，不加省略号。
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
