package service

import (
	"context"

	"qarag-go/internal/model"
	"qarag-go/pkg/log"
	"qarag-go/pkg/websearch"
)

// WebSearcher 是网络搜索提供方（Tavily）。
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error)
	Extract(ctx context.Context, urls []string) ([]websearch.Result, error)
}

// WebService 把网络搜索结果转换为 model.Source。提供方出错时返回空列表，从不报错。
type WebService interface {
	Search(ctx context.Context, query string, k int) []model.Source
	Extract(ctx context.Context, urls []string) []model.Source
}

type webService struct {
	searcher WebSearcher
}

// NewWebService 创建一个新的 WebService 实例。
func NewWebService(searcher WebSearcher) WebService {
	return &webService{searcher: searcher}
}

func (s *webService) Search(ctx context.Context, query string, k int) []model.Source {
	results, err := s.searcher.Search(ctx, query, k)
	if err != nil {
		log.Warnf("[WebService] 网络搜索失败, query: '%s', error: %v", query, err)
		return nil
	}
	log.Infof("[WebService] 网络搜索返回 %d 条结果, query: '%s'", len(results), query)
	return toWebSources(results)
}

func (s *webService) Extract(ctx context.Context, urls []string) []model.Source {
	results, err := s.searcher.Extract(ctx, urls)
	if err != nil {
		log.Warnf("[WebService] 网页抽取失败, urls: %v, error: %v", urls, err)
		return nil
	}
	log.Infof("[WebService] 网页抽取返回 %d 条结果", len(results))
	return toWebSources(results)
}

func toWebSources(results []websearch.Result) []model.Source {
	sources := make([]model.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, model.Source{
			SourceType:     model.SourceWeb,
			URL:            r.URL,
			Snippet:        truncate(r.Content, model.MaxSnippetLen),
			RelevanceScore: r.Score,
		})
	}
	return sources
}
