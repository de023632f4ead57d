// Package websearch 封装了 Tavily 网络搜索 API。
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"qarag-go/internal/config"
)

// maxSearchResults 是 Tavily 单次搜索允许的最大结果数。
const maxSearchResults = 10

// Result 是一条网络搜索结果。Score 缺失时为 0.5，extract 结果固定为 1.0。
type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Client 是 Tavily API 的客户端，所有请求共享一个令牌桶限速器。
type Client struct {
	apiKey      string
	baseURL     string
	searchDepth string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewClient 创建 Tavily 客户端。
func NewClient(cfg config.WebSearchConfig) *Client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	depth := cfg.SearchDepth
	if depth == "" {
		depth = "advanced"
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		searchDepth: depth,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type searchRequest struct {
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Results []struct {
		Title   string   `json:"title"`
		URL     string   `json:"url"`
		Content string   `json:"content"`
		Score   *float64 `json:"score"`
	} `json:"results"`
}

// Search 执行网络搜索，最多返回 min(maxResults, 10) 条结果。
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}
	if maxResults <= 0 {
		return nil, nil
	}
	var resp searchResponse
	err := c.post(ctx, "/search", searchRequest{
		Query:         query,
		MaxResults:    maxResults,
		SearchDepth:   c.searchDepth,
		IncludeAnswer: false,
	}, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		score := 0.5
		if r.Score != nil {
			score = *r.Score
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content, Score: score})
	}
	return results, nil
}

type extractRequest struct {
	URLs []string `json:"urls"`
}

type extractResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
		Content    string `json:"content"`
	} `json:"results"`
}

// Extract 抓取指定 URL 的正文内容。
func (c *Client) Extract(ctx context.Context, urls []string) ([]Result, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	var resp extractResponse
	if err := c.post(ctx, "/extract", extractRequest{URLs: urls}, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := r.RawContent
		if content == "" {
			content = r.Content
		}
		results = append(results, Result{Title: r.URL, URL: r.URL, Content: content, Score: 1.0})
	}
	return results, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("tavily rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal tavily request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("tavily returned non-200 status: %s, body: %s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode tavily response: %w", err)
	}
	return nil
}
