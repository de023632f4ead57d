package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrInvalidURL 表示 URL 缺少 scheme 或 host。
	ErrInvalidURL = errors.New("invalid URL format")
	// ErrFetchFailed 表示抓取网页失败（网络错误或非 2xx 响应）。
	ErrFetchFailed = errors.New("failed to fetch URL")
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Fetcher 下载网页原文。
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher 创建 Fetcher，maxBytes <= 0 表示不限制响应大小。
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// ValidateURL 检查 URL 同时具有 scheme 与 host。
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return nil
}

// Fetch 以浏览器 User-Agent 请求 rawURL 并返回响应体。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetchFailed, rawURL, resp.Status)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: page exceeds size limit (%d bytes)", ErrFetchFailed, f.maxBytes)
	}
	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		// 多读一个字节，用来判断是否超限
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: page exceeds size limit (%d bytes)", ErrFetchFailed, f.maxBytes)
	}
	return data, nil
}
