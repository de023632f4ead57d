// Package extractor 把上传文件的原始字节转换为纯文本。
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"qarag-go/internal/model"
	"qarag-go/pkg/log"
)

var (
	// ErrUnsupportedFormat 表示该类型没有可用的提取器。
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrEmptyContent 表示提取结果为空或只有空白。
	ErrEmptyContent = errors.New("no text content could be extracted")
)

// FallbackParser 是原生解析失败时使用的外部解析服务，例如 Tika。
type FallbackParser interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Extractor 按文档类型分发到具体的提取实现，本身无状态。
type Extractor struct {
	fallback FallbackParser
}

// Option 配置 Extractor。
type Option func(*Extractor)

// WithFallback 设置 PDF/DOCX 原生解析失败或无文本时的后备解析器。
func WithFallback(p FallbackParser) Option {
	return func(e *Extractor) {
		e.fallback = p
	}
}

// New 创建一个 Extractor。
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectType 根据文件扩展名（不区分大小写）判断文档类型，未知扩展名按纯文本处理。
func DetectType(filename string) model.DocType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return model.DocTypePDF
	case ".docx", ".doc":
		return model.DocTypeDOCX
	case ".md", ".markdown":
		return model.DocTypeMarkdown
	case ".html", ".htm":
		return model.DocTypeHTML
	default:
		return model.DocTypeText
	}
}

// Extract 提取 data 中的文本。返回 ErrUnsupportedFormat 或 ErrEmptyContent 时不应重试。
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string, docType model.DocType) (string, error) {
	var (
		text string
		err  error
	)
	switch docType {
	case model.DocTypePDF:
		text, err = e.withFallback(ctx, data, filename, extractPDF)
	case model.DocTypeDOCX:
		text, err = e.withFallback(ctx, data, filename, extractDOCX)
	case model.DocTypeMarkdown, model.DocTypeText:
		text = DecodeText(data)
	case model.DocTypeHTML:
		text, err = ExtractHTML(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, docType)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}
	return text, nil
}

func (e *Extractor) withFallback(ctx context.Context, data []byte, filename string, native func([]byte) (string, error)) (string, error) {
	text, err := native(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if e.fallback == nil {
		return text, err
	}

	log.Warnf("[Extractor] 原生解析失败或无文本, 改用后备解析器, file: %s, err: %v", filename, err)
	fbText, fbErr := e.fallback.ExtractText(ctx, bytes.NewReader(data), filename)
	if fbErr != nil {
		if err != nil {
			return "", fmt.Errorf("%v; fallback: %w", err, fbErr)
		}
		return "", fmt.Errorf("fallback parser: %w", fbErr)
	}
	return fbText, nil
}
