// Package llm provides a client for interacting with Large Language Models
// through any OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"qarag-go/internal/config"
)

// ErrEmptyResponse 表示模型没有返回任何候选结果。
var ErrEmptyResponse = errors.New("llm returned no choices")

// TokenWriter 接收流式生成的增量文本。
type TokenWriter interface {
	WriteToken(content string) error
}

// TokenWriterFunc 让普通函数实现 TokenWriter。
type TokenWriterFunc func(content string) error

func (f TokenWriterFunc) WriteToken(content string) error { return f(content) }

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以非流式方式返回完整回答。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// StreamChatMessages 以 role-based 消息与可选生成参数调用聊天接口，并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer TokenWriter) error
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置中的默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Float64 / Int 用于构造 GenerationParams 中的指针字段。
func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }

type openaiClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openaiClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (c *openaiClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, gen, false))
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openaiClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer TokenWriter) error {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(messages, gen, true))
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := writer.WriteToken(content); err != nil {
			return fmt.Errorf("failed to write token: %w", err)
		}
	}
}

func (c *openaiClient) buildRequest(messages []Message, gen *GenerationParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   stream,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	// 传参优先生效，否则使用全局配置
	temperature := c.cfg.Generation.Temperature
	topP := c.cfg.Generation.TopP
	maxTokens := c.cfg.Generation.MaxTokens
	if gen != nil {
		if gen.Temperature != nil {
			temperature = *gen.Temperature
		}
		if gen.TopP != nil {
			topP = *gen.TopP
		}
		if gen.MaxTokens != nil {
			maxTokens = *gen.MaxTokens
		}
	}
	req.Temperature = toTemperature(temperature)
	req.TopP = float32(topP)
	req.MaxTokens = maxTokens
	return req
}

// go-openai 会省略值为 0 的 temperature，用最小正数表达确定性输出。
func toTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
