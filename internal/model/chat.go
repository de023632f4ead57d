package model

import "time"

// ChatRequest 是聊天接口的请求体。
// DocIDs 为 nil 表示未指定范围；非 nil 的空切片表示"本会话没有文档"。
type ChatRequest struct {
	Message            string   `json:"message" binding:"required,min=1,max=4000"`
	ConversationID     string   `json:"conversation_id"`
	MaxInternalSources *int     `json:"max_internal_sources" binding:"omitempty,min=0,max=50"`
	MaxWebSources      *int     `json:"max_web_sources" binding:"omitempty,min=0,max=10"`
	ForceWebSearch     bool     `json:"force_web_search"`
	DocIDs             []string `json:"doc_ids"`
}

// ChatResponse 是非流式聊天接口的响应。
type ChatResponse struct {
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	ConversationID   string   `json:"conversation_id"`
	ConfidenceScore  float64  `json:"confidence_score"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// 流式事件类型，按 metadata → sources → token* → done 的顺序发送；失败时以 error 结束。
const (
	EventMetadata = "metadata"
	EventSources  = "sources"
	EventToken    = "token"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent 是流式聊天中的一个事件。
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type MetadataEvent struct {
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type SourcesEvent struct {
	Sources       []Source `json:"sources"`
	InternalCount int      `json:"internal_count"`
	WebCount      int      `json:"web_count"`
}

type TokenEvent struct {
	Content string `json:"content"`
}

// TokenUsage 是按字符数粗略估计的 token 用量。
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type DoneEvent struct {
	Answer           string     `json:"answer"`
	ConversationID   string     `json:"conversation_id"`
	ConfidenceScore  float64    `json:"confidence_score"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	Usage            TokenUsage `json:"usage"`
}

type ErrorEvent struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}
