package model

import "time"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage 代表会话中的单条消息。
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 是一个会话线程及其完整消息序列。
type Conversation struct {
	ID        string        `json:"conversation_id"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ConversationSummary 是会话列表中的一项。
type ConversationSummary struct {
	ID           string    `json:"conversation_id"`
	MessageCount int       `json:"message_count"`
	LastMessage  string    `json:"last_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
