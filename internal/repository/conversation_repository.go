package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"qarag-go/internal/model"
)

// ErrConversationNotFound 表示会话不存在。
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository 定义了会话线程的操作接口。
// 会话只存在于进程生命周期内，不同 ID 之间互不可见。
type ConversationRepository interface {
	// GetOrCreate 返回会话 ID；id 为空时生成新的 ID，未知 ID 会被创建。
	GetOrCreate(ctx context.Context, id string) (string, error)
	Append(ctx context.Context, id string, msg model.ChatMessage) error
	// History 返回消息序列的副本。
	History(ctx context.Context, id string) ([]model.ChatMessage, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	List(ctx context.Context) ([]model.ConversationSummary, error)
	Delete(ctx context.Context, id string) error
	Clear()
}

type memoryConversationRepository struct {
	mu      sync.RWMutex
	threads map[string]*model.Conversation
}

// NewConversationRepository 创建一个基于内存的 ConversationRepository。
func NewConversationRepository() ConversationRepository {
	return &memoryConversationRepository{threads: make(map[string]*model.Conversation)}
}

func (r *memoryConversationRepository) GetOrCreate(_ context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; !ok {
		now := time.Now()
		r.threads[id] = &model.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
	}
	return id, nil
}

func (r *memoryConversationRepository) Append(_ context.Context, id string, msg model.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.threads[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = msg.Timestamp
	return nil
}

func (r *memoryConversationRepository) History(_ context.Context, id string) ([]model.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.threads[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := make([]model.ChatMessage, len(conv.Messages))
	copy(out, conv.Messages)
	return out, nil
}

func (r *memoryConversationRepository) Get(_ context.Context, id string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.threads[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	cp := *conv
	cp.Messages = make([]model.ChatMessage, len(conv.Messages))
	copy(cp.Messages, conv.Messages)
	return &cp, nil
}

func (r *memoryConversationRepository) List(_ context.Context) ([]model.ConversationSummary, error) {
	r.mu.RLock()
	out := make([]model.ConversationSummary, 0, len(r.threads))
	for _, conv := range r.threads {
		s := model.ConversationSummary{
			ID:           conv.ID,
			MessageCount: len(conv.Messages),
			UpdatedAt:    conv.UpdatedAt,
		}
		if n := len(conv.Messages); n > 0 {
			s.LastMessage = conv.Messages[n-1].Content
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	// 最近更新的在前
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *memoryConversationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; !ok {
		return ErrConversationNotFound
	}
	delete(r.threads, id)
	return nil
}

func (r *memoryConversationRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = make(map[string]*model.Conversation)
}
