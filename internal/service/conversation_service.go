package service

import (
	"context"
	"errors"

	"qarag-go/internal/model"
	"qarag-go/internal/repository"
)

// ConversationService 定义了会话查询与删除的接口。
type ConversationService interface {
	List(ctx context.Context) ([]model.ConversationSummary, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	Delete(ctx context.Context, id string) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

func (s *conversationService) List(ctx context.Context) ([]model.ConversationSummary, error) {
	return s.repo.List(ctx)
}

func (s *conversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrConversationNotFound) {
		return nil, ErrNotFound
	}
	return conv, err
}

func (s *conversationService) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrConversationNotFound) {
		return ErrNotFound
	}
	return err
}
