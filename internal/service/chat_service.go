package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"qarag-go/internal/config"
	"qarag-go/internal/model"
	"qarag-go/internal/repository"
	"qarag-go/pkg/log"
)

// streamErrorMessage 是流式接口 error 事件中返回给客户端的通用错误信息。
const streamErrorMessage = "Error processing query"

// EmitFunc 向客户端发送一个流式事件。
type EmitFunc func(event string, data interface{}) error

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Chat 执行一轮非流式对话。DocIDs 为 nil 时在全部文档中检索。
	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	// StreamChat 以 metadata → sources → token* → done 的顺序发送事件，失败时以 error 事件结束。
	// DocIDs 为 nil 时视为空范围。返回的错误只表示事件没有送达客户端。
	StreamChat(ctx context.Context, req model.ChatRequest, emit EmitFunc) error
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	aggregator       *Aggregator
	generator        *Generator
	defaults         config.ChatConfig
	now              func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(conversationRepo repository.ConversationRepository, aggregator *Aggregator, generator *Generator, defaults config.ChatConfig) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		aggregator:       aggregator,
		generator:        generator,
		defaults:         defaults,
		now:              time.Now,
	}
}

// turn 是一轮对话在生成回答之前的准备结果。
type turn struct {
	gathered *Gathered
	input    GenerateInput
}

func (s *chatService) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	start := s.now()
	convID, err := s.conversationRepo.GetOrCreate(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	log.Infof("[ChatService] 开始处理对话, conversation_id: %s, doc_ids: %v", convID, req.DocIDs)

	t, err := s.prepare(ctx, convID, req, ScopeOf(req.DocIDs))
	if err != nil {
		return nil, err
	}

	answer := s.generator.Generate(ctx, t.input)
	s.appendMessage(ctx, convID, model.RoleAssistant, answer)

	return &model.ChatResponse{
		Answer:           answer,
		Sources:          t.gathered.Sources,
		ConversationID:   convID,
		ConfidenceScore:  Confidence(t.gathered.Sources),
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
	}, nil
}

func (s *chatService) StreamChat(ctx context.Context, req model.ChatRequest, emit EmitFunc) error {
	start := s.now()
	// 流式接口强制按会话限定文档范围：未指定 doc_ids 等同于本会话没有文档
	scope := ScopeOf(req.DocIDs)
	if !scope.Scoped {
		scope = DocScope{DocIDs: []string{}, Scoped: true}
	}

	convID, err := s.conversationRepo.GetOrCreate(ctx, req.ConversationID)
	if err != nil {
		return emit(model.EventError, model.ErrorEvent{Message: streamErrorMessage})
	}

	// 1. 元数据
	if err := emit(model.EventMetadata, model.MetadataEvent{ConversationID: convID, Timestamp: s.now().UTC()}); err != nil {
		return err
	}

	// 2. 收集来源
	t, err := s.prepare(ctx, convID, req, scope)
	if err != nil {
		log.Errorf("[ChatService] 流式对话处理失败, conversation_id: %s, error: %v", convID, err)
		return emit(model.EventError, model.ErrorEvent{Message: streamErrorMessage, ConversationID: convID})
	}
	if err := emit(model.EventSources, model.SourcesEvent{
		Sources:       t.gathered.Sources,
		InternalCount: len(t.gathered.Internal),
		WebCount:      len(t.gathered.Web),
	}); err != nil {
		return err
	}

	// 3. 流式生成
	answer, err := s.generator.Stream(ctx, t.input, func(token string) error {
		return emit(model.EventToken, model.TokenEvent{Content: token})
	})
	if err != nil {
		if isCanceled(err) {
			log.Infof("[ChatService] 客户端已断开, 放弃保存本轮回答, conversation_id: %s", convID)
		}
		return err
	}

	// 4. 保存回答并发送 done
	s.appendMessage(ctx, convID, model.RoleAssistant, answer)
	return emit(model.EventDone, model.DoneEvent{
		Answer:           answer,
		ConversationID:   convID,
		ConfidenceScore:  Confidence(t.gathered.Sources),
		ProcessingTimeMs: s.now().Sub(start).Milliseconds(),
		Usage:            EstimateUsage(req.Message, t.gathered.Sources, answer),
	})
}

// prepare 读取历史、追加用户消息并收集来源。交给规划与生成的历史不包含本轮用户消息。
func (s *chatService) prepare(ctx context.Context, convID string, req model.ChatRequest, scope DocScope) (*turn, error) {
	history, err := s.conversationRepo.History(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := s.conversationRepo.Append(ctx, convID, model.ChatMessage{
		Role:      model.RoleUser,
		Content:   req.Message,
		Timestamp: s.now(),
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	gatherReq := GatherRequest{
		Message:     req.Message,
		History:     history,
		Scope:       scope,
		MaxInternal: intOr(req.MaxInternalSources, s.defaults.MaxInternalSources),
		MaxWeb:      intOr(req.MaxWebSources, s.defaults.MaxWebSources),
		ForceWeb:    req.ForceWebSearch,
	}
	gathered, err := s.aggregator.Gather(ctx, gatherReq)
	if err != nil {
		return nil, err
	}

	return &turn{
		gathered: gathered,
		input: GenerateInput{
			Query:        req.Message,
			Internal:     gathered.Internal,
			Web:          gathered.Web,
			History:      history,
			HasDocuments: gatherReq.HasDocuments(),
		},
	}, nil
}

func (s *chatService) appendMessage(ctx context.Context, convID, role, content string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := s.conversationRepo.Append(ctx, convID, model.ChatMessage{Role: role, Content: content, Timestamp: s.now()}); err != nil {
		// 会话可能在生成期间被删除
		log.Warnf("[ChatService] 保存消息失败, conversation_id: %s, error: %v", convID, err)
	}
}

// EstimateUsage 按约 4 个字符一个 token 估算用量。
func EstimateUsage(message string, sources []model.Source, answer string) model.TokenUsage {
	snippetChars := 0
	for _, s := range sources {
		snippetChars += utf8.RuneCountInString(s.Snippet)
	}
	prompt := utf8.RuneCountInString(message)/4 + snippetChars/4
	completion := utf8.RuneCountInString(answer) / 4
	return model.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}
