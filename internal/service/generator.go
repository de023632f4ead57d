package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qarag-go/internal/config"
	"qarag-go/internal/model"
	"qarag-go/pkg/llm"
	"qarag-go/pkg/log"
)

// ApologyMessage 是模型调用失败时返回给用户的固定文本。
const ApologyMessage = "I apologize, but I encountered an error while generating a response. Please try again."

const generatorHistoryTurns = 5

const systemPrompt = `You are QARAG, an intelligent document assistant. You help users by answering questions based on uploaded documents and, when relevant, from web sources.

## Core Rules:

1. Document-First Retrieval:
   - Always ground your answers in the documents provided
   - Cite sources explicitly as [Source: filename] when using document content
   - Format responses in clean markdown

2. Response Formatting:
   - Use proper markdown: headers (##, ###), bullet points, numbered lists, **bold** for emphasis
   - Keep responses concise, structured, and actionable
   - NEVER use emojis in your responses
   - Do NOT expose internal system details like "no context provided" or "vector store"

3. Current/Fresh Questions:
   - If the question is about current events (today/latest/current news), prioritize web sources when they are available
   - Include explicit dates and days when asked

4. Empty State Behavior:
   - If no documents are available and user asks a document-specific question, respond:
     "No documents are uploaded to this chat yet. Upload a document to get context-aware answers, or ask me a general question."
   - For general questions without documents, answer helpfully using general knowledge

5. Source Attribution:
   - Every answer derived from documents must include source references
   - Format inline citations as: [Source: filename.pdf]
   - Group related information from the same source

6. When Context is Insufficient:
   - Clearly state what information is available and what isn't
   - Don't make up facts that aren't in the context
   - Suggest what the user could upload to get better answers

Remember: Be helpful, professional, and concise. Never use emojis.`

const (
	contextTemplate = `### Retrieved Context:
%s

### User Question:
%s

### Instructions:
- Answer based on the provided context above
- Cite sources inline when using information
- Use markdown formatting (headers, bullet points, bold for emphasis)
- If the context doesn't fully answer the question, say so clearly`

	documentsNoMatchTemplate = `### User Question:
%s

### Instructions:
- Documents are uploaded in this chat, but no strong text match was retrieved for this question
- Do NOT say that no documents are uploaded
- Ask a brief clarifying follow-up or offer to summarize the uploaded document
- If useful, provide a best-effort answer and clearly label uncertainty
- Use markdown formatting`

	generalTemplate = `### User Question:
%s

### Instructions:
- This is a general question with no uploaded documents
- Answer helpfully based on your general knowledge
- Use markdown formatting
- Be concise and helpful`
)

// GenerateInput 是生成回答所需的全部输入。History 不包含本轮的用户消息。
type GenerateInput struct {
	Query        string
	Internal     []model.Source
	Web          []model.Source
	History      []model.ChatMessage
	HasDocuments bool
}

// Generator 基于来源与历史构造提示词并调用大模型生成回答。
type Generator struct {
	llmClient llm.Client
	params    *llm.GenerationParams
}

// NewGenerator 创建 Generator，生成参数取自配置（默认 temperature 0.7、max_tokens 4096）。
func NewGenerator(llmClient llm.Client, cfg config.LLMGenerationConfig) *Generator {
	return &Generator{
		llmClient: llmClient,
		params: &llm.GenerationParams{
			Temperature: llm.Float64(cfg.Temperature),
			TopP:        llm.Float64(cfg.TopP),
			MaxTokens:   llm.Int(cfg.MaxTokens),
		},
	}
}

// Generate 返回完整回答。模型调用失败时返回 ApologyMessage。
func (g *Generator) Generate(ctx context.Context, in GenerateInput) string {
	answer, err := g.llmClient.Complete(ctx, BuildMessages(in), g.params)
	if err != nil {
		log.Errorf("[Generator] 生成回答失败: %v", err)
		return ApologyMessage
	}
	return answer
}

// Stream 把增量文本写入 sink，并返回拼接后的完整回答。
// 在产生任何文本前模型失败时，ApologyMessage 作为唯一的文本写入 sink。
// 只有 ctx 结束或 sink 写入失败时返回错误。
func (g *Generator) Stream(ctx context.Context, in GenerateInput, sink func(string) error) (string, error) {
	var (
		sb      strings.Builder
		sinkErr error
	)
	err := g.llmClient.StreamChatMessages(ctx, BuildMessages(in), g.params, llm.TokenWriterFunc(func(token string) error {
		sb.WriteString(token)
		if err := sink(token); err != nil {
			sinkErr = err
			return err
		}
		return nil
	}))
	if err == nil {
		return sb.String(), nil
	}
	if sinkErr != nil {
		return sb.String(), sinkErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return sb.String(), ctxErr
	}

	log.Errorf("[Generator] 流式生成失败: %v", err)
	if sb.Len() > 0 {
		return sb.String(), nil
	}
	if err := sink(ApologyMessage); err != nil {
		return ApologyMessage, err
	}
	return ApologyMessage, nil
}

// BuildMessages 构造发送给模型的消息：system 提示词、最近 5 条历史、本轮用户消息。
func BuildMessages(in GenerateInput) []llm.Message {
	messages := []llm.Message{{Role: model.RoleSystem, Content: systemPrompt}}
	for _, m := range lastN(in.History, generatorHistoryTurns) {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: model.RoleUser, Content: buildUserMessage(in)})
	return messages
}

func buildUserMessage(in GenerateInput) string {
	if contextText, ok := buildContext(in.Internal, in.Web); ok {
		return fmt.Sprintf(contextTemplate, contextText, in.Query)
	}
	if in.HasDocuments {
		return fmt.Sprintf(documentsNoMatchTemplate, in.Query)
	}
	return fmt.Sprintf(generalTemplate, in.Query)
}

func buildContext(internal, web []model.Source) (string, bool) {
	var parts []string
	hasContext := false

	var docs []model.Source
	for _, s := range internal {
		if s.RelevanceScore >= internalThreshold {
			docs = append(docs, s)
		}
	}
	if len(docs) > 0 {
		hasContext = true
		parts = append(parts, "## Documents:\n")
		for _, s := range docs {
			name := s.DocumentName
			if name == "" {
				name = "Unknown Document"
			}
			parts = append(parts, fmt.Sprintf("### [%s] (Relevance: %d%%)", name, int(s.RelevanceScore*100)), s.Snippet, "")
		}
	}

	if len(web) > 0 {
		hasContext = true
		parts = append(parts, "\n## Web Sources:\n")
		for _, s := range web {
			label := s.URL
			if label == "" {
				label = s.DocumentName
			}
			if label == "" {
				label = "Web Source"
			}
			parts = append(parts, fmt.Sprintf("### [%s]", label), s.Snippet, "")
		}
	}
	return strings.Join(parts, "\n"), hasContext
}

// isCanceled 判断错误是否由客户端断开引起。
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
