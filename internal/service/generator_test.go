package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qarag-go/internal/config"
	"qarag-go/internal/model"
)

var testGeneration = config.LLMGenerationConfig{Temperature: 0.7, TopP: 1, MaxTokens: 4096}

func TestBuildMessages_Branches(t *testing.T) {
	doc := internalSource("report", 0.9)
	doc.Snippet = "Revenue grew 12%."
	weak := internalSource("weak", 0.3)
	weak.Snippet = "unrelated"
	web := webSource("https://news.example.com", 0.8)
	web.Snippet = "Markets closed higher."

	tests := []struct {
		name        string
		in          GenerateInput
		contains    []string
		notContains []string
	}{
		{
			name: "有检索上下文",
			in:   GenerateInput{Query: "How did revenue change?", Internal: []model.Source{doc, weak}, Web: []model.Source{web}, HasDocuments: true},
			contains: []string{
				"### Retrieved Context:",
				"## Documents:",
				"### [report.pdf] (Relevance: 90%)\nRevenue grew 12%.",
				"## Web Sources:",
				"### [https://news.example.com]\nMarkets closed higher.",
				"### User Question:\nHow did revenue change?",
			},
			notContains: []string{"unrelated"},
		},
		{
			name:     "有文档但没有强匹配",
			in:       GenerateInput{Query: "What about churn?", Internal: []model.Source{weak}, HasDocuments: true},
			contains: []string{"### User Question:\nWhat about churn?", "Do NOT say that no documents are uploaded"},
			notContains: []string{
				"### Retrieved Context:",
			},
		},
		{
			name:        "一般问题",
			in:          GenerateInput{Query: "What is a goroutine?"},
			contains:    []string{"This is a general question with no uploaded documents"},
			notContains: []string{"### Retrieved Context:", "Do NOT say"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := BuildMessages(tt.in)
			require.Len(t, msgs, 2)
			assert.Equal(t, model.RoleSystem, msgs[0].Role)
			assert.Equal(t, systemPrompt, msgs[0].Content)
			assert.Equal(t, model.RoleUser, msgs[1].Role)
			for _, s := range tt.contains {
				assert.Contains(t, msgs[1].Content, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, msgs[1].Content, s)
			}
		})
	}
}

func TestBuildMessages_KeepsLastFiveHistoryMessages(t *testing.T) {
	var history []model.ChatMessage
	for i := 0; i < 7; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		history = append(history, model.ChatMessage{Role: role, Content: fmt.Sprintf("m%d", i)})
	}

	msgs := BuildMessages(GenerateInput{Query: "next", History: history})
	require.Len(t, msgs, 7)
	assert.Equal(t, "m2", msgs[1].Content)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
	assert.Equal(t, "m6", msgs[5].Content)
}

func TestGenerator_Generate(t *testing.T) {
	t.Run("返回模型回答", func(t *testing.T) {
		fake := &fakeLLM{answer: "A goroutine is a lightweight thread."}
		g := NewGenerator(fake, testGeneration)
		assert.Equal(t, "A goroutine is a lightweight thread.", g.Generate(context.Background(), GenerateInput{Query: "q"}))
		assert.Equal(t, 0.7, *fake.params[0].Temperature)
		assert.Equal(t, 4096, *fake.params[0].MaxTokens)
	})
	t.Run("模型出错返回致歉", func(t *testing.T) {
		g := NewGenerator(&fakeLLM{completeErr: errors.New("503")}, testGeneration)
		assert.Equal(t, ApologyMessage, g.Generate(context.Background(), GenerateInput{Query: "q"}))
	})
}

func TestGenerator_Stream(t *testing.T) {
	tests := []struct {
		name       string
		llm        *fakeLLM
		wantAnswer string
		wantTokens []string
	}{
		{
			name:       "正常拼接",
			llm:        &fakeLLM{tokens: []string{"Hel", "lo", "!"}},
			wantAnswer: "Hello!",
			wantTokens: []string{"Hel", "lo", "!"},
		},
		{
			name:       "开始前失败只发送致歉",
			llm:        &fakeLLM{streamErr: errors.New("boom")},
			wantAnswer: ApologyMessage,
			wantTokens: []string{ApologyMessage},
		},
		{
			name:       "中途失败保留已生成内容",
			llm:        &fakeLLM{tokens: []string{"Partial"}, streamErr: errors.New("reset by peer")},
			wantAnswer: "Partial",
			wantTokens: []string{"Partial"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			answer, err := NewGenerator(tt.llm, testGeneration).Stream(context.Background(), GenerateInput{Query: "q"}, func(tok string) error {
				got = append(got, tok)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAnswer, answer)
			assert.Equal(t, tt.wantTokens, got)
		})
	}
}

func TestGenerator_StreamStopsOnSinkError(t *testing.T) {
	sinkErr := errors.New("client gone")
	fake := &fakeLLM{tokens: []string{"a", "b", "c"}}
	calls := 0
	_, err := NewGenerator(fake, testGeneration).Stream(context.Background(), GenerateInput{Query: "q"}, func(string) error {
		calls++
		return sinkErr
	})
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, calls)
}

func TestGenerator_StreamCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(&fakeLLM{tokens: []string{"a"}}, testGeneration).Stream(ctx, GenerateInput{Query: "q"}, func(string) error {
		return nil
	})
	assert.True(t, isCanceled(err))
}
