package handler

import "github.com/gin-gonic/gin"

// Handlers 汇总所有路由用到的处理器。
type Handlers struct {
	Health        *HealthHandler
	Documents     *DocumentHandler
	Chat          *ChatHandler
	Conversations *ConversationHandler
	Search        *SearchHandler
}

// RegisterRoutes 注册 /health 与 /api/v1 下的全部路由。
func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.GET("/health", h.Health.Check)

	apiV1 := r.Group("/api/v1")
	{
		// Document 路由组
		documents := apiV1.Group("/documents")
		{
			documents.POST("/upload", h.Documents.Upload)
			documents.POST("/url", h.Documents.AddURL)
			documents.GET("", h.Documents.List)
			documents.GET("/stats/overview", h.Documents.Stats)
			documents.GET("/:id", h.Documents.Get)
			documents.DELETE("/:id", h.Documents.Delete)
		}

		// Search 路由
		apiV1.GET("/search", h.Search.Search)

		// Chat 路由组：JSON、SSE 与 WebSocket
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.POST("", h.Chat.Chat)
			chatGroup.POST("/stream", h.Chat.Stream)
			chatGroup.GET("/ws", h.Chat.WebSocket)

			conversations := chatGroup.Group("/conversations")
			{
				conversations.GET("", h.Conversations.List)
				conversations.GET("/:id", h.Conversations.Get)
				conversations.DELETE("/:id", h.Conversations.Delete)
			}
		}
	}
}
