package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qarag-go/internal/service"
)

// ConversationHandler 处理与对话相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// List 返回所有会话的概要。
func (h *ConversationHandler) List(c *gin.Context) {
	summaries, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", summaries)
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", conv)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Conversation deleted successfully", gin.H{"conversation_id": id})
}
