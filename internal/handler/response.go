// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"qarag-go/internal/service"
	"qarag-go/pkg/log"
	"qarag-go/pkg/tasks"
)

// respond 以统一的 {code, message, data} 结构返回。
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// respondError 把业务错误映射为 HTTP 状态码，未知错误统一返回 500 且不暴露细节。
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyFile), errors.Is(err, service.ErrInvalidURL):
		respond(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrFileTooLarge):
		respond(c, http.StatusRequestEntityTooLarge, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		respond(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, tasks.ErrQueueFull):
		respond(c, http.StatusServiceUnavailable, "ingestion queue is full, retry later", nil)
	default:
		log.Errorf("[Handler] 请求处理失败, method: %s, path: %s, error: %v", c.Request.Method, c.Request.URL.Path, err)
		respond(c, http.StatusInternalServerError, "internal server error", nil)
	}
}
