package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"qarag-go/pkg/log"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck 检查一个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// HealthHandler 返回服务及其依赖的状态。
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	now     func() time.Time
}

// NewHealthHandler 创建 HealthHandler，checks 的 key 作为依赖名称出现在响应中。
func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{version: version, checks: checks, now: time.Now}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Check 依次执行所有检查；任一依赖不可用时返回 503 和 status=degraded。
func (h *HealthHandler) Check(c *gin.Context) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: h.now().UTC(),
		Services:  map[string]string{"api": "running"},
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			log.Warnf("[HealthHandler] 依赖不可用, service: %s, error: %v", name, err)
			resp.Services[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Services[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
