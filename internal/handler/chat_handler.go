package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"qarag-go/internal/model"
	"qarag-go/internal/service"
	"qarag-go/pkg/log"
)

// eventStopped 是 websocket 客户端发送停止指令后的确认事件。
const eventStopped = "stopped"

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理聊天请求：普通 JSON、SSE 与 WebSocket。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理非流式聊天请求。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", resp)
}

// Stream 以 Server-Sent Events 返回聊天事件。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	err := h.chatService.StreamChat(ctx, req, func(event string, data interface{}) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.SSEvent(event, data)
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		log.Warnf("[ChatHandler] SSE 流结束: %v", err)
	}
}

// WebSocket 在一个连接上处理多轮对话，每个事件以 {"type","data"} JSON 帧发送。
// 客户端发送 {"type":"stop"} 可以中断正在生成的回答。
func (h *ChatHandler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, remote: %s", conn.RemoteAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &wsSession{conn: conn}
	requests := make(chan model.ChatRequest, 1)
	go session.readLoop(requests, cancel)

	for req := range requests {
		turnCtx := session.begin(ctx)
		err := h.chatService.StreamChat(turnCtx, req, session.emit)
		stopped := session.end()
		if stopped {
			log.Infof("[ChatHandler] 客户端停止了本轮回答")
			continue
		}
		if err != nil {
			log.Warnf("[ChatHandler] WebSocket 发送失败, 关闭连接: %v", err)
			return
		}
	}
	log.Infof("[ChatHandler] WebSocket 连接已关闭, remote: %s", conn.RemoteAddr())
}

// wsInbound 是客户端发来的一帧：聊天请求，或 type=stop 的停止指令。
type wsInbound struct {
	Type string `json:"type"`
	model.ChatRequest
}

// wsSession 保存一个连接的写锁与当前轮次的取消函数。
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

func (s *wsSession) emit(event string, data interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(model.StreamEvent{Type: event, Data: data})
}

func (s *wsSession) begin(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.stopped = false
	s.mu.Unlock()
	return ctx
}

// end 结束当前轮次，返回本轮是否被客户端停止。
func (s *wsSession) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	stopped := s.stopped
	s.stopped = false
	return stopped
}

// stop 取消正在进行的轮次，没有进行中的轮次时返回 false。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.stopped = true
	s.cancel()
	return true
}

// readLoop 读取客户端消息直到连接断开。停止指令立即生效；聊天请求排队交给主循环。
func (s *wsSession) readLoop(requests chan<- model.ChatRequest, cancelConn context.CancelFunc) {
	defer close(requests)
	defer cancelConn()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var in wsInbound
		if err := json.Unmarshal(message, &in); err != nil {
			_ = s.emit(model.EventError, model.ErrorEvent{Message: "invalid JSON message"})
			continue
		}
		if in.Type == "stop" {
			if s.stop() {
				_ = s.emit(eventStopped, gin.H{"message": "response stopped"})
			}
			continue
		}
		if err := binding.Validator.ValidateStruct(&in.ChatRequest); err != nil {
			_ = s.emit(model.EventError, model.ErrorEvent{Message: err.Error(), ConversationID: in.ConversationID})
			continue
		}

		select {
		case requests <- in.ChatRequest:
		default:
			_ = s.emit(model.EventError, model.ErrorEvent{
				Message:        "a response is already in progress",
				ConversationID: in.ConversationID,
			})
		}
	}
}
