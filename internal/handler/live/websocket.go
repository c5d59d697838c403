package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
	chatservice "github.com/zhouzirui/knowledge-portal/backend/internal/service/chat"
	"github.com/zhouzirui/knowledge-portal/backend/internal/service/rag"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Inbound and outbound message types.
const (
	TypeAsk            = "ask"
	TypeSendAttachment = "sendAttachment"
	TypeReset          = "reset"
	TypeDismiss        = "dismiss"
	TypeSync           = "sync"

	TypeConnected = "connected"
	TypeState     = "state"
	TypeDone      = "done"
	TypeError     = "error"
)

// WebSocketHandler 推送会话状态的WebSocket处理器
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	orch     *rag.Orchestrator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatservice.Service, orch *rag.Orchestrator, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		orch:    orch,
		logger:  logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

// InboundMessage is a client command.
type InboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// AskMessage 提问
type AskMessage struct {
	Question string `json:"question"`
}

// OutgoingMessage is a server push.
type OutgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	logger    *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func (c *connection) send(msgType string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := OutgoingMessage{Type: msgType, SessionID: c.sessionID, Data: data, Timestamp: time.Now().Unix()}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (c *connection) sendError(message string) {
	c.send(TypeError, map[string]string{"message": message})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ws, err := h.chatSvc.Workspace(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("websocket connected", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	c := &connection{conn: conn, sessionID: sessionID, logger: h.logger}
	defer func() {
		cancel()
		c.wg.Wait()
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pingLoop(ctx, conn)
	}()

	c.send(TypeConnected, ws.Snapshot())

	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}
		h.handleMessage(ctx, c, ws, &msg)
	}
}

// handleMessage 问答在后台执行，读循环保持响应
func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, ws *chatservice.Workspace, msg *InboundMessage) {
	progress := rag.WithProgress(func(snap chatservice.Snapshot) {
		c.send(TypeState, snap)
	})

	switch msg.Type {
	case TypeAsk:
		var ask AskMessage
		if err := json.Unmarshal(msg.Data, &ask); err != nil {
			c.sendError("invalid ask payload")
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			res, err := h.orch.Ask(ctx, ws, ask.Question, progress)
			if err != nil {
				c.sendError(err.Error())
				return
			}
			c.send(TypeDone, res)
		}()
	case TypeSendAttachment:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			res, err := h.orch.SendAttachment(ctx, ws, progress)
			if err != nil {
				c.sendError(err.Error())
				c.send(TypeState, ws.Snapshot())
				return
			}
			c.send(TypeDone, res)
		}()
	case TypeReset:
		if err := ws.Reset(); err != nil {
			c.sendError(err.Error())
			return
		}
		c.send(TypeState, ws.Snapshot())
	case TypeDismiss:
		ws.ClearError()
		c.send(TypeState, ws.Snapshot())
	case TypeSync:
		c.send(TypeState, ws.Snapshot())
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
