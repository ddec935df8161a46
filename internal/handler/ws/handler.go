package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/neurosync-os/backend/internal/service/dispatch"
	"github.com/neurosync-os/backend/pkg/logger"
)

const (
	defaultReadTimeout = 60 * time.Second
	pingInterval       = 54 * time.Second
	writeTimeout       = 10 * time.Second
)

// Dispatcher runs a single turn.
type Dispatcher interface {
	HandleTurn(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Handler WebSocket对话处理器
type Handler struct {
	dispatcher  Dispatcher
	upgrader    websocket.Upgrader
	readTimeout time.Duration
	logger      *zap.Logger
}

// New 创建WebSocket处理器
func New(dispatcher Dispatcher, log *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: defaultReadTimeout,
		logger:      logger.OrNop(log).Named("websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TurnMessage 文本轮次消息
type TurnMessage struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type stagePayload struct {
	Stage       dispatch.Stage     `json:"stage"`
	Intent      string             `json:"intent,omitempty"`
	Confidence  float64            `json:"confidence,omitempty"`
	HandlerID   string             `json:"handlerId,omitempty"`
	HandlerName string             `json:"handlerName,omitempty"`
	Failure     dispatch.ErrorKind `json:"failure,omitempty"`
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	mu        sync.Mutex
	logger    *zap.Logger
}

func (c *conn) send(msgType string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{Type: msgType, SessionID: c.sessionID, Data: data, Timestamp: time.Now().Unix()}
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (c *conn) sendError(message string) {
	c.send("error", map[string]string{"message": message})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer wsConn.Close()

	log := h.logger.With(zap.String("session_id", sessionID))
	log.Info("connection opened")
	c := &conn{ws: wsConn, sessionID: sessionID, logger: log}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go pingLoop(ctx, wsConn)

	c.send("connected", map[string]any{"sessionId": sessionID})

	for {
		var msg inboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", zap.Error(err))
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}

		switch msg.Type {
		case "turn":
			// pongs are not read while a turn runs
			_ = wsConn.SetReadDeadline(time.Time{})
			h.handleTurnMessage(ctx, c, msg.Data)
			_ = wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))
		default:
			c.sendError("unsupported message type: " + msg.Type)
		}
	}
}

func (h *Handler) handleTurnMessage(ctx context.Context, c *conn, raw json.RawMessage) {
	var turn TurnMessage
	if err := json.Unmarshal(raw, &turn); err != nil {
		c.sendError("invalid turn payload")
		return
	}
	if strings.TrimSpace(turn.Text) == "" {
		c.sendError("text is required")
		return
	}

	res, err := h.dispatcher.HandleTurn(ctx, dispatch.Request{
		SessionID: c.sessionID,
		Utterance: turn.Text,
		RequestID: turn.RequestID,
		Observer: func(ev dispatch.StageEvent) {
			c.send("stage", stagePayload{
				Stage:       ev.Stage,
				Intent:      string(ev.Intent),
				Confidence:  ev.Confidence,
				HandlerID:   ev.HandlerID,
				HandlerName: ev.HandlerName,
				Failure:     ev.Failure,
			})
		},
	})
	if err != nil {
		c.logger.Warn("turn failed", zap.Error(err))
		c.sendError(string(dispatch.KindOf(err)))
		return
	}
	c.send("result", res)
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
