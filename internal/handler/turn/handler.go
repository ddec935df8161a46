package turn

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/neurosync-os/backend/internal/service/dispatch"
	"github.com/neurosync-os/backend/pkg/logger"
	"github.com/neurosync-os/backend/pkg/utils"
)

// Dispatcher runs a single turn.
type Dispatcher interface {
	HandleTurn(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Handler 对话轮次的HTTP处理器
type Handler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New 创建对话轮次处理器
func New(dispatcher Dispatcher, log *zap.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger.OrNop(log).Named("turn")}
}

// RegisterRoutes 注册对话轮次相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/turns", h.handleTurn)
}

type turnRequest struct {
	SessionID string `json:"sessionId"`
	Utterance string `json:"utterance"`
	RequestID string `json:"requestId,omitempty"`
}

type turnResponse struct {
	dispatch.Result
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var payload turnRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.RequestID == "" {
		payload.RequestID = r.Header.Get("Idempotency-Key")
	}

	res, err := h.dispatcher.HandleTurn(r.Context(), dispatch.Request{
		SessionID: payload.SessionID,
		Utterance: payload.Utterance,
		RequestID: payload.RequestID,
	})
	if err != nil {
		status := StatusFor(dispatch.KindOf(err))
		if status >= http.StatusInternalServerError {
			h.logger.Warn("turn failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		}
		utils.RespondJSON(w, status, turnResponse{Result: res, Error: publicMessage(err)})
		return
	}

	utils.RespondJSON(w, http.StatusOK, turnResponse{Result: res})
}

// StatusFor maps a turn failure kind to an HTTP status.
func StatusFor(kind dispatch.ErrorKind) int {
	switch kind {
	case dispatch.KindNone, dispatch.Unroutable:
		return http.StatusOK
	case dispatch.InvalidRequest:
		return http.StatusBadRequest
	case dispatch.HandlerTimeout:
		return http.StatusGatewayTimeout
	case dispatch.HandlerError:
		return http.StatusBadGateway
	case dispatch.StoreWriteFailure, dispatch.StoreReadFailure:
		return http.StatusServiceUnavailable
	case dispatch.Canceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	var te *dispatch.TurnError
	if !errors.As(err, &te) {
		return "turn failed"
	}
	switch te.Kind {
	case dispatch.InvalidRequest:
		return te.Err.Error()
	case dispatch.HandlerTimeout:
		return "expert timed out"
	case dispatch.HandlerError:
		return "expert failed"
	case dispatch.StoreWriteFailure:
		return "turn could not be recorded; retry with the same requestId"
	default:
		return string(te.Kind)
	}
}
