package stream

import (
	"context"
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

// Handler streams the stages of one turn via Server-Sent Events.
type Handler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New creates a new stream handler
func New(dispatcher Dispatcher, log *zap.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger.OrNop(log).Named("stream")}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// Event is one SSE payload.
type Event struct {
	Event       string             `json:"event"`
	SessionID   string             `json:"sessionId,omitempty"`
	Stage       dispatch.Stage     `json:"stage,omitempty"`
	Intent      string             `json:"intent,omitempty"`
	Confidence  float64            `json:"confidence,omitempty"`
	HandlerID   string             `json:"handlerId,omitempty"`
	HandlerName string             `json:"handlerName,omitempty"`
	Content     string             `json:"content,omitempty"`
	Failure     dispatch.ErrorKind `json:"failure,omitempty"`
	Replayed    bool               `json:"replayed,omitempty"`
	Error       string             `json:"error,omitempty"`
	Finished    bool               `json:"finished,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	send := func(ev Event) {
		ev.SessionID = sessionID
		utils.SendSSEEvent(w, flusher, ev.Event, ev)
	}

	res, err := h.dispatcher.HandleTurn(r.Context(), dispatch.Request{
		SessionID: sessionID,
		Utterance: userMessage,
		RequestID: r.URL.Query().Get("requestId"),
		Observer: func(se dispatch.StageEvent) {
			switch se.Stage {
			case dispatch.StageClassified:
				send(Event{Event: "classified", Stage: se.Stage, Intent: string(se.Intent), Confidence: se.Confidence})
			case dispatch.StageRouted:
				send(Event{Event: "routed", Stage: se.Stage, Intent: string(se.Intent), Confidence: se.Confidence,
					HandlerID: se.HandlerID, HandlerName: se.HandlerName})
			}
		},
	})
	if err != nil {
		h.logger.Warn("stream turn failed", zap.String("session_id", sessionID), zap.Error(err))
		send(Event{Event: "error", Stage: res.Stage, Failure: res.Failure, Error: string(dispatch.KindOf(err))})
	} else {
		send(Event{
			Event:       "message",
			Stage:       res.Stage,
			Intent:      string(res.Intent),
			Confidence:  res.Confidence,
			HandlerID:   res.HandlerID,
			HandlerName: res.HandlerName,
			Content:     res.ResponseText,
			Failure:     res.Failure,
			Replayed:    res.Replayed,
		})
	}

	send(Event{Event: "end", Finished: true})
}
