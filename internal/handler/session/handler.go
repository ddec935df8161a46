package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/neurosync-os/backend/internal/model/chat"
	sessionsvc "github.com/neurosync-os/backend/internal/service/session"
	"github.com/neurosync-os/backend/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	store sessionsvc.Store
}

// New 创建会话处理器
func New(store sessionsvc.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(sr chi.Router) {
		sr.Get("/", h.handleGetSession)
		sr.Delete("/", h.handleExpireSession)
		sr.Get("/turns", h.handleListTurns)
		sr.Put("/memory", h.handlePutMemory)
	})
}

type turnsResponse struct {
	SessionID string      `json:"sessionId"`
	Turns     []chat.Turn `json:"turns"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Create(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "failed to create session")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

// handleListTurns 返回按顺序排列的会话记录，window 为空时返回全部
func (h *Handler) handleListTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	window := 0
	if raw := r.URL.Query().Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "window must be a non-negative integer")
			return
		}
		window = n
	}

	turns, err := h.store.Read(r.Context(), sessionID, window)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, turnsResponse{SessionID: sessionID, Turns: turns})
}

func (h *Handler) handlePutMemory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var updates map[string]any
	if err := utils.DecodeJSON(r, &updates); err != nil || len(updates) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "memory updates must be a non-empty JSON object")
		return
	}

	if err := h.store.PutMemory(r.Context(), sessionID, updates); err != nil {
		respondStoreError(w, err)
		return
	}
	sess, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleExpireSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Expire(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionsvc.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, sessionsvc.ErrSessionRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusServiceUnavailable, "session store unavailable")
	}
}
