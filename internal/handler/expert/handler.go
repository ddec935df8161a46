package expert

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/neurosync-os/backend/internal/model/expert"
	"github.com/neurosync-os/backend/internal/model/intent"
	expertsvc "github.com/neurosync-os/backend/internal/service/expert"
	"github.com/neurosync-os/backend/pkg/utils"
)

// Handler expert服务的HTTP处理器
type Handler struct {
	registry *expertsvc.Registry
	profiles expert.Store
}

// New 创建expert处理器
func New(registry *expertsvc.Registry, profiles expert.Store) *Handler {
	return &Handler{registry: registry, profiles: profiles}
}

// RegisterRoutes 注册expert相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/experts", h.handleListExperts)
}

type expertView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Intents     []intent.Label `json:"intents"`
	Description string         `json:"description,omitempty"`
}

// handleListExperts 列出所有已注册的专家
func (h *Handler) handleListExperts(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.List()
	views := make([]expertView, 0, len(infos))
	for _, info := range infos {
		view := expertView{ID: info.ID, Name: info.Name, Intents: info.Intents}
		if h.profiles != nil {
			if p, ok := h.profiles.FindByID(info.ID); ok {
				view.Title = p.Title
				view.Description = p.Description
			}
		}
		views = append(views, view)
	}
	utils.RespondJSON(w, http.StatusOK, views)
}
