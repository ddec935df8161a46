package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	expertsvc "github.com/neurosync-os/backend/internal/service/expert"
	"github.com/neurosync-os/backend/pkg/utils"
)

// Info describes the wiring chosen at startup.
type Info struct {
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	Classifier   string `json:"classifier"`
	StoreBackend string `json:"storeBackend"`
}

// Handler reports what the system can currently serve.
type Handler struct {
	info     Info
	registry *expertsvc.Registry
}

// New 创建状态处理器
func New(info Info, registry *expertsvc.Registry) *Handler {
	return &Handler{info: info, registry: registry}
}

// RegisterRoutes 注册状态路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
}

type statusResponse struct {
	Status string `json:"status"`
	Info
	Experts []expertsvc.Info `json:"experts"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	experts := h.registry.List()
	if experts == nil {
		experts = []expertsvc.Info{}
	}
	state := "ok"
	if len(experts) == 0 {
		state = "degraded"
	}
	utils.RespondJSON(w, http.StatusOK, statusResponse{Status: state, Info: h.info, Experts: experts})
}
