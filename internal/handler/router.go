package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	experthandler "github.com/neurosync-os/backend/internal/handler/expert"
	sessionhandler "github.com/neurosync-os/backend/internal/handler/session"
	"github.com/neurosync-os/backend/internal/handler/status"
	"github.com/neurosync-os/backend/internal/handler/stream"
	"github.com/neurosync-os/backend/internal/handler/turn"
	"github.com/neurosync-os/backend/internal/handler/ws"
	middlewarePkg "github.com/neurosync-os/backend/internal/middleware"
	"github.com/neurosync-os/backend/internal/model/expert"
	"github.com/neurosync-os/backend/internal/service/dispatch"
	expertsvc "github.com/neurosync-os/backend/internal/service/expert"
	"github.com/neurosync-os/backend/internal/service/session"
	"github.com/neurosync-os/backend/pkg/logger"
)

// Dependencies are the services the HTTP layer routes to.
type Dependencies struct {
	Controller *dispatch.Controller
	Store      session.Store
	Registry   *expertsvc.Registry
	Profiles   expert.Store
	Status     status.Info
	Logger     *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	log := logger.OrNop(deps.Logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		sessionhandler.New(deps.Store).RegisterRoutes(api)
		experthandler.New(deps.Registry, deps.Profiles).RegisterRoutes(api)
		status.New(deps.Status, deps.Registry).RegisterRoutes(api)

		turn.New(deps.Controller, log).RegisterRoutes(api)
		stream.New(deps.Controller, log).RegisterRoutes(api)
		ws.New(deps.Controller, log).RegisterRoutes(api)
	})

	return r
}
