package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/neurosync-os/backend/internal/config"
	"github.com/neurosync-os/backend/internal/handler"
	"github.com/neurosync-os/backend/internal/handler/status"
	"github.com/neurosync-os/backend/internal/model/expert"
	"github.com/neurosync-os/backend/internal/service/dispatch"
	expertsvc "github.com/neurosync-os/backend/internal/service/expert"
	intentsvc "github.com/neurosync-os/backend/internal/service/intent"
	"github.com/neurosync-os/backend/internal/service/session"
	"github.com/neurosync-os/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load(os.Getenv("NEUROSYNC_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	if envErr != nil {
		zl.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	store, err := newStore(cfg.Session, zl)
	if err != nil {
		return err
	}
	defer store.Close()

	profiles := expert.NewMemoryStore(expert.Seed())
	registry, classifier, err := buildAgents(ctx, cfg, profiles, zl)
	if err != nil {
		return err
	}

	ctrl, err := dispatch.NewController(dispatch.Options{
		Classifier:     classifier,
		Registry:       registry,
		Store:          store,
		HandlerTimeout: cfg.Dispatch.HandlerTimeout,
		RetryCount:     cfg.Dispatch.RetryCount,
		MaxInFlight:    cfg.Dispatch.MaxInFlight,
		HistoryWindow:  cfg.Dispatch.HistoryWindow,
		Logger:         zl,
	})
	if err != nil {
		return err
	}

	janitor := session.NewJanitor(store, cfg.Session.TTL, cfg.Session.SweepInterval, zl)
	go janitor.Run(ctx)

	classifierMode := intentsvc.SourceHeuristic
	if classifier.Enabled() {
		classifierMode = intentsvc.SourceLLM
	}
	router := handler.NewRouter(handler.Dependencies{
		Controller: ctrl,
		Store:      store,
		Registry:   registry,
		Profiles:   profiles,
		Status: status.Info{
			Provider:     cfg.AI.Provider,
			Model:        cfg.ResolveModel(config.AgentRouter),
			Classifier:   classifierMode,
			StoreBackend: cfg.Session.Backend,
		},
		Logger: zl,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zl.Info("NeuroSync backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("experts", registry.Len()),
		zap.String("classifier", classifierMode),
	)
	return runServer(ctx, srv)
}

func newStore(cfg config.SessionConfig, zl *zap.Logger) (session.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := session.NewSQLiteStore(cfg.SQLitePath, zl)
		if err != nil {
			return nil, fmt.Errorf("opening session store: %w", err)
		}
		return store, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// buildAgents 为路由器和每个专家创建模型。凭证缺失时专家列表为空，所有请求都无法路由。
func buildAgents(ctx context.Context, cfg *config.Config, profiles expert.Store, zl *zap.Logger) (*expertsvc.Registry, *intentsvc.Service, error) {
	classifierCfg := intentsvc.Config{
		LLMEnabled:    cfg.Classifier.LLMEnabled,
		Threshold:     cfg.Classifier.Threshold,
		HistoryWindow: cfg.Classifier.HistoryWindow,
		Timeout:       cfg.Classifier.Timeout,
	}

	if !cfg.AI.Enabled() {
		zl.Warn("model credentials not configured; experts disabled", zap.String("provider", cfg.AI.Provider))
		classifier, err := intentsvc.NewService(ctx, nil, classifierCfg, zl)
		if err != nil {
			return nil, nil, err
		}
		registry, err := expertsvc.NewRegistry()
		return registry, classifier, err
	}

	routerModel, err := cfg.NewChatModel(ctx, config.AgentRouter)
	if err != nil {
		return nil, nil, fmt.Errorf("router model: %w", err)
	}
	classifier, err := intentsvc.NewService(ctx, routerModel, classifierCfg, zl)
	if err != nil {
		return nil, nil, err
	}

	var handlers []expertsvc.Handler
	for _, p := range profiles.List() {
		chatModel, err := cfg.NewChatModel(ctx, p.Agent)
		if err != nil {
			return nil, nil, fmt.Errorf("%s model: %w", p.ID, err)
		}
		h, err := expertsvc.NewLLMHandler(ctx, p, chatModel, zl)
		if err != nil {
			return nil, nil, err
		}
		zl.Info("expert online", zap.String("id", p.ID), zap.String("model", cfg.ResolveModel(p.Agent)))
		handlers = append(handlers, h)
	}

	registry, err := expertsvc.NewRegistry(handlers...)
	if err != nil {
		return nil, nil, err
	}
	return registry, classifier, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
