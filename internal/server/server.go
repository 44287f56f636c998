// Package server is the top-level orchestrator that wires storage, the
// agent-link transport, and the operator API into one running process.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetward/hub/internal/api"
	"github.com/fleetward/hub/internal/auth"
	"github.com/fleetward/hub/internal/config"
	"github.com/fleetward/hub/internal/events"
	"github.com/fleetward/hub/internal/link"
	"github.com/fleetward/hub/internal/store"
)

// Version is stamped by the cmd/fleetd build; overridable for tests.
var Version = "dev"

// Server is the running fleetd process: storage, the agent-link directory,
// and the operator API bound together behind one HTTP mux.
type Server struct {
	cfg    *config.Config
	store  store.Store
	dir    *link.Directory
	auth   *auth.Service
	api    *api.Server
	logger *slog.Logger
	mux    http.Handler
}

// New assembles a Server from configuration. It opens storage eagerly so
// that a bad database URL fails fast at startup rather than on first
// request.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authSvc := auth.NewService(cfg.JWTSecret, cfg.RuntimeTokenTTL)
	dir := link.NewDirectory()

	upgrader := link.MakeUpgrader(cfg.AllowedOrigins)
	linkHandler := link.NewHandler(dir, upgrader, events.Build, logger)

	apiSrv := api.NewServer(db, dir, authSvc, Version, cfg.AllowedOrigins, logger)

	mux := chi.NewRouter()
	mux.Mount("/", apiSrv.Handler())
	mux.Get("/ws/agent/{agent_id}", linkHandler.ServeHTTP)

	srv := &Server{
		cfg:    cfg,
		store:  db,
		dir:    dir,
		auth:   authSvc,
		api:    apiSrv,
		logger: logger.With("component", "server"),
		mux:    mux,
	}

	if !authSvc.Enabled() {
		logger.Warn("FLEET_JWT_SECRET is unset; operator tokens are verified against an empty signing key")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			logger.Warn("FLEET_ALLOWED_ORIGINS contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return srv, nil
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("fleetd listening", "addr", s.cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = httpSrv.Close()
		}

		_ = s.store.Close()
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = s.store.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// IssueToken mints an operator token against the server's auth service. The
// "fleetd token issue" CLI subcommand does not use it; it builds its own
// auth.Service from FLEET_JWT_SECRET.
func (s *Server) IssueToken(subject, role string) (string, error) {
	return s.auth.IssueToken(subject, role)
}
