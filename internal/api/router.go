package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avask/liverelay/internal/config"
	"github.com/avask/liverelay/internal/observability"
	"github.com/avask/liverelay/pkg/logger"
)

// Server is the HTTP ingress for the relay
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *logger.Logger
}

// NewServer creates the HTTP server with all routes mounted
func NewServer(
	cfg *config.Config,
	registry Registry,
	authorizer Authorizer,
	events EventReader,
	metrics *observability.Metrics,
	log *logger.Logger,
) *Server {
	h := &Handlers{
		cfg:        cfg,
		registry:   registry,
		authorizer: authorizer,
		events:     events,
		logger:     log.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(allowAllOrigins)

	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealth)
	r.Get("/api/rooms", h.HandleRooms)
	r.Get("/api/rooms/{roomID}/events", h.HandleRoomEvents)

	if cfg.Metrics.Enabled && metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		cfg:    cfg,
		logger: log.Named("server"),
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		},
	}
}

// Handler exposes the mounted routes
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", logger.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// allowAllOrigins mirrors the open CORS policy of the upstream deployment:
// every response carries a wildcard origin, and preflights short-circuit.
func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
