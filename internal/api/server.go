// Package api provides the REST API and WebSocket server for autoform.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/randalmurphal/autoform/internal/batch"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/storage"
	"github.com/randalmurphal/autoform/internal/workflow"
)

// Server is the autoform API server.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	mux             *http.ServeMux
	logger          *slog.Logger

	manager   *workflow.Manager
	batches   *batch.Dispatcher
	backend   storage.Backend
	publisher events.Publisher
	wsHandler *WSHandler
}

// Config holds server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// AllowedOrigins restricts WebSocket upgrades and CORS. Empty allows any.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Deps are the components the server fronts.
type Deps struct {
	Manager   *workflow.Manager
	Batches   *batch.Dispatcher
	Backend   storage.Backend
	Publisher events.Publisher
}

// New creates a new API server.
func New(cfg Config, deps Deps) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		mux:             http.NewServeMux(),
		logger:          logger,
		manager:         deps.Manager,
		batches:         deps.Batches,
		backend:         deps.Backend,
		publisher:       deps.Publisher,
	}
	s.wsHandler = NewWSHandler(deps.Publisher, s, cfg.AllowedOrigins, logger)
	s.registerRoutes(cfg.AllowedOrigins)
	return s
}

func (s *Server) registerRoutes(origins []string) {
	cors := CORS(origins)

	s.mux.HandleFunc("GET /api/health", cors(s.handleHealth))

	// Sessions
	s.mux.HandleFunc("POST /api/sessions", cors(s.handleStartSession))
	s.mux.HandleFunc("GET /api/sessions/{id}", cors(s.handleGetSession))
	s.mux.HandleFunc("POST /api/sessions/{id}/resume", cors(s.handleResumeSession))
	s.mux.HandleFunc("POST /api/sessions/{id}/cancel", cors(s.handleCancelSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/logs", cors(s.handleSessionLogs))

	// Batches
	s.mux.HandleFunc("GET /api/batches", cors(s.handleListBatches))
	s.mux.HandleFunc("POST /api/batches", cors(s.handleCreateBatch))
	s.mux.HandleFunc("GET /api/batches/{id}", cors(s.handleGetBatch))
	s.mux.HandleFunc("POST /api/batches/{id}/cancel", cors(s.handleCancelBatch))

	s.mux.HandleFunc("GET /api/stats", cors(s.handleStats))

	// WebSocket for real-time updates
	s.mux.Handle("GET /ws", s.wsHandler)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully and closes every WebSocket connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.wsHandler.Close()
	err := server.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":            "ok",
		"websocket_clients": s.wsHandler.ConnectionCount(),
	}
	if dc, ok := s.publisher.(events.DropCounter); ok {
		resp["dropped_events"] = dc.Dropped()
	}
	s.jsonResponse(w, http.StatusOK, resp)
}
