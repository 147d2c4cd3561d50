package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/server/handler"
	"github.com/alanyoungcy/stakeescrow/internal/server/middleware"
	"github.com/alanyoungcy/stakeescrow/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per RateWindow per client; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Faucet is nil unless the development faucet is enabled; Archive is nil
// without blob storage.
type Handlers struct {
	Health  *handler.HealthHandler
	Escrow  *handler.EscrowHandler
	Faucet  *handler.FaucetHandler
	Archive *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server for the escrow program.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limit, auth, logging, CORS) and attaches the
// WebSocket hub. hub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/config", handlers.Escrow.GetConfig)
	mux.HandleFunc("GET /api/matches", handlers.Escrow.ListMatches)
	mux.HandleFunc("GET /api/matches/{id}", handlers.Escrow.GetMatch)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Escrow.GetAccount)
	mux.HandleFunc("GET /api/audit", handlers.Escrow.ListAudit)
	mux.HandleFunc("POST /api/transactions", handlers.Escrow.SubmitTransaction)

	if handlers.Faucet != nil {
		mux.HandleFunc("POST /api/faucet", handlers.Faucet.Fund)
	}
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.ListBatches)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archive.GetBatch)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
