// Package server assembles the HTTP and WebSocket API over the settlement
// engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tradewire/settled/internal/domain"
	"github.com/tradewire/settled/internal/server/handler"
	"github.com/tradewire/settled/internal/server/middleware"
	"github.com/tradewire/settled/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Settle *handler.SettleHandler
	Cancel *handler.CancelHandler
	Query  *handler.QueryHandler
	Batch  *handler.BatchHandler
	Admin  *handler.AdminHandler
	Status *handler.StatusHandler
}

// Server is the headless HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// middleware (logging, auth, CORS, rate limiting) wired around it. limiter
// may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)

	// Settlement.
	mux.HandleFunc("POST /v1/trades/execute", handlers.Settle.Execute)
	mux.HandleFunc("POST /v1/trades/probe", handlers.Settle.Probe)
	mux.HandleFunc("POST /v1/batch", handlers.Batch.Execute)

	// Cancellation.
	mux.HandleFunc("POST /v1/orders/cancel", handlers.Cancel.CancelOrder)
	mux.HandleFunc("POST /v1/trades/cancel", handlers.Cancel.CancelTrade)

	// Ledger queries.
	mux.HandleFunc("GET /v1/orders/{hash}/filled", handlers.Query.GetFilled)
	mux.HandleFunc("GET /v1/trades/{hash}", handlers.Query.GetTraded)
	mux.HandleFunc("GET /v1/journal", handlers.Query.ListJournal)

	// Administration.
	mux.HandleFunc("POST /v1/admin/fund", handlers.Admin.Fund)
	mux.HandleFunc("POST /v1/admin/approve", handlers.Admin.Approve)
	mux.HandleFunc("POST /v1/admin/operators", handlers.Admin.Operators)
	mux.HandleFunc("POST /v1/admin/fee-account", handlers.Admin.SetFeeAccount)

	// Status.
	mux.HandleFunc("GET /v1/status", handlers.Status.GetStatus)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /v1/ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
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
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
