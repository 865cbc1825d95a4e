// Package server exposes the engine's HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
	"github.com/venuelabs/microroute/internal/server/handler"
	"github.com/venuelabs/microroute/internal/server/middleware"
	"github.com/venuelabs/microroute/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// API rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Books  *handler.BookHandler
	Micro  *handler.MicroHandler
	Vol    *handler.VolHandler
	Plans  *handler.PlanHandler
	Venues *handler.VenueHandler
	Trades *handler.TradeHandler
}

// Server is the headless HTTP + WebSocket API for the routing engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// wires up the middleware chain (rate limiting, auth, logging, CORS).
// budget may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, budget domain.RateBudget, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Book endpoints.
	mux.HandleFunc("GET /api/books", handlers.Books.ListBooks)
	mux.HandleFunc("GET /api/books/{venue}/{symbol}", handlers.Books.GetBook)

	// Signal endpoints.
	mux.HandleFunc("GET /api/microstructure/{symbol}", handlers.Micro.GetMicrostructure)
	mux.HandleFunc("GET /api/volatility/{symbol}", handlers.Vol.GetForecast)

	// Plan endpoints.
	mux.HandleFunc("POST /api/plans", handlers.Plans.CreatePlan)
	mux.HandleFunc("GET /api/plans", handlers.Plans.ListPlans)
	mux.HandleFunc("GET /api/plans/{id}", handlers.Plans.GetPlan)

	// Venue endpoints.
	mux.HandleFunc("GET /api/venues", handlers.Venues.ListMetrics)
	mux.HandleFunc("GET /api/venues/scores", handlers.Venues.GetScores)
	mux.HandleFunc("GET /api/venues/choice", handlers.Venues.GetChoice)
	mux.HandleFunc("POST /api/venues/{venue}/degraded", handlers.Venues.MarkDegraded)
	mux.HandleFunc("POST /api/venues/{venue}/recovered", handlers.Venues.MarkRecovered)

	// Trade ingestion.
	mux.HandleFunc("POST /api/trades", handlers.Trades.RecordTrade)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if budget != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(budget, cfg.RateLimit, window)(h)
	}

	h = middleware.Auth(cfg.APIKey)(h)
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
