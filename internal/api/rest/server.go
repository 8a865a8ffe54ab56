package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
)

// ColdPinger is the readiness probe against the system of record.
type ColdPinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Auctions  AuctionStore
	Bids      BidStore
	Users     UserStore
	Hot       HotState
	Finalizer Finalizer
	Tokens    TokenService
	Cold      ColdPinger
	// WS serves GET /ws when set; the gateway owns the connection after the
	// upgrade.
	WS http.HandlerFunc
	// Metrics serves GET /metrics when set; Recorder counts every request.
	Metrics  http.Handler
	Recorder RequestRecorder
}

// Server is the catalogue and operations HTTP server. Bids never enter here;
// they belong to the websocket gateway.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	tokens   TokenService
	handlers *Handlers
	hot      HotState
	cold     ColdPinger
	limiter  *ipRateLimiter

	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		tokens: deps.Tokens,
		hot:    deps.Hot,
		cold:   deps.Cold,
		limiter: newIPRateLimiter(
			cfg.RateLimit.RequestsPerSecond,
			cfg.RateLimit.BurstSize,
		),
		handlers: &Handlers{
			logger:    logger,
			auctions:  deps.Auctions,
			bids:      deps.Bids,
			users:     deps.Users,
			hot:       deps.Hot,
			finalizer: deps.Finalizer,
			tokens:    deps.Tokens,
		},
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.buildHandler(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) buildHandler(deps Deps) http.Handler {
	h := s.handlers

	v1 := http.NewServeMux()
	v1.HandleFunc("POST /auctions", s.requireAuth(h.handleCreateAuction))
	v1.HandleFunc("GET /auctions", h.handleListAuctions)
	v1.HandleFunc("GET /auctions/{id}", h.handleGetAuction)
	v1.HandleFunc("GET /auctions/{id}/bids", h.handleListBids)
	v1.HandleFunc("POST /auctions/{id}/activate", s.requireAuth(h.handleActivateAuction))
	v1.HandleFunc("POST /admin/auctions/{id}/cancel", s.requireAuth(h.handleAdminCancel))
	v1.HandleFunc("POST /auth/token", h.handleIssueToken)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if deps.WS != nil {
		mux.HandleFunc("GET /ws", deps.WS)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	recorder := deps.Recorder

	middlewares := []Middleware{
		requestIDMiddleware,
		tracingMiddleware(),
		loggingMiddleware(s.logger),
	}
	if recorder != nil {
		middlewares = append(middlewares, metricsMiddleware(recorder))
	}
	middlewares = append(middlewares,
		recoveryMiddleware(s.logger),
		rateLimitMiddleware(s.limiter),
	)
	return chain(mux, middlewares...)
}

// Handler exposes the routed, middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains with the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	go s.limiter.sweep(ctx, time.Minute, 3*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
