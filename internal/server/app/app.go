// Package app wires the reference records server: routes, middleware chain,
// metrics endpoint and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iudanet/jobsync/internal/metrics"
	"github.com/iudanet/jobsync/internal/server/handlers"
	"github.com/iudanet/jobsync/internal/server/middleware"
	"github.com/iudanet/jobsync/pkg/api"
)

const shutdownTimeout = 5 * time.Second

// Storage - все, что сервер требует от хранилища
type Storage interface {
	handlers.RecordStorage
	handlers.Pinger
}

// Config describes the server dependencies
type Config struct {
	Logger  *slog.Logger
	Storage Storage
	// Gatherer обслуживает /metrics; nil отключает эндпоинт
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Server
	JWT      handlers.JWTConfig
	// RateLimit - запросов в минуту с одного адреса; 0 отключает ограничение
	RateLimit int
}

// Server is the assembled HTTP application
type Server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

// New builds the router and middleware chain:
// recovery -> logging -> rate limit -> (auth for /api/v1/{entity}...) -> handler
func New(cfg Config) *Server {
	records := handlers.NewRecordsHandler(cfg.Logger, cfg.Storage, cfg.Metrics)
	health := handlers.NewHealthHandler(cfg.Logger, cfg.Storage)

	protected := http.NewServeMux()
	protected.HandleFunc("GET "+api.PathPrefix+"{entity}", records.Fetch)
	protected.HandleFunc("POST "+api.PathPrefix+"{entity}", records.Upsert)
	protected.HandleFunc("POST "+api.PathPrefix+"{entity}/sync", records.BatchSync)
	protected.HandleFunc("DELETE "+api.PathPrefix+"{entity}/{id}", records.Delete)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.PathHealth, health.Health)
	mux.Handle(api.PathPrefix, middleware.AuthMiddleware(cfg.Logger, cfg.JWT)(protected))
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	s := &Server{logger: cfg.Logger}

	var h http.Handler = mux
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute, cfg.Logger)
		h = s.limiter.Middleware(h)
	}
	h = middleware.LoggingMiddleware(cfg.Logger, cfg.Metrics, api.PathHealth, "/metrics")(h)
	s.handler = middleware.RecoveryMiddleware(cfg.Logger)(h)

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases background resources
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("Server started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}
