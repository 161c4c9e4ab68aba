// Package api serves collected WireGuard stats over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bigbes/wgstats/internal/collector"
)

// Collector produces one merged stats view per call.
type Collector interface {
	Collect(ctx context.Context) (collector.Result, error)
}

// Server serves GET /api/stats.
type Server struct {
	collector       Collector
	limiter         RateLimiter
	listen          string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New creates a server. A nil limiter disables rate limiting.
func New(c Collector, limiter RateLimiter, listen string, logger *slog.Logger) *Server {
	return &Server{
		collector:       c,
		limiter:         limiter,
		listen:          listen,
		shutdownTimeout: 5 * time.Second,
		logger:          logger,
	}
}

// Handler returns the routed handler with request logging and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)

	return s.withRequestLogger(s.withRateLimit(mux))
}

// Run starts the HTTP server and blocks until ctx is cancelled and the
// server has shut down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.listen, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.logger.Error("api: shutdown", "err", err)
		}
	}()

	s.logger.Info("api server started", "listen", ln.Addr().String())
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	<-stopped
	return nil
}
