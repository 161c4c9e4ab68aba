package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bigbes/wgstats/internal/logging"
	"github.com/bigbes/wgstats/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLogger attaches a request-scoped logger to the context and
// counts responses by status code.
func (s *Server) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()

		ctx := logging.AddToContext(r.Context(), s.logger)
		ctx = logging.AddMetaToContext(ctx,
			slog.String("requestId", requestID),
			slog.String("remoteAddr", r.RemoteAddr),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		metrics.HTTPRequestsTotal.WithLabelValues(strconv.Itoa(rec.status)).Inc()
		logging.FromContext(ctx).DebugContext(ctx, "api: request served", "status", rec.status, "elapsed", time.Since(start))
	})
}

// withRateLimit rejects clients that exceed their token bucket.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Consume(clientIP(r)) {
			logging.FromContext(r.Context()).InfoContext(r.Context(), "api: rate limited")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error:   "Too many requests",
				Details: "rate limit exceeded, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
