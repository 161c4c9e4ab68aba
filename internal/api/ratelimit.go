package api

import (
	"net"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request keyed by key may proceed.
type RateLimiter interface {
	Consume(key string) bool
}

type tokenBucketRateLimiter struct {
	limiterByKey    *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond float64
	burstSize       int
}

func (l *tokenBucketRateLimiter) Consume(key string) bool {
	limiter, _ := l.limiterByKey.GetOrSet(key, rate.NewLimiter(rate.Limit(l.refillPerSecond), l.burstSize))
	return limiter.Value().Allow()
}

// NewTokenBucketRateLimiter returns a per-key token bucket limiter and a stop
// function releasing its expiry goroutine. Idle buckets expire after 30m.
func NewTokenBucketRateLimiter(refillPerSecond float64, burstSize int) (RateLimiter, func()) {
	cache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go cache.Start()

	return &tokenBucketRateLimiter{
		limiterByKey:    cache,
		refillPerSecond: refillPerSecond,
		burstSize:       burstSize,
	}, cache.Stop
}

// clientIP is the rate-limit key of a request: the remote address without port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
