// Package ratelimit implements per-client token-bucket rate limiting for the
// HTTP surface, keyed by client IP rather than by authenticated identity so
// unauthenticated endpoints (login, registration) are covered too.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter tracks one token bucket per client key.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	window   time.Duration
	logger   *zap.Logger
}

// New creates a Limiter that allows `limit` requests per `window` per client,
// with `burst` allowed immediately.
func New(limit int, window time.Duration, burst int, logger *zap.Logger) *Limiter {
	if window <= 0 {
		window = time.Second
	}
	perSecond := float64(limit) / window.Seconds()
	if perSecond < 0 {
		perSecond = 0
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		window:   window,
		logger:   logger,
	}
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether a request from key should proceed, consuming a
// token if so.
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

// RetryAfterSeconds returns the value to put in a Retry-After header when a
// request from key was rejected.
func (l *Limiter) RetryAfterSeconds() int {
	return int(math.Ceil(l.window.Seconds()))
}

// Middleware wraps an http.Handler, rejecting requests over the limit with
// 429 and a Retry-After header. keyFunc extracts the bucket key (typically
// client IP) from the request.
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				key = "unknown"
			}

			if !l.Allow(key) {
				if l.logger != nil {
					l.logger.Warn("rate limit exceeded",
						zap.String("key", key),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method))
				}
				w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfterSeconds()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","code":"rate_limited"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Cleanup bounds memory growth by wiping all tracked buckets once the set
// grows unexpectedly large. Buckets are cheap to recreate — a client simply
// gets a fresh burst allowance.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup runs Cleanup on a fixed interval until the returned stop
// function is called.
func (l *Limiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
