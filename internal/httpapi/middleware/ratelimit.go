package middleware

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// bucket is one client's token balance.
type bucket struct {
	tokens float64
	last   time.Time
}

type limiter struct {
	rate  float64 // tokens per second
	burst float64
	ttl   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func newLimiter(rps float64, burst int, ttl time.Duration) *limiter {
	return &limiter{
		rate:    rps,
		burst:   float64(burst),
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		swept:   time.Now(),
	}
}

func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop buckets idle past the ttl so one-off clients don't pile up.
	if now.Sub(l.swept) >= l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.last) >= l.ttl {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimit limits by client IP. reqPerMin <= 0 disables the middleware.
// Example: RateLimit(120, 60) allows 120 requests per minute with burst 60.
func RateLimit(reqPerMin, burst int) func(http.Handler) http.Handler {
	if reqPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = reqPerMin
	}
	l := newLimiter(float64(reqPerMin)/60.0, burst, 10*time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r), time.Now()) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// honor X-Forwarded-For if behind a proxy
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
