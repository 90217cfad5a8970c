// Package ratelimit throttles the credential endpoints per client address.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// Limiter is a per-key token bucket allowing rpm requests per minute with
// bursts up to rpm.
type Limiter struct {
	rpm int
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// New creates a limiter. rpm <= 0 disables limiting.
func New(rpm int) *Limiter {
	return &Limiter{
		rpm:     rpm,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *Limiter) refillRate() float64 {
	return float64(l.rpm) / 60.0
}

// take refills the key's bucket and returns it. Callers hold l.mu.
func (l *Limiter) take(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.rpm), lastRefill: now}
		l.buckets[key] = b
		return b
	}
	b.tokens = math.Min(float64(l.rpm), b.tokens+now.Sub(b.lastRefill).Seconds()*l.refillRate())
	b.lastRefill = now
	return b
}

// Allow reports whether a request for key may proceed and consumes a token
// if so.
func (l *Limiter) Allow(key string) bool {
	if l.rpm <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.take(key)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns the whole seconds until key has a token again.
func (l *Limiter) RetryAfter(key string) int {
	if l.rpm <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.tokens >= 1 {
		return 0
	}
	return int((1.0-b.tokens)/l.refillRate()) + 1
}

// Cleanup drops buckets idle for longer than maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxAge)
	for key, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r)
		if l.Allow(key) {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RecordRateLimitHit()
		w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter(key)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{
			Error:   "rate limit exceeded",
			Message: "Too many attempts, try again later",
			Code:    http.StatusTooManyRequests,
		})
	})
}

// ClientIP returns the first X-Forwarded-For address, or the host part of
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
