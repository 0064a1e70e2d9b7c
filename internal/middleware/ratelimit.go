package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/inkwell/internal/identity"
	"github.com/ashureev/inkwell/internal/metrics"
)

// RateLimiter is a sliding-window limiter keyed by user id. Tab ids are
// deliberately not part of the key so opening tabs does not raise the limit.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it is within limits.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.pruneLocked(key, now.Add(-r.window))
	if len(recent) >= r.limit {
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

func (r *RateLimiter) pruneLocked(key string, cutoff time.Time) []time.Time {
	times := r.requests[key]
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	recent := times[i:]
	if len(recent) == 0 {
		delete(r.requests, key)
		return nil
	}
	r.requests[key] = recent
	return recent
}

// Run evicts idle keys every window until ctx is done.
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			cutoff := r.now().Add(-r.window)
			for key := range r.requests {
				r.pruneLocked(key, cutoff)
			}
			r.mu.Unlock()
		}
	}
}

// Keys returns the number of tracked keys.
func (r *RateLimiter) Keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Limit returns middleware that rejects requests over the caller's budget
// with 429 and a RATE_LIMITED error code.
func (r *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userID := identity.UserIDFromContext(req.Context())
		if !r.Allow(userID) {
			metrics.RecordRejectedSubmission("rate_limited")
			slog.Warn("Request rate limited", "user_id", userID, "path", req.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter(r.window))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many submissions","code":"RATE_LIMITED"}`))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func retryAfter(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
