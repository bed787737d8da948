// Per-client request limits for the endpoints that query the history database.
package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// defaultHistoryRate is the history requests each client may make per minute.
const defaultHistoryRate = 120

// RateLimiter admits up to limit requests per client in each fixed window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientWindow
	swept   time.Time
}

type clientWindow struct {
	start time.Time
	used  int
}

// NewRateLimiter creates a limiter allowing limit requests per client every window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientWindow),
	}
}

// Allow counts a request from client. Once the client is over its limit it reports
// false and how long until its window opens again.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= rl.window {
		w = &clientWindow{start: now}
		rl.clients[client] = w
	}
	if w.used >= rl.limit {
		return false, w.start.Add(rl.window).Sub(now)
	}
	w.used++
	return true, 0
}

// sweep forgets clients whose window has closed, at most once per window.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.swept) < rl.window {
		return
	}
	rl.swept = now
	for c, w := range rl.clients {
		if now.Sub(w.start) >= rl.window {
			delete(rl.clients, c)
		}
	}
}

// Limit wraps next, answering 429 with Retry-After once the caller is over its limit.
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientIP returns the caller's address without port, preferring the first
// X-Forwarded-For entry for proxied requests.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
