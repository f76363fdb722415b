package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a fixed-window request budget keyed by client IP. It reads
// RemoteAddr, so it belongs after TrustedRealIP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	remaining int
	resetAt   time.Time
}

// NewRateLimiter allows limit requests per period per client. A limit of
// zero or less disables limiting.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow consumes one request from the client's budget.
func (l *RateLimiter) Allow(client string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w, ok := l.clients[client]
	if !ok || !now.Before(w.resetAt) {
		l.clients[client] = &window{remaining: l.limit - 1, resetAt: now.Add(l.period)}
		return true
	}
	if w.remaining <= 0 {
		return false
	}
	w.remaining--
	return true
}

// sweep drops expired windows once the table has grown. Caller holds mu.
func (l *RateLimiter) sweep(now time.Time) {
	if len(l.clients) < 1024 {
		return
	}
	for client, w := range l.clients {
		if !now.Before(w.resetAt) {
			delete(l.clients, client)
		}
	}
}

// Handler rejects requests over budget with 429.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}

		if !l.Allow(client) {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.period.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE001"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
