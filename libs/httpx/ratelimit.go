package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is an in-process fixed-window limiter for single-instance deployments.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, win time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: win, windows: map[string]*window{}}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := rl.allow(clientKey(r), time.Now())
			if !ok {
				tooManyRequests(w, retry)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	win := rl.windows[key]
	if win == nil || !now.Before(win.resetAt) {
		rl.windows[key] = &window{count: 1, resetAt: now.Add(rl.window)}
		if len(rl.windows) > 10000 {
			rl.sweep(now)
		}
		return true, 0
	}
	if win.count >= rl.limit {
		return false, win.resetAt.Sub(now)
	}
	win.count++
	return true, 0
}

func (rl *RateLimiter) sweep(now time.Time) {
	for k, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, k)
		}
	}
}

// clientKey prefers the authenticated actor over the client address.
func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return "u:" + id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
