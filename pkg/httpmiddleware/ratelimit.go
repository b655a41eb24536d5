package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables the
	// limiter.
	Max    int
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. The client IP is
	// used when nil or when it returns an empty key.
	KeyFunc func(*http.Request) string
}

// window counts requests of one key in the current and previous windows.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// limiter is a sliding window counter: the previous window's count is
// weighted by how much of it still overlaps the sliding interval.
type limiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, now: time.Now, windows: make(map[string]*window)}
}

func (l *limiter) allow(key string) (remaining int, resetAt time.Time, ok bool) {
	now := l.now()
	size := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.windows[key]
	if !found {
		w = &window{currStart: now.Truncate(size)}
		l.windows[key] = w
	}
	switch elapsed := now.Sub(w.currStart); {
	case elapsed >= 2*size:
		w.prev, w.curr = 0, 0
		w.currStart = now.Truncate(size)
	case elapsed >= size:
		w.prev, w.curr = w.curr, 0
		w.currStart = w.currStart.Add(size)
	}

	weight := 1 - now.Sub(w.currStart).Seconds()/size.Seconds()
	count := w.prev*math.Max(weight, 0) + w.curr
	resetAt = w.currStart.Add(size)
	if count >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}
	w.curr++
	return max(int(float64(l.cfg.Max)-count-1), 0), resetAt, true
}

// evict drops keys that have been idle for two full windows.
func (l *limiter) evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.currStart) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// Rejected requests get 429 with the API error body. Stale keys are evicted
// in the background until ctx is cancelled.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evict()
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if l.cfg.KeyFunc != nil {
			key = l.cfg.KeyFunc(r)
		}
		if key == "" {
			key = ClientIP(r)
		}

		remaining, resetAt, ok := l.allow(key)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !ok {
			wait := max(resetAt.Sub(l.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
