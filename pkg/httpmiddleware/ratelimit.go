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

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of one window.
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string

	now func() time.Time
}

// KeyByHeader keys clients by the value of header, falling back to the
// client IP for requests that do not carry it. Settlement callers are keyed
// by their API key so one integration cannot starve another behind a shared
// proxy.
func KeyByHeader(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return "h:" + v
		}
		return "ip:" + ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host.
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

// window counts requests in the current and previous fixed windows.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

type limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*window
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &limiter{cfg: cfg, clients: make(map[string]*window)}
}

// take consumes one request for key. The previous window's count is weighted
// by how much of it still overlaps the sliding window.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.clients[key]
	if !found {
		w = &window{start: now.Truncate(l.cfg.Window)}
		l.clients[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*l.cfg.Window:
		w.prev, w.curr = 0, 0
		w.start = now.Truncate(l.cfg.Window)
	case elapsed >= l.cfg.Window:
		w.prev, w.curr = w.curr, 0
		w.start = w.start.Add(l.cfg.Window)
	}

	weight := max(0, 1-now.Sub(w.start).Seconds()/l.cfg.Window.Seconds())
	used := w.prev*weight + w.curr
	reset = w.start.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.curr++
	return max(0, int(float64(l.cfg.Max)-used-1)), reset, true
}

// evict drops clients idle for two windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// RateLimit enforces a per-client sliding window limit. Rejected requests get
// 429 with a JSON error body; every response carries X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine evicting idle clients
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	go l.evictLoop(ctx)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := l.cfg.now()
		remaining, reset, ok := l.take(l.cfg.KeyFunc(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retry := max(0, reset.Sub(now))
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)

		var e jx.Encoder
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusTooManyRequests)
		e.FieldStart("message")
		e.Str("rate limit exceeded")
		e.ObjEnd()
		_, _ = w.Write(e.Bytes())
	})
}
