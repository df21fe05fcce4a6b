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
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Skip exempts matching requests, e.g. gateway webhooks that must never
	// be throttled.
	Skip func(*http.Request) bool
}

// counter holds request counts for the current and previous fixed windows.
// The sliding estimate weights the previous window by its remaining overlap.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

// decision is the outcome of one rate limit check.
type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type rateLimiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string
	skip   func(*http.Request) bool
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		max:      cfg.Max,
		window:   cfg.Window,
		key:      cfg.KeyFunc,
		skip:     cfg.Skip,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	if rl.key == nil {
		rl.key = ClientIP
	}
	if rl.window <= 0 {
		rl.window = time.Minute
	}
	return rl
}

func (rl *rateLimiter) check(key string) decision {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.counters[key]
	if !ok {
		c = &counter{start: now.Truncate(rl.window)}
		rl.counters[key] = c
	}
	switch elapsed := now.Sub(c.start); {
	case elapsed >= 2*rl.window:
		c.start, c.prev, c.curr = now.Truncate(rl.window), 0, 0
	case elapsed >= rl.window:
		c.start, c.prev, c.curr = c.start.Add(rl.window), c.curr, 0
	}

	overlap := 1 - float64(now.Sub(c.start))/float64(rl.window)
	estimate := c.prev*math.Max(overlap, 0) + c.curr
	d := decision{reset: c.start.Add(rl.window)}
	if estimate >= float64(rl.max) {
		return d
	}
	c.curr++
	d.allowed = true
	d.remaining = max(int(float64(rl.max)-estimate-1), 0)
	return d
}

// evict drops counters idle for two full windows.
func (rl *rateLimiter) evict() {
	cutoff := rl.now().Add(-2 * rl.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.counters {
		if c.start.Before(cutoff) {
			delete(rl.counters, key)
		}
	}
}

func (rl *rateLimiter) evictEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// RateLimit enforces a per-key sliding window limit. Limited requests get
// 429 with a JSON error body; every counted response carries the
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
// Stale keys are never evicted; long running servers use
// RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit plus a goroutine that evicts idle keys
// every two windows until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.evictEvery(ctx, 2*rl.window)
	return rl.middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.skip != nil && rl.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		d := rl.check(rl.key(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
		if !d.allowed {
			wait := max(d.reset.Sub(rl.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// SkipPathPrefix returns a Skip func matching requests under any of prefixes.
func SkipPathPrefix(prefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}
