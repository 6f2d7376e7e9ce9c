package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
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
	// KeyFunc extracts the rate limit key from a request. If nil, requests
	// carrying an Authorization header are keyed by a digest of the
	// credential and anonymous requests by client IP.
	KeyFunc func(*http.Request) string
}

// bucket tracks request counts across two adjacent windows so the limiter
// can weight the previous window into the current one.
type bucket struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	return &rateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// allow reports whether the request identified by key fits the budget,
// along with the remaining count and window reset time.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{currStart: now}
		rl.buckets[key] = b
	}

	if now.Sub(b.currStart) >= rl.cfg.Window {
		b.prevCount = b.currCount
		b.prevStart = b.currStart
		b.currCount = 0
		b.currStart = now.Truncate(rl.cfg.Window)
		if now.Sub(b.prevStart) >= 2*rl.cfg.Window {
			b.prevCount = 0
		}
	}

	// Weight the previous window by how much of it still overlaps the
	// sliding window ending now.
	elapsed := now.Sub(b.currStart)
	overlap := 1.0 - elapsed.Seconds()/rl.cfg.Window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	effective := b.prevCount*overlap + b.currCount
	resetAt = b.currStart.Add(rl.cfg.Window)

	if effective >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}

	b.currCount++
	effective++

	remaining = int(float64(rl.cfg.Max) - effective)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true
}

func (rl *rateLimiter) evictStale(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.currStart) >= 2*rl.cfg.Window {
			delete(rl.buckets, key)
		}
	}
}

// RateLimit returns a middleware enforcing a per-key sliding window limit.
// Over-limit requests get 429 with a JSON body; every response carries
// X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset headers.
//
// This variant never evicts idle buckets. Use RateLimitWithCleanup on
// long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return limitWith(newRateLimiter(cfg))
}

// RateLimitWithCleanup is RateLimit plus a background goroutine that evicts
// stale buckets every two windows until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * rl.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.evictStale(now)
			}
		}
	}()
	return limitWith(rl)
}

func limitWith(rl *rateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, allowed := rl.allow(rl.cfg.KeyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := time.Until(resetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// defaultKeyFunc keys authenticated requests by a digest of the presented
// credential so each API key gets its own budget, and anonymous requests by
// client IP (X-Forwarded-For, then X-Real-IP, then RemoteAddr).
func defaultKeyFunc(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		sum := sha256.Sum256([]byte(authz))
		return "cred:" + hex.EncodeToString(sum[:8])
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
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
