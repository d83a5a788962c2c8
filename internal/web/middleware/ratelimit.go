package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	Rate       rate.Limit
	Burst      int
	StaleAfter time.Duration
	CleanEvery time.Duration
	// Prefix limits only paths under it. Empty limits every path.
	Prefix string
	// ExemptPaths are never limited, e.g. the long-lived SSE stream.
	ExemptPaths []string
}

// DefaultRateLimitConfig returns defaults sized for a docs site's API calls.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:        10,
		Burst:       30,
		StaleAfter:  5 * time.Minute,
		CleanEvery:  3 * time.Minute,
		Prefix:      "/api/",
		ExemptPaths: []string{"/api/progress/events"},
	}
}

func (c RateLimitConfig) exempt(path string) bool {
	if c.Prefix != "" && !strings.HasPrefix(path, c.Prefix) {
		return true
	}
	return matchPath(c.ExemptPaths, path)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorSet holds one limiter per client IP.
type visitorSet struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	visitors map[string]*visitor
}

func newVisitorSet(cfg RateLimitConfig) *visitorSet {
	return &visitorSet{cfg: cfg, visitors: make(map[string]*visitor)}
}

// allow reports whether ip may make a request at now.
func (s *visitorSet) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.cfg.Rate, s.cfg.Burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	s.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// sweep forgets visitors not seen within StaleAfter of now.
func (s *visitorSet) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for ip, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.cfg.StaleAfter {
			delete(s.visitors, ip)
			removed++
		}
	}
	return removed
}

func (s *visitorSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimit returns per-IP rate limiting middleware for paths under
// cfg.Prefix. ctx bounds the background sweep of idle visitors.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	set := newVisitorSet(cfg)

	go func() {
		ticker := time.NewTicker(cfg.CleanEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if n := set.sweep(now); n > 0 {
					slog.Debug("rate limit visitors swept", "removed", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !set.allow(ip, time.Now()) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path) //nolint:gosec // ip is from net.SplitHostPort, not user input
				w.Header().Set("Retry-After", "1")
				writeTooMany(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeTooMany(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
}
