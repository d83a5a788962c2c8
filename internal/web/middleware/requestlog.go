package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"time"
)

// LoggerConfig controls RequestLogger. Values are copied, never shared:
// Merge returns a new config and leaves both inputs untouched.
type LoggerConfig struct {
	// SlowThreshold promotes requests at or above it to warn level. Zero disables.
	SlowThreshold time.Duration
	// SkipPaths are path prefixes that are not logged.
	SkipPaths []string
	// Logger defaults to slog.Default() at request time.
	Logger *slog.Logger
}

// DefaultLoggerConfig returns the request logger defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		SlowThreshold: time.Second,
		SkipPaths:     []string{"/api/progress/events"},
	}
}

// Merge returns c with every non-zero field of o applied on top.
func (c LoggerConfig) Merge(o LoggerConfig) LoggerConfig {
	out := LoggerConfig{
		SlowThreshold: c.SlowThreshold,
		SkipPaths:     slices.Clone(c.SkipPaths),
		Logger:        c.Logger,
	}
	if o.SlowThreshold != 0 {
		out.SlowThreshold = o.SlowThreshold
	}
	if o.SkipPaths != nil {
		out.SkipPaths = slices.Clone(o.SkipPaths)
	}
	if o.Logger != nil {
		out.Logger = o.Logger
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RequestLogger returns middleware that logs one line per request.
func RequestLogger(cfg LoggerConfig) Middleware {
	cfg = DefaultLoggerConfig().Merge(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if matchPath(cfg.SkipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}

			logger := cfg.Logger
			if logger == nil {
				logger = slog.Default()
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case cfg.SlowThreshold > 0 && elapsed >= cfg.SlowThreshold:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", elapsed,
				"bytes", rec.bytes,
			)
		})
	}
}
