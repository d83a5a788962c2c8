package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/boozedog/learnpath/internal/config"
	"github.com/boozedog/learnpath/internal/manifest"
	"github.com/boozedog/learnpath/internal/progress"
	"github.com/boozedog/learnpath/internal/web/handler"
	"github.com/boozedog/learnpath/internal/web/middleware"
	"github.com/boozedog/learnpath/internal/web/sse"
	"golang.org/x/time/rate"
)

// Deps are the services the server routes to. The caller owns their lifetime.
type Deps struct {
	Progress *progress.Service
	Registry *sse.Registry
	Manifest *manifest.Holder
}

// Server is the learnpath HTTP server: the progress API, the SSE stream and
// the static docs site.
type Server struct {
	cfg  config.Config
	deps Deps
	srv  *http.Server
}

// NewServer creates a new web server.
func NewServer(cfg config.Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Handler builds the routed and middleware-wrapped handler. ctx bounds the
// rate limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) (http.Handler, error) {
	h := handler.New(s.deps.Progress, s.deps.Registry, s.deps.Manifest, handler.Options{
		Heartbeat:        s.cfg.SSE.Heartbeat,
		MaxDocumentBytes: s.cfg.Progress.MaxDocumentBytes,
	})

	mux := http.NewServeMux()

	// Progress API.
	mux.HandleFunc("POST /api/progress/save", h.SaveProgress)
	mux.HandleFunc("GET /api/progress/load/{type}/{id}", h.LoadProgress)
	mux.HandleFunc("GET /api/progress/list/{type}", h.ListProgress)
	mux.HandleFunc("GET /api/learning-paths", h.LearningPaths)

	// SSE endpoint.
	mux.HandleFunc("GET /api/progress/events", h.Events)

	// Static docs site.
	docsDir, err := s.cfg.DocsDir()
	if err != nil {
		return nil, fmt.Errorf("get docs dir: %w", err)
	}
	mux.Handle("GET /", http.FileServer(http.Dir(docsDir)))

	logCfg := middleware.LoggerConfig{
		SlowThreshold: s.cfg.Log.SlowRequest,
		SkipPaths:     s.cfg.Log.SkipPaths,
	}

	var limit middleware.Middleware
	if s.cfg.Server.RateLimit > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.Rate = rate.Limit(s.cfg.Server.RateLimit)
		if s.cfg.Server.RateBurst > 0 {
			rl.Burst = s.cfg.Server.RateBurst
		}
		limit = middleware.RateLimit(ctx, rl)
	}

	return middleware.Chain(mux,
		middleware.RequestLogger(logCfg),
		middleware.CORS(s.cfg.Server.CORSOrigins),
		limit,
	), nil
}

// ListenAndServe starts the server and blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	h, err := s.Handler(ctx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:     h,
		ReadTimeout: 5 * time.Second,
		// WriteTimeout is deliberately unset (0 = no timeout) because SSE
		// connections are long-lived. A per-handler write timeout would
		// kill the events stream and trigger aggressive browser reconnects
		// that exhaust the HTTP/1.1 connection pool.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		slog.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", fmt.Sprintf("http://localhost:%d", ln.Addr().(*net.TCPAddr).Port))
	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
