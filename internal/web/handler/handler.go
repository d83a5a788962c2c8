package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/boozedog/learnpath/internal/manifest"
	"github.com/boozedog/learnpath/internal/progress"
	"github.com/boozedog/learnpath/internal/web/sse"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	progress    *progress.Service
	registry    *sse.Registry
	manifest    *manifest.Holder
	heartbeat   time.Duration
	maxDocBytes int64
}

// Options tunes Handler. Zero values fall back to defaults.
type Options struct {
	// Heartbeat is the SSE comment interval.
	Heartbeat time.Duration
	// MaxDocumentBytes caps the save request body.
	MaxDocumentBytes int64
}

// New creates a new Handler.
func New(svc *progress.Service, registry *sse.Registry, holder *manifest.Holder, opts Options) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = 1 << 20
	}
	return &Handler{
		progress:    svc,
		registry:    registry,
		manifest:    holder,
		heartbeat:   opts.Heartbeat,
		maxDocBytes: opts.MaxDocumentBytes,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to a status code and writes it as {"error": "..."}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, progress.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, progress.ErrInvalidName),
		errors.Is(err, progress.ErrInvalidData),
		errors.Is(err, sse.ErrInvalidType),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, sse.ErrTooManyConnections),
		errors.Is(err, sse.ErrTooManyProgressTypes),
		errors.Is(err, sse.ErrClosed),
		errors.Is(err, errManifestUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest          = errors.New("bad request")
	errManifestUnavailable = errors.New("learning paths not loaded")
)
