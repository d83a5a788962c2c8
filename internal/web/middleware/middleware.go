package middleware

import (
	"net/http"
	"slices"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so the first middleware runs first. Nil entries are skipped,
// which lets callers leave optional layers out.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			h = mw[i](h)
		}
	}
	return h
}

// matchPath reports whether path is one of paths. Matching is exact so
// "/api/progress/events" does not also cover "/api/progress/events-x".
func matchPath(paths []string, path string) bool {
	return slices.Contains(paths, path)
}
