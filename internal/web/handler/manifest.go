package handler

import "net/http"

// LearningPaths handles GET /api/learning-paths.
func (h *Handler) LearningPaths(w http.ResponseWriter, r *http.Request) {
	m := h.manifest.Get()
	if m == nil {
		writeError(w, r, errManifestUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
