package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/boozedog/learnpath/internal/progress"
)

type saveRequest struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type saveResponse struct {
	Success   bool      `json:"success"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveProgress handles POST /api/progress/save.
func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxDocBytes)

	var req saveRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, fmt.Errorf("%w: decode body: %v", errBadRequest, err))
		return
	}

	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}

	doc, err := h.progress.Save(req.Type, req.ID, req.Data, remote)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, saveResponse{
		Success:   true,
		Type:      doc.Type,
		ID:        doc.ID,
		UpdatedAt: doc.UpdatedAt,
	})
}

// LoadProgress handles GET /api/progress/load/{type}/{id}.
func (h *Handler) LoadProgress(w http.ResponseWriter, r *http.Request) {
	doc, err := h.progress.Load(r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type listResponse struct {
	Type  string             `json:"type"`
	Items []progress.Summary `json:"items"`
}

// ListProgress handles GET /api/progress/list/{type}.
func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	progressType := r.PathValue("type")
	items, err := h.progress.List(progressType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []progress.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Type: progressType, Items: items})
}
