package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/boozedog/learnpath/internal/progress"
	"github.com/boozedog/learnpath/internal/web/sse"
)

// Events handles the SSE endpoint. The comma separated "types" query
// parameter selects the progress types to follow. A Last-Event-ID of the
// form "type:seq" replays that type's retained history after seq.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	types := strings.Split(r.URL.Query().Get("types"), ",")
	for _, t := range types {
		if t != "" && !progress.ValidName(t) {
			writeError(w, r, fmt.Errorf("%w: %q", sse.ErrInvalidType, t))
			return
		}
	}

	client, err := h.registry.Connect(types)
	if err != nil {
		if !errors.Is(err, sse.ErrInvalidType) {
			slog.Warn("sse connection refused", "err", err, "remote", r.RemoteAddr)
		}
		writeError(w, r, err)
		return
	}
	defer h.registry.Disconnect(client.ID)

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}

	// Highest seq written per type, so live events already covered by the
	// replay are not sent twice.
	sent := make(map[string]uint64)
	if t, seq, ok := sse.ParseEventID(r.Header.Get("Last-Event-ID")); ok && slices.Contains(client.Types(), t) {
		for _, ev := range h.registry.History(t, seq) {
			if err := writeEvent(w, ev); err != nil {
				return
			}
			sent[t] = ev.Seq
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	// Heartbeat detects stale connections when no events are flowing.
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			h.registry.Touch(client.ID)
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			if ev.Seq <= sent[ev.Type] {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			sent[ev.Type] = ev.Seq
			if err := rc.Flush(); err != nil {
				return
			}
			h.registry.Touch(client.ID)
		}
	}
}

// writeEvent writes ev in SSE framing. Multi-line payloads get one data
// line each.
func writeEvent(w io.Writer, ev sse.Event) error {
	data := bytes.ReplaceAll(ev.Payload, []byte("\n"), []byte("\ndata: "))
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID(), ev.Type, data)
	return err
}
