package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boozedog/learnpath/internal/journal"
	"github.com/boozedog/learnpath/internal/manifest"
	"github.com/boozedog/learnpath/internal/progress"
	"github.com/boozedog/learnpath/internal/web/handler"
	"github.com/boozedog/learnpath/internal/web/sse"
)

const testManifest = `version: 1
paths:
  - id: foundations
    title: Foundations
    description: Start **here**.
    items:
      - id: intro
        title: Introduction
        type: guide
        path: /learning/intro.md
`

type testEnv struct {
	mux        *http.ServeMux
	registry   *sse.Registry
	holder     *manifest.Holder
	journalDir string
}

// testSetup wires a handler over temp dirs and returns a mux with the
// server's routes.
func testSetup(t *testing.T, cfg sse.Config) *testEnv {
	t.Helper()

	registry := sse.NewRegistry(cfg)
	t.Cleanup(registry.Close)

	journalDir := t.TempDir()
	svc := progress.NewService(progress.NewStore(t.TempDir()), registry, journal.NewLog(journalDir))

	m, err := manifest.Parse([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	holder := manifest.NewHolder(m)

	h := handler.New(svc, registry, holder, handler.Options{
		Heartbeat:        20 * time.Millisecond,
		MaxDocumentBytes: 256,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/progress/save", h.SaveProgress)
	mux.HandleFunc("GET /api/progress/load/{type}/{id}", h.LoadProgress)
	mux.HandleFunc("GET /api/progress/list/{type}", h.ListProgress)
	mux.HandleFunc("GET /api/progress/events", h.Events)
	mux.HandleFunc("GET /api/learning-paths", h.LearningPaths)

	return &testEnv{mux: mux, registry: registry, holder: holder, journalDir: journalDir}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v (%q)", err, w.Body.String())
	}
	return body.Error
}

func TestSaveAndLoad(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	w := env.do(t, http.MethodPost, "/api/progress/save", `{"type":"kata","id":"k1","data":{"done":true}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var saved struct {
		Success bool   `json:"success"`
		Type    string `json:"type"`
		ID      string `json:"id"`
	}
	if err := json.NewDecoder(w.Body).Decode(&saved); err != nil {
		t.Fatal(err)
	}
	if !saved.Success || saved.Type != "kata" || saved.ID != "k1" {
		t.Errorf("unexpected save response %+v", saved)
	}

	w = env.do(t, http.MethodGet, "/api/progress/load/kata/k1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("load: expected 200, got %d", w.Code)
	}
	var doc progress.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if string(doc.Data) != `{"done":true}` {
		t.Errorf("Data = %s", doc.Data)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestSaveBroadcastsAndJournals(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	client, err := env.registry.Connect([]string{"kata"})
	if err != nil {
		t.Fatal(err)
	}
	defer env.registry.Disconnect(client.ID)

	w := env.do(t, http.MethodPost, "/api/progress/save", `{"type":"kata","id":"k1","data":[1,2]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d", w.Code)
	}

	select {
	case ev := <-client.Events():
		var change progress.Change
		if err := json.Unmarshal(ev.Payload, &change); err != nil {
			t.Fatal(err)
		}
		if change.Type != "kata" || change.ID != "k1" {
			t.Errorf("unexpected change %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	entries, err := journal.Read(env.journalDir, journal.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "k1" || entries[0].Action != journal.ActionSave {
		t.Errorf("unexpected journal entries %+v", entries)
	}
}

func TestSaveErrors(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest},
		{"invalid type", `{"type":"../etc","id":"x","data":{}}`, http.StatusBadRequest},
		{"missing id", `{"type":"kata","data":{}}`, http.StatusBadRequest},
		{"missing data", `{"type":"kata","id":"x"}`, http.StatusBadRequest},
		{"too large", `{"type":"kata","id":"x","data":"` + strings.Repeat("a", 300) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/progress/save", tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if msg := decodeError(t, w); msg == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestSaveReservedTypeNotBroadcast(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	client, err := env.registry.Connect([]string{manifest.EventType})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/progress/save", `{"type":"manifest","id":"u1","data":{}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case ev := <-client.Events():
		t.Fatalf("unexpected %s event: %s", ev.Type, ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadNotFound(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	w := env.do(t, http.MethodGet, "/api/progress/load/kata/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if msg := decodeError(t, w); !strings.Contains(msg, "not found") {
		t.Errorf("error = %q", msg)
	}
}

func TestList(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	w := env.do(t, http.MethodGet, "/api/progress/list/kata", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("empty list should encode as [], got %s", w.Body.String())
	}

	for _, id := range []string{"b", "a"} {
		if w := env.do(t, http.MethodPost, "/api/progress/save", `{"type":"kata","id":"`+id+`","data":1}`); w.Code != http.StatusOK {
			t.Fatalf("save %s: %d", id, w.Code)
		}
	}

	w = env.do(t, http.MethodGet, "/api/progress/list/kata", "")
	var list struct {
		Type  string             `json:"type"`
		Items []progress.Summary `json:"items"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Type != "kata" || len(list.Items) != 2 || list.Items[0].ID != "a" || list.Items[1].ID != "b" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestLearningPaths(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())

	w := env.do(t, http.MethodGet, "/api/learning-paths", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var m manifest.Manifest
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if len(m.Paths) != 1 || m.Paths[0].ID != "foundations" {
		t.Errorf("unexpected manifest %+v", m)
	}
	if !strings.Contains(m.Paths[0].DescriptionHTML, "<strong>here</strong>") {
		t.Errorf("DescriptionHTML = %q", m.Paths[0].DescriptionHTML)
	}

	env.holder.Set(nil)
	w = env.do(t, http.MethodGet, "/api/learning-paths", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without manifest, got %d", w.Code)
	}
}

// sseReader reads SSE frames from a live stream.
type sseReader struct {
	t  *testing.T
	sc *bufio.Scanner
}

// next returns the next frame's lines, skipping comment-only frames unless
// comments is set.
func (r *sseReader) next(comments bool) []string {
	r.t.Helper()
	var frame []string
	for r.sc.Scan() {
		line := r.sc.Text()
		if line == "" {
			if len(frame) == 0 {
				continue
			}
			if !comments && strings.HasPrefix(frame[0], ":") {
				frame = nil
				continue
			}
			return frame
		}
		frame = append(frame, line)
	}
	r.t.Fatalf("stream ended: %v", r.sc.Err())
	return nil
}

func openStream(t *testing.T, srv *httptest.Server, query, lastEventID string) (*sseReader, *http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/progress/events"+query, nil)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return &sseReader{t: t, sc: bufio.NewScanner(resp.Body)}, resp, cancel
}

func waitForClients(t *testing.T, reg *sse.Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for reg.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", reg.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	stream, resp, cancel := openStream(t, srv, "?types=kata,lab", "")
	defer cancel()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := stream.next(true); got[0] != ": connected" {
		t.Errorf("first frame = %v, want connected comment", got)
	}
	waitForClients(t, env.registry, 1)

	if _, err := env.registry.Broadcast("kata", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatal(err)
	}
	got := stream.next(false)
	want := []string{"id: kata:1", "event: kata", `data: {"n":1}`}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("frame = %q, want %q", got, want)
	}

	// Heartbeats keep flowing while idle.
	if got := stream.next(true); got[0] != ": heartbeat" {
		t.Errorf("expected heartbeat, got %v", got)
	}

	cancel()
	waitForClients(t, env.registry, 0)
}

func TestEventsReplay(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	for i := range 3 {
		if _, err := env.registry.Broadcast("kata", json.RawMessage(`{"i":`+string(rune('0'+i))+`}`)); err != nil {
			t.Fatal(err)
		}
	}

	stream, _, cancel := openStream(t, srv, "?types=kata", "kata:1")
	defer cancel()

	for _, id := range []string{"id: kata:2", "id: kata:3"} {
		got := stream.next(false)
		if got[0] != id {
			t.Errorf("replayed %v, want %s", got, id)
		}
	}

	waitForClients(t, env.registry, 1)
	if _, err := env.registry.Broadcast("kata", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	if got := stream.next(false); got[0] != "id: kata:4" {
		t.Errorf("live frame = %v, want kata:4", got)
	}
}

func TestEventsRejections(t *testing.T) {
	cfg := sse.DefaultConfig()
	cfg.MaxConnections = 1
	env := testSetup(t, cfg)

	w := env.do(t, http.MethodGet, "/api/progress/events", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("no types: expected 400, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/progress/events?types=bad/type", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid type: expected 400, got %d", w.Code)
	}

	client, err := env.registry.Connect([]string{"kata"})
	if err != nil {
		t.Fatal(err)
	}
	defer env.registry.Disconnect(client.ID)

	w = env.do(t, http.MethodGet, "/api/progress/events?types=kata", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("over limit: expected 503, got %d", w.Code)
	}
}

func TestEventsEndsOnRegistryClose(t *testing.T) {
	env := testSetup(t, sse.DefaultConfig())
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	stream, _, cancel := openStream(t, srv, "?types=kata", "")
	defer cancel()
	stream.next(true)
	waitForClients(t, env.registry, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for stream.sc.Scan() {
		}
	}()

	env.registry.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after registry close")
	}
}
