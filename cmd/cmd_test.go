package cmd

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boozedog/learnpath/internal/config"
	"github.com/boozedog/learnpath/internal/journal"
	"github.com/boozedog/learnpath/internal/manifest"
	"github.com/boozedog/learnpath/internal/progress"
	"github.com/boozedog/learnpath/internal/web/sse"
)

// testEnv sets up a temp home, config dir and data dirs.
// It sets HOME and LEARNPATH_DIR so config.Load() and the default paths
// resolve inside the test directory.
type testEnv struct {
	ConfigDir    string
	ProgressDir  string
	JournalDir   string
	ManifestPath string
	Store        *progress.Store
	Journal      *journal.Log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	baseDir := t.TempDir()
	configDir := filepath.Join(baseDir, "config")
	progressDir := filepath.Join(baseDir, "data", "progress")
	journalDir := filepath.Join(baseDir, "data", "journal")
	manifestPath := filepath.Join(baseDir, "docs", "learning-paths.yaml")

	for _, d := range []string{configDir, filepath.Dir(manifestPath)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("create %s: %v", d, err)
		}
	}

	configContent := "[progress]\ndir = \"" + progressDir + "\"\njournal_dir = \"" + journalDir + "\"\n\n[manifest]\npath = \"" + manifestPath + "\"\n"
	if err := os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config.toml: %v", err)
	}

	t.Setenv("HOME", baseDir)
	t.Setenv("LEARNPATH_DIR", configDir)

	return &testEnv{
		ConfigDir:    configDir,
		ProgressDir:  progressDir,
		JournalDir:   journalDir,
		ManifestPath: manifestPath,
		Store:        progress.NewStore(progressDir),
		Journal:      journal.NewLog(journalDir),
	}
}

func (e *testEnv) save(t *testing.T, progressType, id, data string) {
	t.Helper()
	if err := e.Store.Save(&progress.Document{Type: progressType, ID: id, Data: json.RawMessage(data)}); err != nil {
		t.Fatalf("save %s/%s: %v", progressType, id, err)
	}
}

// runCmd executes a cobra command with the given args and captures stdout.
// Commands use fmt.Printf (writes to os.Stdout), so we redirect os.Stdout
// to a pipe to capture output.
func (e *testEnv) runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}
	os.Stdout = w

	// Reset global flag vars to avoid state leakage between tests
	resetFlags()

	rootCmd.SetArgs(args)
	execErr := rootCmd.Execute()

	w.Close()
	os.Stdout = origStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	r.Close()

	return string(out), execErr
}

// resetFlags resets package-level flag variables to their defaults
// so tests don't leak state between runs.
func resetFlags() {
	configPath = ""
	logLevel = ""
	servePort = 0
	journalType = ""
	journalID = ""
	journalSince = 0
}

func TestInit(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.ConfigDir, "fresh.toml")

	out, err := env.runCmd(t, "init", "--config", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Wrote config to "+path) {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config not written: %v", err)
	}

	out, err = env.runCmd(t, "init", "--config", path)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("second init output = %q", out)
	}
}

func TestInitCreatesDirs(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.runCmd(t, "init"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range []string{env.ProgressDir, env.JournalDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("expected dir %s: %v", d, err)
		}
	}
}

func TestProgressListTypes(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.runCmd(t, "progress", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No progress saved.") {
		t.Errorf("output = %q", out)
	}

	env.save(t, "kata", "k1", `{}`)
	env.save(t, "lab", "l1", `{}`)

	out, err = env.runCmd(t, "progress", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "kata\nlab\n" {
		t.Errorf("output = %q, want kata and lab", out)
	}
}

func TestProgressListDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, "kata", "b-kata", `{"score":2}`)
	env.save(t, "kata", "a-kata", `{"score":1}`)

	out, err := env.runCmd(t, "progress", "list", "kata")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.HasPrefix(lines[1], "a-kata") || !strings.HasPrefix(lines[2], "b-kata") {
		t.Errorf("unexpected rows %q", lines)
	}

	out, err = env.runCmd(t, "progress", "list", "lab")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No lab progress saved.") {
		t.Errorf("output = %q", out)
	}
}

func TestProgressShow(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, "kata", "k1", `{"done":true}`)

	out, err := env.runCmd(t, "progress", "show", "kata", "k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "kata/k1 (updated ") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "\"done\": true") {
		t.Errorf("expected indented data, got %q", out)
	}

	_, err = env.runCmd(t, "progress", "show", "kata", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestJournal(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	for _, e := range []journal.Entry{
		{TS: now.Add(-48 * time.Hour), Action: journal.ActionSave, Type: "kata", ID: "old", Bytes: 2},
		{TS: now.Add(-time.Minute), Action: journal.ActionSave, Type: "kata", ID: "k1", Bytes: 10, Remote: "127.0.0.1"},
		{TS: now, Action: journal.ActionSave, Type: "lab", ID: "l1", Bytes: 4},
	} {
		if err := env.Journal.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	out, err := env.runCmd(t, "journal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 4 {
		t.Errorf("expected header + 3 rows, got %q", out)
	}

	out, err = env.runCmd(t, "journal", "--type", "kata", "--since", "24h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "k1") || strings.Contains(out, "old") || strings.Contains(out, "l1") {
		t.Errorf("filtered output = %q", out)
	}
	if !strings.Contains(out, "127.0.0.1") {
		t.Errorf("expected remote in output, got %q", out)
	}

	out, err = env.runCmd(t, "journal", "--id", "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No saves found.") {
		t.Errorf("output = %q", out)
	}
}

const testManifest = `version: 1
paths:
  - id: foundations
    title: Foundations
    items:
      - id: intro
        title: Introduction
        type: guide
        path: /learning/intro.md
      - id: first
        title: First kata
        type: kata
        path: /katas/first.md
`

func TestManifestCheck(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.ManifestPath, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := env.runCmd(t, "manifest", "check")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1 paths, 2 items") || !strings.Contains(out, "foundations") {
		t.Errorf("output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("paths:\n  - title: no id\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = env.runCmd(t, "manifest", "check", bad)
	if err == nil || !strings.Contains(err.Error(), "missing id") {
		t.Errorf("err = %v, want missing id", err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.runCmd(t, "progress", "list", "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Errorf("err = %v, want unknown log level", err)
	}
}

func TestBroadcastManifest(t *testing.T) {
	registry := sse.NewRegistry(sse.DefaultConfig())
	defer registry.Close()

	client, err := registry.Connect([]string{manifest.EventType})
	if err != nil {
		t.Fatal(err)
	}

	m, err := manifest.Parse([]byte(testManifest))
	if err != nil {
		t.Fatal(err)
	}
	broadcastManifest(registry, m)

	select {
	case ev := <-client.Events():
		var change manifest.Change
		if err := json.Unmarshal(ev.Payload, &change); err != nil {
			t.Fatal(err)
		}
		if ev.Type != manifest.EventType || change.Paths != 1 || change.Items != 2 {
			t.Errorf("unexpected event %s %+v", ev.Type, change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for manifest event")
	}
}

func TestRegistryConfigFromSettings(t *testing.T) {
	cfg := config.Default()
	rc := registryConfig(cfg.SSE, cfg.Monitor.CleanupThreshold)
	if rc.MaxConnections != cfg.SSE.MaxConnections || rc.EventTTL != cfg.SSE.EventTTL || rc.CleanupThreshold != 0.8 {
		t.Errorf("registryConfig = %+v", rc)
	}
	opts := monitorOptions(cfg.Monitor)
	if opts.Interval != 30*time.Second || opts.AlertThreshold != 10_000_000 {
		t.Errorf("monitorOptions = %+v", opts)
	}
}
