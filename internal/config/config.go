package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the learnpath configuration. It is loaded once at startup and
// treated as immutable; the With* methods return modified copies.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Progress ProgressConfig `toml:"progress"`
	Manifest ManifestConfig `toml:"manifest"`
	SSE      SSEConfig      `toml:"sse"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	DocsDir     string   `toml:"docs_dir"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per second per client IP on /api/. Zero disables it.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// ProgressConfig holds progress storage settings.
type ProgressConfig struct {
	Dir              string `toml:"dir"`
	JournalDir       string `toml:"journal_dir"`
	MaxDocumentBytes int64  `toml:"max_document_bytes"`
}

// ManifestConfig locates the learning-path manifest.
type ManifestConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// SSEConfig holds broadcast registry limits.
type SSEConfig struct {
	MaxConnections   int           `toml:"max_connections"`
	MaxProgressTypes int           `toml:"max_progress_types"`
	MaxHistorySize   int           `toml:"max_history_size"`
	EventTTL         time.Duration `toml:"event_ttl"`
	StaleAfter       time.Duration `toml:"stale_after"`
	Heartbeat        time.Duration `toml:"heartbeat"`
	ClientBuffer     int           `toml:"client_buffer"`
}

// MonitorConfig holds memory monitor settings.
type MonitorConfig struct {
	Interval         time.Duration `toml:"interval"`
	AlertThreshold   int64         `toml:"alert_threshold"`
	CleanupThreshold float64       `toml:"cleanup_threshold"`
	HistorySize      int           `toml:"history_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string        `toml:"level"`
	Format      string        `toml:"format"`
	SlowRequest time.Duration `toml:"slow_request"`
	SkipPaths   []string      `toml:"skip_paths"`
}

// DefaultDir returns the default config directory (~/.learnpath).
// If LEARNPATH_DIR is set, uses that path instead.
func DefaultDir() (string, error) {
	if d := os.Getenv("LEARNPATH_DIR"); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".learnpath"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        3002,
			DocsDir:     "docs",
			CORSOrigins: []string{"*"},
			RateLimit:   10,
			RateBurst:   30,
		},
		Progress: ProgressConfig{
			Dir:              "~/.learnpath/progress",
			JournalDir:       "~/.learnpath/journal",
			MaxDocumentBytes: 1 << 20,
		},
		Manifest: ManifestConfig{
			Path:  "docs/learning-paths.yaml",
			Watch: true,
		},
		SSE: SSEConfig{
			MaxConnections:   100,
			MaxProgressTypes: 50,
			MaxHistorySize:   100,
			EventTTL:         time.Hour,
			StaleAfter:       5 * time.Minute,
			Heartbeat:        15 * time.Second,
			ClientBuffer:     64,
		},
		Monitor: MonitorConfig{
			Interval:         30 * time.Second,
			AlertThreshold:   10_000_000,
			CleanupThreshold: 0.8,
			HistorySize:      100,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "text",
			SlowRequest: time.Second,
			SkipPaths:   []string{"/api/progress/events"},
		},
	}
}

// Load reads config from the default path, applying defaults.
// If the file doesn't exist, returns a config with defaults.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from the given path. Keys missing from the file keep
// their default values.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("invalid server rate limit %v/%d: must not be negative", c.Server.RateLimit, c.Server.RateBurst)
	}
	if hb, stale := c.SSE.Heartbeat, c.SSE.StaleAfter; hb > 0 && stale > 0 && hb >= stale {
		return fmt.Errorf("invalid sse.heartbeat %v: must be shorter than sse.stale_after %v", hb, stale)
	}
	if t := c.Monitor.CleanupThreshold; t < 0 || t > 1 {
		return fmt.Errorf("invalid monitor.cleanup_threshold %v: must be between 0 and 1", t)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// SaveTo writes config to the given path, creating directories as needed.
func (c Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// WithPort returns a copy with the server port replaced.
func (c Config) WithPort(port int) Config {
	c.Server.Port = port
	return c
}

// WithLogLevel returns a copy with the log level replaced.
func (c Config) WithLogLevel(level string) Config {
	c.Log.Level = level
	c.Log.SkipPaths = append([]string(nil), c.Log.SkipPaths...)
	return c
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// ProgressDir returns the expanded progress storage directory.
func (c Config) ProgressDir() (string, error) {
	return ExpandPath(c.Progress.Dir)
}

// JournalDir returns the expanded journal directory.
func (c Config) JournalDir() (string, error) {
	return ExpandPath(c.Progress.JournalDir)
}

// ManifestPath returns the expanded manifest path.
func (c Config) ManifestPath() (string, error) {
	return ExpandPath(c.Manifest.Path)
}

// DocsDir returns the expanded static docs directory.
func (c Config) DocsDir() (string, error) {
	return ExpandPath(c.Server.DocsDir)
}

// EnsureDirs creates the progress and journal directories if they don't exist.
func (c Config) EnsureDirs() error {
	for _, get := range []func() (string, error){c.ProgressDir, c.JournalDir} {
		dir, err := get()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
