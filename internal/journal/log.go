package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Log appends entries to daily JSONL files.
type Log struct {
	dir string
}

// NewLog creates a Log that writes to the given directory.
func NewLog(dir string) *Log {
	return &Log{dir: dir}
}

// Dir returns the journal directory.
func (l *Log) Dir() string { return l.dir }

// Append writes a single entry as a JSON line to the daily file named after
// the entry's UTC date (YYYY-MM-DD.jsonl). flock serializes writers across processes.
func (l *Log) Append(e Entry) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	filename := e.TS.UTC().Format("2006-01-02") + ".jsonl"
	path := filepath.Join(l.dir, filename)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock journal file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	return nil
}
