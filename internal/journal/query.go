package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Query defines optional filters for scanning the journal.
type Query struct {
	Type   string
	ID     string
	After  time.Time
	Before time.Time
}

// Read scans relevant JSONL files in date order and returns matching entries.
func Read(dir string, q Query) ([]Entry, error) {
	files, err := relevantFiles(dir, q)
	if err != nil {
		return nil, err
	}

	var results []Entry
	for _, path := range files {
		entries, err := scanFile(path, q)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
		}
		results = append(results, entries...)
	}

	return results, nil
}

// relevantFiles returns sorted JSONL paths whose day overlaps the query range.
func relevantFiles(dir string, q Query) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		if !q.After.IsZero() || !q.Before.IsZero() {
			day, err := time.Parse("2006-01-02", strings.TrimSuffix(name, ".jsonl"))
			if err != nil {
				continue
			}
			dayEnd := day.Add(24*time.Hour - time.Nanosecond)
			if !q.After.IsZero() && dayEnd.Before(q.After) {
				continue
			}
			if !q.Before.IsZero() && day.After(q.Before) {
				continue
			}
		}

		paths = append(paths, filepath.Join(dir, name))
	}

	sort.Strings(paths)
	return paths, nil
}

func scanFile(path string, q Query) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var results []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		if matches(e, q) {
			results = append(results, e)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	return results, nil
}

func matches(e Entry, q Query) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.ID != "" && e.ID != q.ID {
		return false
	}
	if !q.After.IsZero() && e.TS.Before(q.After) {
		return false
	}
	if !q.Before.IsZero() && e.TS.After(q.Before) {
		return false
	}
	return true
}
