package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/boozedog/learnpath/internal/manifest"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound is returned when no document exists for a type and id.
	ErrNotFound = errors.New("progress document not found")
	// ErrInvalidName is returned for a type or id that is not a safe file name.
	ErrInvalidName = errors.New("invalid progress type or id")
	// ErrInvalidData is returned when the document data is not valid JSON.
	ErrInvalidData = errors.New("progress data is not valid JSON")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidName reports whether s can be used as a progress type or id.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// reservedType reports whether t names an SSE event type owned by the server.
// Saving under it would broadcast on the manifest reload channel.
func reservedType(t string) bool {
	return t == manifest.EventType
}

// Document is one persisted progress record.
type Document struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

// Summary describes a stored document without its data.
type Summary struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Size      int64     `json:"size"`
}

// Store provides file-based progress storage at <dir>/<type>/<id>.json.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the storage root.
func (s *Store) Dir() string { return s.dir }

// Save stamps UpdatedAt and writes the document. Writers to the same type are
// serialized with flock; the file is replaced by rename so readers never see
// a partial write.
func (s *Store) Save(doc *Document) error {
	if !ValidName(doc.Type) || !ValidName(doc.ID) {
		return ErrInvalidName
	}
	if reservedType(doc.Type) {
		return fmt.Errorf("%w: type %q is reserved", ErrInvalidName, doc.Type)
	}
	if len(doc.Data) == 0 || !json.Valid(doc.Data) {
		return ErrInvalidData
	}

	typeDir := filepath.Join(s.dir, doc.Type)
	if err := os.MkdirAll(typeDir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	lock, err := os.OpenFile(filepath.Join(typeDir, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock progress dir: %w", err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	doc.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(typeDir, doc.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmpName, s.path(doc.Type, doc.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}

	return nil
}

// Load reads a single document.
func (s *Store) Load(progressType, id string) (*Document, error) {
	if !ValidName(progressType) || !ValidName(id) {
		return nil, ErrInvalidName
	}

	data, err := os.ReadFile(s.path(progressType, id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// List returns summaries of every document of a type, sorted by id.
// Unreadable files are skipped.
func (s *Store) List(progressType string) ([]Summary, error) {
	if !ValidName(progressType) {
		return nil, ErrInvalidName
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, progressType))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress dir: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		doc, err := s.Load(progressType, id)
		if err != nil {
			slog.Warn("skipping unreadable progress document", "type", progressType, "id", id, "err", err)
			continue
		}
		out = append(out, Summary{
			Type:      doc.Type,
			ID:        doc.ID,
			UpdatedAt: doc.UpdatedAt,
			Size:      int64(len(doc.Data)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Types returns the progress types that have a directory, sorted.
func (s *Store) Types() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress root: %w", err)
	}

	var types []string
	for _, e := range entries {
		if e.IsDir() && ValidName(e.Name()) {
			types = append(types, e.Name())
		}
	}
	sort.Strings(types)
	return types, nil
}

func (s *Store) path(progressType, id string) string {
	return filepath.Join(s.dir, progressType, id+".json")
}
