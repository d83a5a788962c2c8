package progress

import (
	"encoding/json"
	"log/slog"

	"github.com/boozedog/learnpath/internal/journal"
	"github.com/boozedog/learnpath/internal/web/sse"
)

// Notifier relays "something changed" events. *sse.Registry implements it.
type Notifier interface {
	Broadcast(progressType string, payload json.RawMessage) (sse.Event, error)
}

// Journal records saves. *journal.Log implements it.
type Journal interface {
	Append(journal.Entry) error
}

// Change is the payload broadcast after a successful save.
type Change struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	UpdatedAt string `json:"updatedAt"`
}

// Service saves documents and announces the change. The store is the source
// of truth; notification and journaling are best effort.
type Service struct {
	store    *Store
	notifier Notifier
	journal  Journal
}

// NewService creates a Service. notifier and journal may be nil.
func NewService(store *Store, notifier Notifier, j Journal) *Service {
	return &Service{store: store, notifier: notifier, journal: j}
}

// Store returns the underlying store.
func (s *Service) Store() *Store { return s.store }

// Save persists data under type and id, then broadcasts and journals the change.
// remote is recorded in the journal only.
func (s *Service) Save(progressType, id string, data json.RawMessage, remote string) (*Document, error) {
	doc := &Document{Type: progressType, ID: id, Data: data}
	if err := s.store.Save(doc); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		payload, err := json.Marshal(Change{
			Type:      doc.Type,
			ID:        doc.ID,
			UpdatedAt: doc.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
		if err == nil {
			_, err = s.notifier.Broadcast(doc.Type, payload)
		}
		if err != nil {
			slog.Warn("broadcast progress change", "type", doc.Type, "id", doc.ID, "err", err)
		}
	}

	if s.journal != nil {
		entry := journal.Entry{
			TS:     doc.UpdatedAt,
			Action: journal.ActionSave,
			Type:   doc.Type,
			ID:     doc.ID,
			Bytes:  len(doc.Data),
			Remote: remote,
		}
		if err := s.journal.Append(entry); err != nil {
			slog.Warn("journal progress save", "type", doc.Type, "id", doc.ID, "err", err)
		}
	}

	slog.Debug("progress saved", "type", doc.Type, "id", doc.ID, "bytes", len(doc.Data))
	return doc, nil
}

// Load returns a stored document.
func (s *Service) Load(progressType, id string) (*Document, error) {
	return s.store.Load(progressType, id)
}

// List returns document summaries for a type.
func (s *Service) List(progressType string) ([]Summary, error) {
	return s.store.List(progressType)
}
