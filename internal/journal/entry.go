package journal

import "time"

// Actions recorded in the journal.
const (
	ActionSave = "progress.save"
)

// Entry is one line of the save journal.
type Entry struct {
	TS     time.Time `json:"ts"`
	Action string    `json:"action"`
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Bytes  int       `json:"bytes"`
	Remote string    `json:"remote,omitempty"`
}
