package monitor

import (
	"time"

	"github.com/boozedog/learnpath/internal/web/sse"
)

// Notification is one of the events a Monitor emits. The set is closed:
// only the types in this file implement it.
type Notification interface {
	notification()
}

// Listener receives notifications synchronously, in subscription order.
type Listener func(Notification)

// MemoryCheck is emitted once per CheckMemoryUsage, after thresholds are evaluated.
type MemoryCheck struct {
	Timestamp time.Time `json:"timestamp"`
	Stats     sse.Stats `json:"stats"`
}

// ConnectionThresholdExceeded fires when ClientCount > Max*Threshold.
type ConnectionThresholdExceeded struct {
	Current   int     `json:"current"`
	Max       int     `json:"max"`
	Threshold float64 `json:"threshold"`
}

// ProgressTypeThresholdExceeded fires when ProgressTypeCount > Max*Threshold.
type ProgressTypeThresholdExceeded struct {
	Current   int     `json:"current"`
	Max       int     `json:"max"`
	Threshold float64 `json:"threshold"`
}

// MemoryThresholdExceeded fires when the estimated usage is above the alert threshold.
type MemoryThresholdExceeded struct {
	Current   int64 `json:"current"`
	Threshold int64 `json:"threshold"`
}

// EventHistoryThresholdExceeded fires when the total retained events exceed
// Max*Threshold, where Max is MaxHistorySize times the number of progress types.
type EventHistoryThresholdExceeded struct {
	Current   int     `json:"current"`
	Max       int     `json:"max"`
	Threshold float64 `json:"threshold"`
}

// ReasonAutomatic marks a cleanup started by the monitor itself.
const ReasonAutomatic = "automatic"

// Removed counts what a cleanup pass evicted.
type Removed struct {
	Events        int `json:"events"`
	ProgressTypes int `json:"progressTypes"`
	Connections   int `json:"connections"`
}

// CleanupTriggered is emitted after all cleanup steps succeed.
type CleanupTriggered struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Removed   Removed   `json:"removed"`
}

// CleanupError is emitted when a cleanup step fails. Later steps are skipped.
type CleanupError struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

func (MemoryCheck) notification()                   {}
func (ConnectionThresholdExceeded) notification()   {}
func (ProgressTypeThresholdExceeded) notification() {}
func (MemoryThresholdExceeded) notification()       {}
func (EventHistoryThresholdExceeded) notification() {}
func (CleanupTriggered) notification()              {}
func (CleanupError) notification()                  {}
