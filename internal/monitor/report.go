package monitor

import (
	"encoding/json"
	"math"
	"time"

	"github.com/boozedog/learnpath/internal/web/sse"
)

// Direction classifies the memory trend.
type Direction string

const (
	TrendInsufficientData Direction = "insufficient_data"
	TrendIncreasing       Direction = "increasing"
	TrendDecreasing       Direction = "decreasing"
	TrendStable           Direction = "stable"
)

// trendWindow is the number of snapshots in each compared window.
const trendWindow = 10

// trendSignificance is the percent change beyond which the trend is not stable.
const trendSignificance = 10.0

// Trend compares the mean estimated usage of the latest window of snapshots
// against the window before it.
type Trend struct {
	Trend         Direction `json:"trend"`
	Samples       int       `json:"samples"`
	PercentChange float64   `json:"percentChange"`
	RecentAverage float64   `json:"recentAverage"`
	OlderAverage  float64   `json:"olderAverage"`
}

// MemoryTrend classifies the last trendWindow snapshots against the
// trendWindow before them. Fewer than trendWindow+1 samples is insufficient.
func (m *Monitor) MemoryTrend() Trend {
	history := m.ExportHistory()
	n := len(history)
	if n < 2 {
		return Trend{Trend: TrendInsufficientData, Samples: n}
	}

	recentStart := max(0, n-trendWindow)
	olderStart := max(0, n-2*trendWindow)
	recent := history[recentStart:]
	older := history[olderStart:recentStart]
	if len(older) == 0 {
		return Trend{Trend: TrendInsufficientData, Samples: n}
	}

	recentAvg := meanUsage(recent)
	olderAvg := meanUsage(older)

	var change float64
	switch {
	case olderAvg != 0:
		change = (recentAvg - olderAvg) / olderAvg * 100
	case recentAvg > 0:
		change = 100
	}

	dir := TrendStable
	switch {
	case change > trendSignificance:
		dir = TrendIncreasing
	case change < -trendSignificance:
		dir = TrendDecreasing
	}

	return Trend{
		Trend:         dir,
		Samples:       n,
		PercentChange: math.Round(change*100) / 100,
		RecentAverage: math.Round(recentAvg),
		OlderAverage:  math.Round(olderAvg),
	}
}

func meanUsage(snaps []Snapshot) float64 {
	var sum float64
	for _, s := range snaps {
		sum += float64(s.Stats.EstimatedMemoryUsage)
	}
	return sum / float64(len(snaps))
}

// Limits are the ceilings the report measures against.
type Limits struct {
	MaxConnections   int   `json:"maxConnections"`
	MaxProgressTypes int   `json:"maxProgressTypes"`
	MaxHistorySize   int   `json:"maxHistorySize"`
	AlertThreshold   int64 `json:"alertThreshold"`
}

// Utilization holds rounded percentages of each limit in use.
type Utilization struct {
	Connections   int `json:"connections"`
	ProgressTypes int `json:"progressTypes"`
	EventHistory  int `json:"eventHistory"`
	Memory        int `json:"memory"`
}

// Status describes the monitor itself.
type Status struct {
	IsActive       bool          `json:"isActive"`
	Interval       time.Duration `json:"interval"`
	HistorySamples int           `json:"historySamples"`
}

// MarshalJSON encodes Interval as whole milliseconds.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		IsActive       bool  `json:"isActive"`
		Interval       int64 `json:"interval"`
		HistorySamples int   `json:"historySamples"`
	}{s.IsActive, s.Interval.Milliseconds(), s.HistorySamples})
}

// Report is a full picture of registry usage and monitor state.
type Report struct {
	Timestamp   time.Time   `json:"timestamp"`
	Stats       sse.Stats   `json:"stats"`
	Limits      Limits      `json:"limits"`
	Utilization Utilization `json:"utilization"`
	Trend       Trend       `json:"trend"`
	Monitoring  Status      `json:"monitoring"`
}

// MemoryReport samples current stats and assembles a Report. It does not
// record a snapshot.
func (m *Monitor) MemoryReport() Report {
	stats := m.provider.MemoryStats()
	limits := Limits{
		MaxConnections:   m.provider.MaxConnections(),
		MaxProgressTypes: m.provider.MaxProgressTypes(),
		MaxHistorySize:   m.provider.MaxHistorySize(),
		AlertThreshold:   m.opts.AlertThreshold,
	}

	m.mu.Lock()
	status := Status{
		IsActive:       m.running,
		Interval:       m.opts.Interval,
		HistorySamples: len(m.history),
	}
	m.mu.Unlock()

	return Report{
		Timestamp: m.now(),
		Stats:     stats,
		Limits:    limits,
		Utilization: Utilization{
			Connections:   percent(int64(stats.ClientCount), int64(limits.MaxConnections)),
			ProgressTypes: percent(int64(stats.ProgressTypeCount), int64(limits.MaxProgressTypes)),
			EventHistory:  percent(int64(stats.TotalEventHistory), int64(limits.MaxHistorySize*stats.ProgressTypeCount)),
			Memory:        percent(stats.EstimatedMemoryUsage, limits.AlertThreshold),
		},
		Trend:      m.MemoryTrend(),
		Monitoring: status,
	}
}

func percent(current, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(limit) * 100))
}
