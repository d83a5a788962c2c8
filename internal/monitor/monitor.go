package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boozedog/learnpath/internal/web/sse"
)

// StatsProvider is what the monitor samples and cleans. *sse.Registry implements it.
type StatsProvider interface {
	MemoryStats() sse.Stats
	MaxConnections() int
	MaxProgressTypes() int
	MaxHistorySize() int
	ShouldTriggerCleanup() bool
	CleanupExpiredEvents() (int, error)
	CleanupUnusedProgressTypes() (int, error)
	CleanupStaleConnections() (int, error)
}

// Options holds monitor settings. Zero fields take the defaults from DefaultOptions.
type Options struct {
	Interval         time.Duration
	AlertThreshold   int64
	CleanupThreshold float64
	HistorySize      int
}

// DefaultOptions returns the default monitor settings.
func DefaultOptions() Options {
	return Options{
		Interval:         30 * time.Second,
		AlertThreshold:   10_000_000,
		CleanupThreshold: 0.8,
		HistorySize:      100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.AlertThreshold <= 0 {
		o.AlertThreshold = d.AlertThreshold
	}
	if o.CleanupThreshold <= 0 {
		o.CleanupThreshold = d.CleanupThreshold
	}
	if o.HistorySize <= 0 {
		o.HistorySize = d.HistorySize
	}
	return o
}

// Snapshot is one timestamped sample.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Stats     sse.Stats `json:"stats"`
}

// TickerFunc starts a ticker and returns its channel and a stop function.
type TickerFunc func(time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTicker replaces the interval ticker. Used by tests.
func WithTicker(fn TickerFunc) Option {
	return func(m *Monitor) { m.newTicker = fn }
}

// WithClock replaces time.Now for snapshot and cleanup timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

type subscription struct {
	id int
	fn Listener
}

// Monitor periodically samples a StatsProvider, keeps a bounded history of
// snapshots and emits threshold notifications.
type Monitor struct {
	provider  StatsProvider
	opts      Options
	newTicker TickerFunc
	now       func() time.Time

	mu      sync.Mutex
	history []Snapshot
	running bool
	stop    chan struct{}
	done    chan struct{}

	lmu       sync.RWMutex
	listeners []subscription
	nextID    int
}

// New creates a stopped monitor.
func New(provider StatsProvider, opts Options, options ...Option) *Monitor {
	m := &Monitor{
		provider:  provider,
		opts:      opts.withDefaults(),
		newTicker: realTicker,
		now:       time.Now,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Options returns the effective settings.
func (m *Monitor) Options() Options { return m.opts }

// Subscribe registers a listener and returns a function that removes it.
// Listeners must not call Stop.
func (m *Monitor) Subscribe(fn Listener) (cancel func()) {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})
	m.lmu.Unlock()

	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		for i, s := range m.listeners {
			if s.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Monitor) emit(n Notification) {
	m.lmu.RLock()
	subs := make([]subscription, len(m.listeners))
	copy(subs, m.listeners)
	m.lmu.RUnlock()

	for _, s := range subs {
		s.fn(n)
	}
}

// Start begins sampling every Interval. Calling Start while running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ticks, stopTicker := m.newTicker(m.opts.Interval)
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(ticks, stopTicker, m.stop, m.done)

	slog.Info("memory monitor started", "interval", m.opts.Interval)
}

// Stop cancels the ticker and waits for an in-flight tick to finish.
// It is safe to call when the monitor is not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
	slog.Info("memory monitor stopped")
}

// IsActive reports whether the ticker is running.
func (m *Monitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ticks <-chan time.Time, stopTicker func(), stop, done chan struct{}) {
	defer close(done)
	defer stopTicker()
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			m.tick()
		}
	}
}

// tick isolates one sample so a failing provider cannot end the loop.
func (m *Monitor) tick() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("memory check failed", "panic", r)
		}
	}()
	m.CheckMemoryUsage()
}

// CheckMemoryUsage samples the provider, records the snapshot, evaluates
// thresholds and emits MemoryCheck.
func (m *Monitor) CheckMemoryUsage() {
	stats := m.provider.MemoryStats()
	snap := Snapshot{Timestamp: m.now(), Stats: stats}

	m.mu.Lock()
	m.history = append(m.history, snap)
	if over := len(m.history) - m.opts.HistorySize; over > 0 {
		m.history = append([]Snapshot(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	m.CheckThresholds(stats)
	m.emit(MemoryCheck(snap))
}

// CheckThresholds emits a notification for every limit stats exceeds, then
// runs a cleanup if the provider asks for one. The provider's predicate is
// independent of the four thresholds.
func (m *Monitor) CheckThresholds(stats sse.Stats) {
	th := m.opts.CleanupThreshold

	if maxConn := m.provider.MaxConnections(); float64(stats.ClientCount) > float64(maxConn)*th {
		m.emit(ConnectionThresholdExceeded{Current: stats.ClientCount, Max: maxConn, Threshold: th})
	}

	if maxTypes := m.provider.MaxProgressTypes(); float64(stats.ProgressTypeCount) > float64(maxTypes)*th {
		m.emit(ProgressTypeThresholdExceeded{Current: stats.ProgressTypeCount, Max: maxTypes, Threshold: th})
	}

	if stats.EstimatedMemoryUsage > m.opts.AlertThreshold {
		m.emit(MemoryThresholdExceeded{Current: stats.EstimatedMemoryUsage, Threshold: m.opts.AlertThreshold})
	}

	maxEvents := m.provider.MaxHistorySize() * stats.ProgressTypeCount
	if float64(stats.TotalEventHistory) > float64(maxEvents)*th {
		m.emit(EventHistoryThresholdExceeded{Current: stats.TotalEventHistory, Max: maxEvents, Threshold: th})
	}

	if m.provider.ShouldTriggerCleanup() {
		m.TriggerCleanup()
	}
}

// TriggerCleanup evicts expired events, unused progress types and stale
// connections, in that order. The first failure stops the sequence and is
// reported as CleanupError; it is never returned or re-panicked.
func (m *Monitor) TriggerCleanup() {
	step := ""
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			slog.Error("cleanup failed", "step", step, "err", err)
			m.emit(CleanupError{Step: step, Err: err})
		}
	}()

	var removed Removed
	steps := []struct {
		name string
		fn   func() (int, error)
		dst  *int
	}{
		{"expired_events", m.provider.CleanupExpiredEvents, &removed.Events},
		{"unused_progress_types", m.provider.CleanupUnusedProgressTypes, &removed.ProgressTypes},
		{"stale_connections", m.provider.CleanupStaleConnections, &removed.Connections},
	}
	for _, s := range steps {
		step = s.name
		n, err := s.fn()
		if err != nil {
			slog.Error("cleanup failed", "step", s.name, "err", err)
			m.emit(CleanupError{Step: s.name, Err: err})
			return
		}
		*s.dst = n
	}

	m.emit(CleanupTriggered{Timestamp: m.now(), Reason: ReasonAutomatic, Removed: removed})
}

// ExportHistory returns a copy of the retained snapshots, oldest first.
func (m *Monitor) ExportHistory() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// ClearHistory drops all retained snapshots.
func (m *Monitor) ClearHistory() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}
