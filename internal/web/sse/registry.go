package sse

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by every mutating call after Close.
	ErrClosed = errors.New("registry closed")
	// ErrTooManyConnections is returned by Connect when MaxConnections is reached.
	ErrTooManyConnections = errors.New("too many connections")
	// ErrTooManyProgressTypes is returned when a new bucket would exceed MaxProgressTypes.
	ErrTooManyProgressTypes = errors.New("too many progress types")
	// ErrInvalidType is returned for an empty progress type.
	ErrInvalidType = errors.New("invalid progress type")
)

// Heuristic byte costs used by MemoryStats. They are estimates, not measurements.
const (
	EventOverhead  = 64
	ClientOverhead = 1024
	BucketOverhead = 256
)

// Config holds registry limits. Zero fields take the defaults from DefaultConfig.
type Config struct {
	MaxConnections   int
	MaxProgressTypes int
	MaxHistorySize   int
	EventTTL         time.Duration
	StaleAfter       time.Duration
	ClientBuffer     int
	CleanupThreshold float64
}

// DefaultConfig returns the default registry limits.
func DefaultConfig() Config {
	return Config{
		MaxConnections:   100,
		MaxProgressTypes: 50,
		MaxHistorySize:   100,
		EventTTL:         time.Hour,
		StaleAfter:       5 * time.Minute,
		ClientBuffer:     64,
		CleanupThreshold: 0.8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MaxProgressTypes <= 0 {
		c.MaxProgressTypes = d.MaxProgressTypes
	}
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = d.MaxHistorySize
	}
	if c.EventTTL <= 0 {
		c.EventTTL = d.EventTTL
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = d.ClientBuffer
	}
	if c.CleanupThreshold <= 0 {
		c.CleanupThreshold = d.CleanupThreshold
	}
	return c
}

// Stats is a point-in-time view of registry usage.
type Stats struct {
	ClientCount          int   `json:"clientCount"`
	ProgressTypeCount    int   `json:"progressTypeCount"`
	TotalEventHistory    int   `json:"totalEventHistory"`
	EstimatedMemoryUsage int64 `json:"estimatedMemoryUsage"`
}

type bucket struct {
	history []Event
	subs    map[string]struct{}
	seq     uint64
}

// Registry tracks SSE clients and a bounded event history per progress type.
// All state is guarded by a single mutex.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	clients map[string]*Client
	buckets map[string]*bucket
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		clients: make(map[string]*Client),
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers a client subscribed to the given progress types.
// The caller must call Disconnect when done.
func (r *Registry) Connect(types []string) (*Client, error) {
	types = normalizeTypes(types)
	if len(types) == 0 {
		return nil, ErrInvalidType
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if len(r.clients) >= r.cfg.MaxConnections {
		r.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	missing := 0
	for _, t := range types {
		if _, ok := r.buckets[t]; !ok {
			missing++
		}
	}
	if len(r.buckets)+missing > r.cfg.MaxProgressTypes {
		r.mu.Unlock()
		return nil, ErrTooManyProgressTypes
	}

	c := &Client{
		ID:           uuid.NewString(),
		types:        types,
		ch:           make(chan Event, r.cfg.ClientBuffer),
		lastActivity: r.now(),
	}
	r.clients[c.ID] = c
	for _, t := range types {
		r.bucketLocked(t).subs[c.ID] = struct{}{}
	}
	total := len(r.clients)
	r.mu.Unlock()

	slog.Debug("sse client connected", "id", c.ID, "types", types, "total", total)
	return c, nil
}

// Disconnect removes a client and closes its channel. Unknown ids are ignored.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		r.removeClientLocked(c)
	}
	total := len(r.clients)
	r.mu.Unlock()

	if ok {
		slog.Debug("sse client disconnected", "id", id, "total", total)
	}
}

// Touch records activity for a client so the stale sweep keeps it.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok && !c.closed {
		c.lastActivity = r.now()
	}
}

// Broadcast appends an event to the progress type's history and sends it to
// every subscriber. Slow clients that can't keep up will have the event dropped.
func (r *Registry) Broadcast(progressType string, payload json.RawMessage) (Event, error) {
	if progressType == "" {
		return Event{}, ErrInvalidType
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Event{}, ErrClosed
	}

	b, ok := r.buckets[progressType]
	if !ok {
		if len(r.buckets) >= r.cfg.MaxProgressTypes {
			return Event{}, ErrTooManyProgressTypes
		}
		b = r.bucketLocked(progressType)
	}

	b.seq++
	ev := Event{
		Seq:       b.seq,
		Type:      progressType,
		Timestamp: r.now(),
		Payload:   slices.Clone(payload),
	}
	b.history = append(b.history, ev)
	if over := len(b.history) - r.cfg.MaxHistorySize; over > 0 {
		b.history = slices.Delete(b.history, 0, over)
	}

	dropped := 0
	for id := range b.subs {
		c := r.clients[id]
		if c == nil || c.closed {
			continue
		}
		select {
		case c.ch <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Warn("dropping event for slow sse clients", "type", progressType, "seq", ev.Seq, "dropped", dropped)
	}
	return ev, nil
}

// History returns copies of the retained events of a progress type with Seq
// greater than after.
func (r *Registry) History(progressType string, after uint64) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[progressType]
	if !ok {
		return nil
	}
	var events []Event
	for _, ev := range b.history {
		if ev.Seq > after {
			ev.Payload = slices.Clone(ev.Payload)
			events = append(events, ev)
		}
	}
	return events
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// MemoryStats computes current usage, including a heuristic byte estimate.
func (r *Registry) MemoryStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		ClientCount:       len(r.clients),
		ProgressTypeCount: len(r.buckets),
	}
	s.EstimatedMemoryUsage = int64(len(r.clients))*ClientOverhead + int64(len(r.buckets))*BucketOverhead
	for _, b := range r.buckets {
		s.TotalEventHistory += len(b.history)
		for _, ev := range b.history {
			s.EstimatedMemoryUsage += int64(len(ev.Payload) + len(ev.Type) + EventOverhead)
		}
	}
	return s
}

// MaxConnections returns the configured connection ceiling.
func (r *Registry) MaxConnections() int { return r.cfg.MaxConnections }

// MaxProgressTypes returns the configured progress type ceiling.
func (r *Registry) MaxProgressTypes() int { return r.cfg.MaxProgressTypes }

// MaxHistorySize returns the per-type history length.
func (r *Registry) MaxHistorySize() int { return r.cfg.MaxHistorySize }

// ShouldTriggerCleanup reports whether client or bucket counts have reached the
// cleanup threshold of their limits, or any retained event is past its TTL.
func (r *Registry) ShouldTriggerCleanup() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	th := r.cfg.CleanupThreshold
	if float64(len(r.clients)) >= float64(r.cfg.MaxConnections)*th {
		return true
	}
	if float64(len(r.buckets)) >= float64(r.cfg.MaxProgressTypes)*th {
		return true
	}
	cutoff := r.now().Add(-r.cfg.EventTTL)
	for _, b := range r.buckets {
		if len(b.history) > 0 && b.history[0].Timestamp.Before(cutoff) {
			return true
		}
	}
	return false
}

// CleanupExpiredEvents drops events older than EventTTL and returns how many were removed.
func (r *Registry) CleanupExpiredEvents() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	cutoff := r.now().Add(-r.cfg.EventTTL)
	removed := 0
	for _, b := range r.buckets {
		// History is in append order, so expired events form a prefix.
		n := 0
		for n < len(b.history) && b.history[n].Timestamp.Before(cutoff) {
			n++
		}
		if n > 0 {
			b.history = append([]Event(nil), b.history[n:]...)
			removed += n
		}
	}
	if removed > 0 {
		slog.Debug("expired sse events removed", "count", removed)
	}
	return removed, nil
}

// CleanupUnusedProgressTypes drops buckets with no subscribers and no history.
func (r *Registry) CleanupUnusedProgressTypes() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	removed := 0
	for t, b := range r.buckets {
		if len(b.subs) == 0 && len(b.history) == 0 {
			delete(r.buckets, t)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("unused progress types removed", "count", removed)
	}
	return removed, nil
}

// CleanupStaleConnections disconnects clients idle for longer than StaleAfter.
func (r *Registry) CleanupStaleConnections() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	cutoff := r.now().Add(-r.cfg.StaleAfter)
	removed := 0
	for _, c := range r.clients {
		if c.lastActivity.Before(cutoff) {
			r.removeClientLocked(c)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("stale sse clients removed", "count", removed, "remaining", len(r.clients))
	}
	return removed, nil
}

// Close disconnects every client and discards all history.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, c := range r.clients {
		r.removeClientLocked(c)
	}
	clear(r.buckets)
}

func (r *Registry) bucketLocked(progressType string) *bucket {
	b, ok := r.buckets[progressType]
	if !ok {
		b = &bucket{subs: make(map[string]struct{})}
		r.buckets[progressType] = b
	}
	return b
}

func (r *Registry) removeClientLocked(c *Client) {
	c.closed = true
	close(c.ch)
	delete(r.clients, c.ID)
	for _, t := range c.types {
		if b, ok := r.buckets[t]; ok {
			delete(b.subs, c.ID)
		}
	}
}

// normalizeTypes drops empty names and duplicates, keeping first-seen order.
func normalizeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	seen := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
