package manifest

import "sync"

// Holder keeps the current manifest for concurrent readers.
type Holder struct {
	mu sync.RWMutex
	m  *Manifest
}

// NewHolder creates a Holder seeded with m, which may be nil.
func NewHolder(m *Manifest) *Holder {
	return &Holder{m: m}
}

// Get returns the current manifest, or nil if none has loaded.
func (h *Holder) Get() *Manifest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.m
}

// Set replaces the current manifest.
func (h *Holder) Set(m *Manifest) {
	h.mu.Lock()
	h.m = m
	h.mu.Unlock()
}

// Reload loads path and swaps it in. On error the current manifest is kept.
func (h *Holder) Reload(path string) (*Manifest, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	h.Set(m)
	return m, nil
}
