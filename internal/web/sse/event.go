package sse

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Event is a single broadcast message. Seq is unique within its progress type.
type Event struct {
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ID returns the SSE event id, "<type>:<seq>".
func (e Event) ID() string {
	return e.Type + ":" + strconv.FormatUint(e.Seq, 10)
}

// ParseEventID splits an id produced by Event.ID.
func ParseEventID(id string) (progressType string, seq uint64, ok bool) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], seq, true
}

// Client is one open SSE stream.
type Client struct {
	ID string

	types        []string
	ch           chan Event
	lastActivity time.Time
	closed       bool
}

// Events returns the channel the client receives on. It is closed on disconnect.
func (c *Client) Events() <-chan Event {
	return c.ch
}

// Types returns the progress types the client is subscribed to.
func (c *Client) Types() []string {
	return slices.Clone(c.types)
}
