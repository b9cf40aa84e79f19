package session

import (
	"log/slog"
	"time"
)

// Event kinds.
const (
	EventStarted    = "started"
	EventTeardown   = "teardown"
	EventPaused     = "paused"
	EventResumed    = "resumed"
	EventChunkLines = "chunk_lines"
	EventState      = "state" // current state, sent to new stream clients
)

// Event is a lifecycle notification sent to subscribers.
type Event struct {
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	Seed       int64     `json:"seed"`
	ChunkLines bool      `json:"chunk_lines,omitempty"`
	At         time.Time `json:"at"`
}

// Subscribe registers a listener with the given buffer size. Events are dropped for
// listeners whose buffer is full. The returned func unsubscribes and closes the channel.
func (h *Holder) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.subMu.Unlock()

	var done bool
	return ch, func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		if done {
			return
		}
		done = true
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of registered listeners.
func (h *Holder) Subscribers() int {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	return len(h.subs)
}

func (h *Holder) publish(ev Event) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("subscriber buffer full, dropping event", "subscriber", id, "kind", ev.Kind)
		}
	}
}
