// Package logstream implements the process-wide log event bus: a bounded
// ring buffer with fan-out to any number of sinks (WebSocket clients, an
// optional NATS bridge).
package logstream

import (
	"sync"
	"time"
)

// Level mirrors the levels a log event may carry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Event is one entry on the bus.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Ticket    int64          `json:"ticket,omitempty"`
	SubTicket int64          `json:"subTicket,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Sink receives broadcast events. A sink that returns an error from Send is
// unsubscribed on the next broadcast.
type Sink interface {
	Send(Event) error
}

const defaultCapacity = 10000

// Hub is a bounded, lossy, concurrency-safe log bus.
type Hub struct {
	mu       sync.Mutex
	capacity int
	buffer   []Event
	start    int // index of the oldest element in buffer, once full
	count    int
	sinks    map[Sink]struct{}
}

// New builds a Hub with the given ring buffer capacity. capacity <= 0 uses
// the default of 10,000 events.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		capacity: capacity,
		buffer:   make([]Event, capacity),
		sinks:    make(map[Sink]struct{}),
	}
}

// Publish appends event to the ring buffer, evicting the oldest entry if
// full, then best-effort broadcasts it to every subscribed sink.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	idx := (h.start + h.count) % h.capacity
	if h.count < h.capacity {
		h.count++
	} else {
		h.start = (h.start + 1) % h.capacity
	}
	h.buffer[idx] = event

	sinks := make([]Sink, 0, len(h.sinks))
	for s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.Unlock()

	var dead []Sink
	for _, s := range sinks {
		if err := s.Send(event); err != nil {
			dead = append(dead, s)
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, s := range dead {
			delete(h.sinks, s)
		}
		h.mu.Unlock()
	}
}

// Subscribe registers sink and returns the current buffer contents in
// publication order, to be sent as a single "init" frame before any future
// event reaches the sink.
func (h *Hub) Subscribe(sink Sink) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[sink] = struct{}{}
	return h.snapshotLocked()
}

// Unsubscribe removes sink; a no-op if it was not registered.
func (h *Hub) Unsubscribe(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, sink)
}

// Recent returns the most recent k events, oldest first. k <= 0 returns the
// whole buffer.
func (h *Hub) Recent(k int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.snapshotLocked()
	if k <= 0 || k >= len(all) {
		return all
	}
	return all[len(all)-k:]
}

// FilterByTicket returns buffered events for the given ticket id.
func (h *Hub) FilterByTicket(ticket int64) []Event {
	return h.filter(func(e Event) bool { return e.Ticket == ticket })
}

// FilterByAgent returns buffered events emitted by the given agent name.
func (h *Hub) FilterByAgent(agent string) []Event {
	return h.filter(func(e Event) bool { return e.Agent == agent })
}

// FilterByLevel returns buffered events at exactly the given level.
func (h *Hub) FilterByLevel(level Level) []Event {
	return h.filter(func(e Event) bool { return e.Level == level })
}

func (h *Hub) filter(pred func(Event) bool) []Event {
	h.mu.Lock()
	all := h.snapshotLocked()
	h.mu.Unlock()

	out := make([]Event, 0, len(all))
	for _, e := range all {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func (h *Hub) snapshotLocked() []Event {
	out := make([]Event, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buffer[(h.start+i)%h.capacity]
	}
	return out
}

// Len reports the number of events currently buffered.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
