package notify

import (
	"time"

	"orchestrix/internal/infrastructure/logstream"
	"orchestrix/internal/ports"
)

// NATSBus adapts a logstream.NATSSink into notify.Bus so notifier events are
// published on the sink's subject ("orchestrix.events" as wired in
// bootstrap); the event kind travels in the published event's Stage field.
type NATSBus struct {
	sink *logstream.NATSSink
}

// NewNATSBus wraps an already-dialed NATS sink.
func NewNATSBus(sink *logstream.NATSSink) *NATSBus {
	return &NATSBus{sink: sink}
}

func (b *NATSBus) Send(n ports.Notification) error {
	return b.sink.Send(logstream.Event{
		Timestamp: time.Now(),
		Level:     eventLogLevel(n.Kind),
		Message:   n.Title,
		Ticket:    n.Ticket,
		Stage:     string(n.Kind),
		Fields: map[string]any{
			"body": n.Body,
			"url":  n.URL,
		},
	})
}

func eventLogLevel(kind ports.EventKind) logstream.Level {
	switch eventLevel[kind] {
	case ports.LevelErrorsOnly:
		return logstream.LevelError
	case ports.LevelStageTransitions:
		return logstream.LevelInfo
	default:
		return logstream.LevelDebug
	}
}
