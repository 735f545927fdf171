package logstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink republishes every event it receives to a NATS subject, letting
// other processes observe events without connecting to /ws. It satisfies
// Sink, but bootstrap does not subscribe it to the Hub: it is wrapped by
// notify.NATSBus to carry notifier events. A publish error is returned from
// Send.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// DialNATSSink connects to url and returns a sink that publishes to subject.
func DialNATSSink(url string, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Send(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, payload)
}

// Close drains and closes the underlying NATS connection.
func (s *NATSSink) Close() {
	s.conn.Close()
}
