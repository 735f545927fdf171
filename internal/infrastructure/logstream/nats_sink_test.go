package logstream

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestNATSServer boots an embedded, ephemeral-port NATS server for the
// lifetime of the test.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("start embedded nats server: %v", err)
	}
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSSinkPublishesEventAsJSON(t *testing.T) {
	server := startTestNATSServer(t)

	sink, err := DialNATSSink(server.ClientURL(), "orchestrix.logs")
	if err != nil {
		t.Fatalf("DialNATSSink() error = %v", err)
	}
	defer sink.Close()

	sub, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	subscription, err := sub.Subscribe("orchestrix.logs", func(m *nats.Msg) { msgs <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subscription.Unsubscribe()
	sub.Flush()

	event := Event{Level: LevelWarn, Message: "worktree lease stale", Ticket: 7}
	if err := sink.Send(event); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-msgs:
		var got Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		if got.Message != event.Message || got.Ticket != event.Ticket || got.Level != event.Level {
			t.Fatalf("published event = %+v, want %+v", got, event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
