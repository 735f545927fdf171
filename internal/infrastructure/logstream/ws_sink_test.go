package logstream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestServeWSSendsInitFrameThenBroadcastFrames(t *testing.T) {
	hub := New(0)
	hub.Publish(Event{Level: LevelInfo, Message: "queued issue #1"})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ServeWS(hub, w, r); err != nil {
			t.Logf("ServeWS returned: %v", err)
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var initFrame wsFrame
	if err := conn.ReadJSON(&initFrame); err != nil {
		t.Fatalf("read init frame: %v", err)
	}
	if initFrame.Type != "init" || initFrame.Count != 1 || len(initFrame.Logs) != 1 {
		t.Fatalf("init frame = %+v, want one buffered event", initFrame)
	}

	hub.Publish(Event{Level: LevelError, Message: "planning stage failed", Ticket: 9})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var logFrame wsFrame
	if err := conn.ReadJSON(&logFrame); err != nil {
		t.Fatalf("read log frame: %v", err)
	}
	if logFrame.Type != "log" || logFrame.Log == nil || logFrame.Log.Ticket != 9 {
		t.Fatalf("log frame = %+v, want a broadcast frame for ticket 9", logFrame)
	}
}

func TestServeWSUnsubscribesOnClose(t *testing.T) {
	hub := New(0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var initFrame wsFrame
	if err := conn.ReadJSON(&initFrame); err != nil {
		t.Fatalf("read init frame: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		n := len(hub.sinks)
		hub.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("hub still has a subscribed sink after the connection closed")
}
