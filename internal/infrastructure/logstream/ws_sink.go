package logstream

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsFrame is the wire shape for both the init snapshot and subsequent log
// frames sent over /ws.
type wsFrame struct {
	Type  string  `json:"type"`
	Log   *Event  `json:"log,omitempty"`
	Logs  []Event `json:"logs,omitempty"`
	Count int     `json:"count,omitempty"`
}

// WSSink adapts a single WebSocket connection into a Sink. Writes are
// serialized because gorilla/websocket connections are not safe for
// concurrent writers.
type WSSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *WSSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(wsFrame{Type: "log", Log: &event})
}

// ServeWS upgrades an HTTP request to a WebSocket connection, subscribes it
// to hub, sends the init frame, and blocks (discarding client frames) until
// the connection closes, at which point it unsubscribes.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sink := &WSSink{conn: conn}
	init := hub.Subscribe(sink)
	defer hub.Unsubscribe(sink)

	initFrame := wsFrame{Type: "init", Logs: init, Count: len(init)}
	if err := conn.WriteJSON(initFrame); err != nil {
		return err
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
