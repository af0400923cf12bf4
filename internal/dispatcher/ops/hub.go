package ops

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one live notification broadcast to ops websocket clients.
type Event struct {
	Kind      string    `json:"kind"`
	TaskID    uint32    `json:"taskId,omitempty"`
	Dest      string    `json:"destination,omitempty"`
	Op        string    `json:"operation,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans task-outcome events out to every connected ops websocket
// client via a per-client send channel drained inside ServeWS. Worker
// roster changes are not broadcast here.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
	log     *zap.SugaredLogger
}

// NewHub returns an empty Hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan Event), log: log}
}

// Broadcast pushes ev to every connected client's send buffer, dropping
// it for any client whose buffer is currently full rather than blocking.
func (h *Hub) Broadcast(ev Event) {
	ev.Timestamp = time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ServeWS upgrades the request and registers the connection until it
// disconnects.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	send := make(chan Event, 32)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for ev := range send {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return nil
		}
	}
	return nil
}
