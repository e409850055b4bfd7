// Package ws provides the WebSocket event stream of the daemon. Components
// broadcast JSON events through the hub and every connected client receives
// them. The latest event of each retained type is replayed to new clients so
// a watcher sees the current state without waiting for the next change.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 3 * time.Second
	pingPeriod = 20 * time.Second
	readWait   = 60 * time.Second
)

// Hub manages WebSocket client connections and fans out broadcast messages
// to all of them. It is safe for concurrent use; register, unregister, and
// broadcast all go through channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	upgrader   websocket.Upgrader

	retain map[string]bool
	latest map[string][]byte

	connected atomic.Int64
	dropped   atomic.Int64
}

// NewHub allocates a hub that replays the latest event of each of the
// retained types to newly connected clients. Call Run in a goroutine to
// start the event loop.
func NewHub(retain ...string) *Hub {
	h := &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		retain: make(map[string]bool, len(retain)),
		latest: make(map[string][]byte),
	}
	for _, t := range retain {
		h.retain[t] = true
	}
	return h
}

// Run processes registrations, unregistrations, broadcasts, and keepalive
// pings in a single select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Add(1)
			for _, msg := range h.latest {
				if !h.write(c, websocket.TextMessage, msg) {
					break
				}
			}

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			if t := eventType(msg); h.retain[t] {
				h.latest[t] = msg
			}
			for c := range h.clients {
				h.write(c, websocket.TextMessage, msg)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil)
			}
		}
	}
}

// write sends one frame and drops the client on failure.
func (h *Hub) write(c *websocket.Conn, kind int, msg []byte) bool {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(kind, msg); err != nil {
		h.drop(c)
		return false
	}
	return true
}

func (h *Hub) drop(c *websocket.Conn) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.connected.Add(-1)
	}
	_ = c.Close()
}

func eventType(msg []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(msg, &head) != nil {
		return ""
	}
	return head.Type
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		select {
		case <-h.done:
			_ = conn.Close()
			return
		default:
		}
		select {
		case h.register <- conn:
		case <-h.done:
			_ = conn.Close()
			return
		}
		go h.read(conn)
	})
}

// read consumes client frames so pongs are processed, and unregisters the
// client once the connection fails.
func (h *Hub) read(conn *websocket.Conn) {
	defer h.leave(conn)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// leave hands the client back to Run, or just closes it once Run has
// stopped.
func (h *Hub) leave(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		_ = conn.Close()
	}
}

// BroadcastJSON marshals v to JSON and queues it for delivery to all
// connected clients. If the broadcast channel is full the message is
// dropped to avoid blocking the control loop.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.dropped.Add(1)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.connected.Load()) }

// Dropped returns the number of events discarded because the hub was
// saturated.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
