package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(msg, &v); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	return v
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)

	h.BroadcastJSON(map[string]any{"type": "log", "message": "hello"})
	if v := readType(t, conn); v["message"] != "hello" {
		t.Fatalf("got %v", v)
	}
}

func TestRetainedEventReplayedToNewClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub("state")
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	first := dial(t, srv)
	waitClients(t, h, 1)
	h.BroadcastJSON(map[string]any{"type": "state", "to": "IN_FLIGHT"})
	h.BroadcastJSON(map[string]any{"type": "log", "message": "not retained"})
	readType(t, first)
	readType(t, first)

	late := dial(t, srv)
	if v := readType(t, late); v["type"] != "state" || v["to"] != "IN_FLIGHT" {
		t.Fatalf("replay = %v", v)
	}
}

func TestHubStoppedDoesNotBlockClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	returned := make(chan struct{}, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Handler().ServeHTTP(w, r)
		returned <- struct{}{}
	}))
	defer srv.Close()

	cancel()
	<-stopped

	// More clients than the registration queue holds.
	var conns []*websocket.Conn
	for i := range 20 {
		conns = append(conns, dial(t, srv))
		select {
		case <-returned:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler %d blocked after the hub stopped", i)
		}
	}
	if h.Clients() != 0 {
		t.Fatalf("clients = %d after shutdown", h.Clients())
	}

	left := make(chan struct{})
	go func() {
		for _, c := range conns {
			h.leave(c)
		}
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("unregistering blocked after the hub stopped")
	}
}
