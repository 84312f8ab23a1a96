package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/onnwee/freon/internal/cache"
	"github.com/onnwee/freon/internal/middleware"
)

func dialWatch(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/watch" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) *ExpirySnapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WatchMessage
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read watch message: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode watch message %s: %v", data, err)
	}
	if msg.Type != "expiry" || msg.Payload == nil {
		t.Fatalf("unexpected message %s", data)
	}
	return msg.Payload
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.Clients(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatch_PushesChanges(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	c.Set(ctx, "soon", cache.Literal[any](1).TTL(30*time.Second))

	hub := NewHub(c, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(hub.Watch))
	defer srv.Close()

	conn := dialWatch(t, srv, "?within=60")
	first := readSnapshot(t, conn)
	if diff := cmp.Diff([]string{"soon"}, first.Expiring); diff != "" {
		t.Errorf("initial expiring mismatch (-want +got):\n%s", diff)
	}
	if len(first.Expired) != 0 || first.Within != 60 {
		t.Errorf("initial snapshot = %+v", first)
	}
	waitForClients(t, hub, 1)

	c.Set(ctx, "gone", cache.Literal[any](1).TTL(-time.Second))
	hub.Broadcast(ctx)

	next := readSnapshot(t, conn)
	if diff := cmp.Diff([]string{"gone"}, next.Expired); diff != "" {
		t.Errorf("expired mismatch (-want +got):\n%s", diff)
	}
}

func TestWatch_SkipsUnchanged(t *testing.T) {
	c, _ := newTestCache(t)
	hub := NewHub(c, time.Hour)
	client := &watchClient{hub: hub, send: make(chan []byte, 4), window: time.Minute}
	hub.mu.Lock()
	hub.clients[client] = struct{}{}
	hub.mu.Unlock()

	hub.Broadcast(context.Background())
	hub.Broadcast(context.Background())
	if got := len(client.send); got != 1 {
		t.Fatalf("queued %d messages for unchanged index, want 1", got)
	}

	c.Set(context.Background(), "k", cache.Literal[any](1).TTL(time.Second))
	hub.Broadcast(context.Background())
	if got := len(client.send); got != 2 {
		t.Fatalf("queued %d messages after change, want 2", got)
	}
}

func TestWatch_RejectsBadWindow(t *testing.T) {
	c, _ := newTestCache(t)
	hub := NewHub(c, time.Hour)

	rr := httptest.NewRecorder()
	hub.Watch(rr, httptest.NewRequest(http.MethodGet, "/api/watch?within=-3", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHub_RunDisconnectsOnCancel(t *testing.T) {
	c, _ := newTestCache(t)
	hub := NewHub(c, 10*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(hub.Watch))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	conn := dialWatch(t, srv, "")
	readSnapshot(t, conn)
	waitForClients(t, hub, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	waitForClients(t, hub, 0)
}

func TestWatch_CheckOrigin(t *testing.T) {
	check := checkOrigin(middleware.DefaultCORSConfig("https://app.example.com", "*.trusted.dev"))

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin header", "", true},
		{"same origin", "http://cache.local:8080", true},
		{"allowed origin", "https://app.example.com", true},
		{"allowed subdomain", "https://ui.trusted.dev", true},
		{"foreign origin", "https://evil.example", false},
		{"lookalike host", "http://cache.local.evil:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://cache.local:8080/api/watch", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := check(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestWatch_RejectsForeignOrigin(t *testing.T) {
	c, _ := newTestCache(t)
	hub := NewHub(c, time.Hour, "https://app.example.com")
	srv := httptest.NewServer(http.HandlerFunc(hub.Watch))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		conn.Close()
		t.Fatal("cross-origin upgrade from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %v, want 403", resp)
	}
	if hub.Clients() != 0 {
		t.Fatalf("hub registered %d clients", hub.Clients())
	}

	conn, _, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
