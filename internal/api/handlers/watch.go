package handlers

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/freon/internal/apierr"
	"github.com/onnwee/freon/internal/logger"
	"github.com/onnwee/freon/internal/metrics"
	"github.com/onnwee/freon/internal/middleware"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	defaultWatchWindow = time.Minute
)

// checkOrigin admits clients without an Origin header, same-origin pages and
// the origins the CORS configuration allows.
func checkOrigin(cors *middleware.CORSConfig) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return cors.AllowsOrigin(origin)
	}
}

// ExpiryReader is the part of the cache the watch hub polls.
type ExpiryReader interface {
	GetExpired(ctx context.Context) ([]string, error)
	GetByTTL(ctx context.Context, window time.Duration) ([]string, error)
}

// WatchMessage is pushed to watch clients.
type WatchMessage struct {
	Type    string          `json:"type"` // "expiry"
	Payload *ExpirySnapshot `json:"payload,omitempty"`
}

// ExpirySnapshot is the state of the TTL index as seen by one client.
type ExpirySnapshot struct {
	Expired  []string  `json:"expired"`
	Expiring []string  `json:"expiring"`
	Within   float64   `json:"within_seconds"`
	At       time.Time `json:"at"`
}

func (s *ExpirySnapshot) sameKeys(o *ExpirySnapshot) bool {
	return o != nil && slices.Equal(s.Expired, o.Expired) && slices.Equal(s.Expiring, o.Expiring)
}

type watchClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	window time.Duration

	mu   sync.Mutex
	last *ExpirySnapshot
}

// Hub tracks watch clients and pushes expiry snapshots to them when the
// TTL index changes.
type Hub struct {
	reader   ExpiryReader
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*watchClient]struct{}
}

// NewHub creates a hub that polls reader every interval. Cross-origin
// upgrades are accepted only from allowedOrigins, using the CORS patterns.
func NewHub(reader ExpiryReader, interval time.Duration, allowedOrigins ...string) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		reader:   reader,
		interval: interval,
		clients:  make(map[*watchClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(middleware.DefaultCORSConfig(allowedOrigins...)),
		},
	}
}

// Run polls the TTL index until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(ctx)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *watchClient) int {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()
	return n
}

func (h *Hub) unregister(c *watchClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.WebSocketConnections.Dec()
		logger.Info("Watch client disconnected", "total_clients", n)
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*watchClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// snapshot reads the TTL index for one window.
func (h *Hub) snapshot(ctx context.Context, window time.Duration) (*ExpirySnapshot, error) {
	expired, err := h.reader.GetExpired(ctx)
	if err != nil {
		return nil, err
	}
	expiring, err := h.reader.GetByTTL(ctx, window)
	if err != nil {
		return nil, err
	}
	return &ExpirySnapshot{
		Expired:  nonNil(expired),
		Expiring: nonNil(expiring),
		Within:   window.Seconds(),
		At:       time.Now().UTC(),
	}, nil
}

// Broadcast reads the index once per distinct client window and sends each
// client its snapshot if the key sets changed since its last message.
func (h *Hub) Broadcast(ctx context.Context) {
	h.mu.RLock()
	byWindow := make(map[time.Duration][]*watchClient)
	for c := range h.clients {
		byWindow[c.window] = append(byWindow[c.window], c)
	}
	h.mu.RUnlock()

	for window, clients := range byWindow {
		snap, err := h.snapshot(ctx, window)
		if err != nil {
			logger.Warn("Failed to read TTL index for watch clients", "error", err, "window", window)
			continue
		}
		for _, c := range clients {
			h.deliver(c, snap)
		}
	}
}

func (h *Hub) deliver(c *watchClient, snap *ExpirySnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.sameKeys(c.last) {
		return
	}
	data, err := json.Marshal(WatchMessage{Type: "expiry", Payload: snap})
	if err != nil {
		logger.Error("Failed to marshal watch message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
		c.last = snap
		metrics.WebSocketMessagesSent.Inc()
	default:
		logger.Warn("Watch client send buffer full, skipping update")
	}
}

// readPump discards client messages and watches for disconnects.
func (c *watchClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Watch connection closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (c *watchClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Watch handles GET /api/watch?within=<seconds>. The client receives a
// snapshot on connect and another whenever the expired or expiring key sets
// change.
func (h *Hub) Watch(w http.ResponseWriter, r *http.Request) {
	window, apiErr := parseSeconds(r, "within", defaultWatchWindow)
	if apiErr == nil && window < 0 {
		apiErr = apierr.ValidationInvalidValue("within", "within must not be negative")
	}
	if apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		logger.WarnContext(r.Context(), "Failed to upgrade watch connection", "error", err)
		return
	}

	c := &watchClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 16),
		window: window,
	}
	n := h.register(c)
	logger.InfoContext(r.Context(), "Watch client connected", "window", window, "total_clients", n)

	go c.writePump()
	go c.readPump()

	// Initial state, read outside the request context which ends here.
	if snap, err := h.snapshot(context.WithoutCancel(r.Context()), window); err == nil {
		h.deliver(c, snap)
	} else {
		logger.WarnContext(r.Context(), "Failed to read TTL index for new watch client", "error", err)
	}
}
