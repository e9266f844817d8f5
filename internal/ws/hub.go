package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/internal/bus"
	"github.com/lazzyont7t/Data/models"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating
	// the connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends ping frames. Must
	// be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy
	// level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub relays bus events to WebSocket clients. Delivery is at-most-once:
// there is no replay buffer, so a client that disconnects misses
// whatever was published while it was away.
type Hub struct {
	bus    *bus.Bus
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub fed by b.
func New(b *bus.Bus) *Hub {
	return &Hub{
		bus:     b,
		logger:  log.With().Str("component", "ws_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to the bus and forwards every event to all connected
// clients. Blocks until ctx is cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ev)
		}
	}
}

// ServeHTTP upgrades the connection to WebSocket and serves the client.
// A `connected` hello is sent immediately; after that the client only
// receives what the bus publishes. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := json.Marshal(models.Event{Kind: models.EventConnected, At: time.Now().UTC()}); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	// Sends are non-blocking, so the lock is held only briefly. Holding
	// it for the whole fan-out keeps a concurrent unregister from closing
	// a channel mid-send.
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Buffer full, disconnect the client.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to
// the WebSocket connection. It also sends periodic ping frames. Runs in
// its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection
// closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
