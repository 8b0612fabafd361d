package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/probe"
	"github.com/Y0oshi/deepfocus/internal/scan"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard may be served from another origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is one live-feed message.
type Frame struct {
	Type     string         `json:"type"` // "result" or "progress"
	Result   *probe.Result  `json:"result,omitempty"`
	Progress *scan.Progress `json:"progress,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Hub fans live frames out to websocket clients. Slow clients are dropped
// rather than allowed to backpressure the scan.
type Hub struct {
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	broadcast chan Frame
}

type client struct {
	conn *websocket.Conn
	send chan Frame
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("api")
	}
	return &Hub{
		logger:    logger,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Frame, 256),
	}
}

// PublishResult queues a found service for broadcast. Never blocks; the
// frame is dropped when the hub is saturated.
func (h *Hub) PublishResult(r *probe.Result) {
	select {
	case h.broadcast <- Frame{Type: "result", Result: r, SentAt: time.Now().UTC()}:
	default:
	}
}

// PublishProgress queues a progress snapshot.
func (h *Hub) PublishProgress(p scan.Progress) {
	select {
	case h.broadcast <- Frame{Type: "progress", Progress: &p, SentAt: time.Now().UTC()}:
	default:
	}
}

// Run pumps broadcast frames to clients until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case frame := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// too far behind; disconnect
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Frame, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Live feed client connected", "clients", n)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(30 * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump drains client messages so control frames are processed, and
// detects disconnects.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}
