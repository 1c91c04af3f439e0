package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/heatpump-controller/internal/control"
)

const (
	clientSendBuffer = 16
	writeWait        = 5 * time.Second
)

// Frame is the JSON structure sent to websocket clients.
type Frame struct {
	Telemetry control.Telemetry `json:"telemetry"`
	Stamp     int64             `json:"stamp"` // Unix ms
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans telemetry out to connected websocket clients. A client that
// cannot keep up misses frames rather than blocking the control loop.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and registers the client. initial is sent
// before any broadcast so a new page renders immediately.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial control.Telemetry) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
	if data, err := encodeFrame(initial); err == nil {
		client.send <- data
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Debug("websocket client connected")

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("clients", n).Debug("websocket client disconnected")
}

// Broadcast sends a telemetry frame to every client.
func (h *Hub) Broadcast(t control.Telemetry) {
	data, err := encodeFrame(t)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func encodeFrame(t control.Telemetry) ([]byte, error) {
	return json.Marshal(Frame{Telemetry: t, Stamp: time.Now().UnixMilli()})
}
