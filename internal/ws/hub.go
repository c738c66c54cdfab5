package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noderank/noderank/internal/api"
	"github.com/noderank/noderank/internal/engine"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often ping frames are sent. Must be less
	// than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds one inbound frame. Graph payloads dominate;
	// the node/edge limits cut in well before this does.
	maxMessageSize = 32 << 20

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the JSON frame exchanged over the session, both directions.
type Envelope struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`

	// Inbound compute fields.
	Algorithm  string             `json:"algorithm,omitempty"`
	Backend    string             `json:"backend,omitempty"`
	Graph      *api.GraphPayload  `json:"graph,omitempty"`
	Parameters *api.ParamsPayload `json:"parameters,omitempty"`

	// Outbound event fields.
	Percent       float64   `json:"percent,omitempty"`
	Message       string    `json:"message,omitempty"`
	Scores        []float64 `json:"scores,omitempty"`
	ComputeTimeMs float64   `json:"compute_time_ms,omitempty"`
}

// Hub relays the engine event stream to every connected client and feeds
// inbound compute/cancel messages into the engine.
type Hub struct {
	engine *engine.Engine

	limitsMu sync.RWMutex
	limits   api.Limits

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected websocket client.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub wired to the engine, enforcing the same graph size
// limits as the HTTP surface.
func New(eng *engine.Engine, limits api.Limits) *Hub {
	return &Hub{
		engine:  eng,
		limits:  limits,
		clients: make(map[*client]struct{}),
	}
}

// UpdateLimits swaps the graph size limits; used by config hot reload.
func (h *Hub) UpdateLimits(limits api.Limits) {
	h.limitsMu.Lock()
	h.limits = limits
	h.limitsMu.Unlock()
}

// Run relays engine events to all connected clients until ctx is
// cancelled, then closes every active connection. The hub must outlive
// the engine's run loop so terminal events are always drained.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.engine.Events():
			h.broadcast(toEnvelope(ev))
		}
	}
}

// ServeHTTP upgrades the connection and serves the client. Blocks until
// the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufSize)}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until the connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func toEnvelope(ev engine.Event) Envelope {
	return Envelope{
		Type:          string(ev.Type),
		TaskID:        ev.TaskID,
		Percent:       ev.Percent,
		Message:       ev.Message,
		Scores:        ev.Scores,
		ComputeTimeMs: ev.ComputeTimeMs,
	}
}

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

func (h *Hub) broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("ws: marshal envelope", "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full — disconnect it.
			h.unregister(c)
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

// handleInbound processes one client frame and returns the direct reply,
// if any. Event relay happens separately through the broadcast loop.
func (h *Hub) handleInbound(data []byte) *Envelope {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &Envelope{Type: "error", Message: fmt.Sprintf("decode message: %v", err)}
	}

	switch env.Type {
	case "compute":
		return h.handleCompute(env)
	case "cancel":
		if err := h.engine.Cancel(env.TaskID); err != nil {
			return &Envelope{Type: "error", TaskID: env.TaskID, Message: err.Error()}
		}
		return nil
	default:
		return &Envelope{Type: "error", TaskID: env.TaskID, Message: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

func (h *Hub) handleCompute(env Envelope) *Envelope {
	if env.Graph == nil || env.Parameters == nil {
		return &Envelope{Type: "error", TaskID: env.TaskID, Message: "compute message needs graph and parameters"}
	}

	h.limitsMu.RLock()
	limits := h.limits
	h.limitsMu.RUnlock()
	if err := limits.Check(*env.Graph); err != nil {
		return &Envelope{Type: "error", TaskID: env.TaskID, Message: err.Error()}
	}

	req := api.ComputeRequest{
		TaskID:     env.TaskID,
		Algorithm:  env.Algorithm,
		Backend:    env.Backend,
		Graph:      *env.Graph,
		Parameters: *env.Parameters,
	}
	engReq, err := req.ToEngine()
	if err != nil {
		return &Envelope{Type: "error", TaskID: env.TaskID, Message: err.Error()}
	}

	id, err := h.engine.Submit(engReq)
	if errors.Is(err, engine.ErrBusy) {
		return &Envelope{Type: "error", TaskID: env.TaskID, Message: err.Error()}
	}
	if err != nil {
		// Validation failure: the engine already emitted the error event
		// with this id; the receipt still names the task.
		return &Envelope{Type: "accepted", TaskID: id}
	}
	return &Envelope{Type: "accepted", TaskID: id}
}

// writePump drains the client's send channel and forwards frames to the
// connection, with periodic pings. Runs in its own goroutine per client.
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

// readPump reads frames from the connection, feeding compute/cancel
// messages into the engine. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if reply := c.hub.handleInbound(data); reply != nil {
			out, err := json.Marshal(reply)
			if err != nil {
				slog.Error("ws: marshal reply", "err", err)
				continue
			}
			select {
			case c.send <- out:
			default:
			}
		}
	}
}
