package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/vidocr/internal/lineage"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/stage"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The stream is read-only progress data.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Event is one progress message on the log stream.
type Event struct {
	Type       string           `json:"type"` // run_start, stage_start, element, stage_complete, run_finished
	Time       time.Time        `json:"time"`
	Input      string           `json:"input,omitempty"`
	Stage      lineage.Stage    `json:"stage,omitempty"`
	Index      int              `json:"index,omitempty"`
	Total      int              `json:"total,omitempty"`
	ID         int64            `json:"id,omitempty"`
	Status     string           `json:"status,omitempty"`
	Outputs    int              `json:"outputs,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
}

// Hub fans progress events out to every connected log stream client. It
// implements pipeline.Observer; a client that cannot keep up loses events
// instead of slowing the run down.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	websocketConnections.Inc()
	slog.Debug("Log stream client registered", "clients", n)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		websocketConnections.Dec()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues e for every client.
func (h *Hub) Broadcast(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to marshal log stream event", "error", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

func (h *Hub) OnRunStart(name string) {
	h.Broadcast(Event{Type: "run_start", Input: name})
}

func (h *Hub) OnStageStart(s lineage.Stage, inputs int) {
	h.Broadcast(Event{Type: "stage_start", Stage: s, Total: inputs})
}

func (h *Hub) OnElement(s lineage.Stage, index, total int, id int64, r stage.Result) {
	h.Broadcast(Event{Type: "element", Stage: s, Index: index + 1, Total: total, ID: id,
		Status: r.Status.String(), Outputs: len(r.IDs)})
}

func (h *Hub) OnStageComplete(s lineage.Stage, r stage.Result, elapsed time.Duration) {
	h.Broadcast(Event{Type: "stage_complete", Stage: s, Status: r.Status.String(), Outputs: len(r.IDs),
		DurationMs: elapsed.Milliseconds()})
}

func (h *Hub) OnRunFinished(r pipeline.Result) {
	h.Broadcast(Event{Type: "run_finished", Status: r.Status, DurationMs: r.Duration.Milliseconds(), Result: &r})
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	slog.Info("Log stream connection established", "remote_addr", r.RemoteAddr)

	c := h.register()
	go h.writePump(conn, c)
	h.readPump(conn, c)
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer h.unregister(c)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Log stream error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
