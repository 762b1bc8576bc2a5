package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-live/internal/session"
	"github.com/lexiqai/voice-live/internal/transcript"
	"github.com/rs/zerolog"
)

const (
	clientBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// Event is one JSON message pushed to subscribers
type Event struct {
	Type      string             `json:"type"` // state, entries, error
	State     string             `json:"state,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Entries   []transcript.Entry `json:"entries,omitempty"`
	Kind      string             `json:"kind,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp string             `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans controller notifications out to WebSocket subscribers. A slow
// subscriber loses events rather than delaying the session.
type Hub struct {
	ctrl     Controller
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a hub reporting on ctrl
func NewHub(ctrl Controller, logger zerolog.Logger) *Hub {
	return &Hub{
		ctrl:   ctrl,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local control surface; any origin may watch
				return true
			},
		},
		clients: make(map[string]*client),
	}
}

// OnState implements session.Listener
func (h *Hub) OnState(state session.State) {
	h.broadcast(Event{Type: "state", State: state.String(), SessionID: h.ctrl.SessionID()})
}

// OnEntries implements session.Listener
func (h *Hub) OnEntries(entries []transcript.Entry) {
	h.broadcast(Event{Type: "entries", Entries: entries})
}

// OnError implements session.Listener
func (h *Hub) OnError(err *session.Error) {
	h.broadcast(Event{Type: "error", Kind: err.Kind.String(), Message: err.UserMessage()})
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn().Str("client_id", c.id).Msg("Event buffer full, dropping event")
		}
	}
}

// ServeWS upgrades the request and streams events until the client leaves
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade events connection")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	// Snapshot first so the subscriber starts from the current state
	snapshot := Event{
		Type:      "state",
		State:     h.ctrl.State().String(),
		SessionID: h.ctrl.SessionID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data, err := json.Marshal(snapshot); err == nil {
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Debug().Str("client_id", c.id).Msg("Events subscriber connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// readPump only watches for the subscriber going away
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.Debug().Str("client_id", c.id).Msg("Events subscriber disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("Events connection read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
