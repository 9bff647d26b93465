package server

import (
	"net/http"
	"sync"
	"time"

	"goldsight/internal/forecast"
	"goldsight/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types pushed to websocket clients.
const (
	EventForecastStarted   = "forecast_started"
	EventForecastCompleted = "forecast_completed"
	EventForecastFailed    = "forecast_failed"
)

// Event is one forecast lifecycle notification.
type Event struct {
	Type    string           `json:"type"`
	Time    time.Time        `json:"time"`
	Horizon int              `json:"horizon,omitempty"`
	RunID   string           `json:"run_id,omitempty"`
	Points  []forecast.Point `json:"points,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Hub fans forecast lifecycle events out to connected websocket clients.
// Slow or dead clients are dropped rather than blocking the broadcast.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan Event
	stop      chan struct{}
	stopOnce  sync.Once
	metrics   *metrics.Metrics
}

func newHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 64),
		stop:      make(chan struct{}),
		metrics:   m,
	}
}

func (h *Hub) run() {
	for {
		select {
		case ev := <-h.broadcast:
			h.send(ev)
		case <-h.stop:
			return
		}
	}
}

// Broadcast queues an event for delivery; drops it if the queue is full.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
	}
}

func (h *Hub) send(ev Event) {
	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("dropping websocket client")
			h.remove(c)
			c.Close()
		}
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClientsSet(float64(n))
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClientsSet(float64(n))
	}
}

func (h *Hub) stopAndCloseAll() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.clientsMu.Lock()
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientsMu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClientsSet(0)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.hub.add(conn)
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

	// Reader loop: we never expect client messages, but reading is how we
	// notice disconnects and process control frames.
	go func() {
		defer func() {
			s.hub.remove(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
