package httpserver

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mdview/internal/contracts"
	"mdview/internal/logging"
	"mdview/internal/metrics"
)

const (
	broadcastBuffer = 32
	writeTimeout    = 10 * time.Second
)

type client struct {
	id     string
	window string
	conn   *websocket.Conn
}

type targetedNotification struct {
	window       string
	notification contracts.Notification
}

// Hub fans notifications out to connected windows. All connection state is
// owned by the Run goroutine.
type Hub struct {
	broadcast  chan contracts.Notification
	once       chan targetedNotification
	register   chan *client
	unregister chan *client
	stopLoop   chan struct{}
	stopOnce   sync.Once

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		broadcast:  make(chan contracts.Notification, broadcastBuffer),
		once:       make(chan targetedNotification, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopLoop:     make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "hub"),
	}
}

// Emit delivers n to every window connected at the time it is processed. It
// never blocks: when the queue is full n is dropped, since the queued
// notifications already make every window re-render.
func (h *Hub) Emit(n contracts.Notification) {
	select {
	case h.broadcast <- n:
	case <-h.stopLoop:
	default:
		metrics.NotificationsDropped.WithLabelValues(n.Event).Inc()
		h.logger.Debug("notification dropped", "event", n.Event)
	}
}

// EmitOnce delivers n to the windows labelled window. When none is connected
// the notification is held and sent to the first one that connects.
func (h *Hub) EmitOnce(window string, n contracts.Notification) {
	select {
	case h.once <- targetedNotification{window: window, notification: n}:
	case <-h.stopLoop:
	}
}

// Stop ends the run loop and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopLoop)
	})
}

// ServeWS upgrades the request and blocks until the connection closes. The
// window label comes from the window query parameter and defaults to the
// primary window.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Err(err))
		return
	}

	window := r.URL.Query().Get("window")
	if window == "" {
		window = contracts.PrimaryWindow
	}
	c := &client{id: uuid.NewString(), window: window, conn: conn}

	select {
	case h.register <- c:
	case <-h.stopLoop:
		_ = conn.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopLoop:
		}
	}()

	// Windows only listen; reads detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run serializes registrations and writes on a single goroutine.
func (h *Hub) Run() {
	clients := make(map[*client]struct{})
	pending := make(map[string][]contracts.Notification)

	drop := func(c *client) {
		if _, ok := clients[c]; !ok {
			return
		}
		_ = c.conn.Close()
		delete(clients, c)
		metrics.WindowsConnected.Set(float64(len(clients)))
		h.logger.Debug("window disconnected", "client", c.id, "window", c.window)
	}

	send := func(c *client, n contracts.Notification) bool {
		if err := writeJSON(c.conn, n, h.writeTimeout); err != nil {
			h.logger.Debug("write failed", "client", c.id, "window", c.window, logging.Err(err))
			drop(c)
			return false
		}
		metrics.NotificationsTotal.WithLabelValues(n.Event).Inc()
		return true
	}

	for {
		select {
		case n := <-h.broadcast:
			for c := range clients {
				send(c, n)
			}

		case t := <-h.once:
			delivered := false
			for c := range clients {
				if c.window == t.window && send(c, t.notification) {
					delivered = true
				}
			}
			if !delivered {
				pending[t.window] = append(pending[t.window], t.notification)
			}

		case c := <-h.register:
			clients[c] = struct{}{}
			metrics.WindowsConnected.Set(float64(len(clients)))
			h.logger.Debug("window connected", "client", c.id, "window", c.window)

			queued := pending[c.window]
			delete(pending, c.window)
			for i, n := range queued {
				if !send(c, n) {
					pending[c.window] = queued[i:]
					break
				}
			}

		case c := <-h.unregister:
			drop(c)

		case <-h.stopLoop:
			for c := range clients {
				drop(c)
			}
			return
		}
	}
}

// writeJSON writes a JSON message, failing once timeout passes so a window
// that stopped reading cannot stall the run loop.
func writeJSON(conn *websocket.Conn, v any, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
