package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/logging"
	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/store"
)

// NotificationSource is the read side of store.Store the hub polls.
type NotificationSource interface {
	NotificationsAfter(ctx context.Context, after store.NotificationCursor, limit int) ([]store.Notification, error)
}

const hubPageSize = 100

// TeamHub streams team notifications to connected care team browsers.
// It polls the store, so notifications written by a separate tool server
// process are delivered too.
type TeamHub struct {
	source   NotificationSource
	interval time.Duration
	metrics  *metrics.Collector
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]chan []byte
	cursor  store.NotificationCursor
}

type teamMessage struct {
	Type         string              `json:"type"`
	Notification *store.Notification `json:"notification,omitempty"`
}

func NewTeamHub(source NotificationSource, interval time.Duration, collector *metrics.Collector, logger *logging.Logger) *TeamHub {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &TeamHub{
		source:   source,
		interval: interval,
		metrics:  collector,
		logger:   logger,
		clients:  make(map[string]chan []byte),
		cursor:   store.NotificationCursor{Timestamp: time.Now().UTC()},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  constants.WebSocketBufferSize,
			WriteBufferSize: constants.WebSocketBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run polls for new notifications until ctx is done.
func (h *TeamHub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.poll(ctx)
		}
	}
}

// poll delivers everything written since the last poll, oldest first, one
// page at a time.
func (h *TeamHub) poll(ctx context.Context) {
	h.mu.Lock()
	cursor := h.cursor
	h.mu.Unlock()

	for ctx.Err() == nil {
		page, err := h.source.NotificationsAfter(ctx, cursor, hubPageSize)
		if err != nil {
			h.logger.Error("Failed to poll team notifications: %v", err)
			return
		}
		for i := range page {
			n := page[i]
			h.Broadcast(teamMessage{Type: "team_notification", Notification: &n})
			cursor = store.CursorOf(n)
		}

		h.mu.Lock()
		h.cursor = cursor
		h.mu.Unlock()

		if len(page) < hubPageSize {
			return
		}
	}
}

// Broadcast queues a message for every client. A client whose queue is full
// is dropped rather than allowed to stall the others.
func (h *TeamHub) Broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode team message: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.logger.Warning("Dropping slow team client %s", id)
			close(ch)
			delete(h.clients, id)
		}
	}
	h.metrics.SetTeamClients(len(h.clients))
}

func (h *TeamHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams messages to it.
func (h *TeamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	send := make(chan []byte, constants.WebSocketChannelSize)
	h.mu.Lock()
	h.clients[id] = send
	h.metrics.SetTeamClients(len(h.clients))
	h.mu.Unlock()
	h.logger.Info("Team client %s connected from %s", id, r.RemoteAddr)

	hello, _ := json.Marshal(teamMessage{Type: "connected"})
	send <- hello

	go h.readPump(id, conn)
	h.writePump(id, conn, send)
}

// readPump discards client input and notices disconnects.
func (h *TeamHub) readPump(id string, conn *websocket.Conn) {
	defer h.remove(id)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(2 * constants.WebSocketPingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * constants.WebSocketPingInterval))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *TeamHub) writePump(id string, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		h.logger.Info("Team client %s disconnected", id)
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(id)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(id)
				return
			}
		}
	}
}

func (h *TeamHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		h.metrics.SetTeamClients(len(h.clients))
	}
}

func (h *TeamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.metrics.SetTeamClients(0)
}
