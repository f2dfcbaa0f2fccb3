package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local tool, same-origin policy is not enforced.
		return true
	},
}

const writeTimeout = 10 * time.Second

// wsEvent is the wire form of a broadcast event.
type wsEvent struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHandler broadcasts ingestion lifecycle events to connected
// clients so uploads can be watched without polling the source endpoint.
type WebSocketHandler struct {
	events interfaces.EventService
	logger arbor.ILogger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewWebSocketHandler(events interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		events:  events,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
	h.subscribeAll()
	return h
}

func (h *WebSocketHandler) subscribeAll() {
	if h.events == nil {
		h.logger.Warn().Msg("WebSocket handler created without event service, broadcasts disabled")
		return
	}
	for _, eventType := range []interfaces.EventType{
		interfaces.EventIngestStarted,
		interfaces.EventIngestProgress,
		interfaces.EventIngestCompleted,
		interfaces.EventIngestFailed,
		interfaces.EventSourceExpired,
	} {
		et := eventType
		_ = h.events.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(wsEvent{
				Type:      string(event.Type),
				Payload:   event.Payload,
				Timestamp: time.Now(),
			})
			return nil
		})
	}
}

// HandleWebSocket handles GET /ws requests
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

	// Reader loop exists only to detect disconnect; clients never send.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) broadcast(event wsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *WebSocketHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	delete(h.clients, conn)
}

// Close disconnects all clients.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
