package websocket

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vonssyb/nacionmx-ems/internal/domain"
)

// WsHub fans notifications out to connected clients. A client subscribes to
// one entity id; notifications without an entity id go to every client.
// The hub doubles as the service layer's notification sink.
type WsHub struct {
	Clients    map[string]map[*websocket.Conn]bool
	Broadcast  chan domain.Notification
	Register   chan *WsClient
	Unregister chan *WsClient
	Logger     zerolog.Logger
}

type WsClient struct {
	EntityID string
	Conn     *websocket.Conn
}

func NewWsHub(logger zerolog.Logger) *WsHub {
	return &WsHub{
		Clients:    make(map[string]map[*websocket.Conn]bool),
		Broadcast:  make(chan domain.Notification, 100),
		Register:   make(chan *WsClient, 100),
		Unregister: make(chan *WsClient, 100),
		Logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Notify implements the notification sink. It never blocks: a full broadcast
// buffer drops the notification rather than stalling an operation.
func (h *WsHub) Notify(ctx context.Context, n domain.Notification) error {
	select {
	case h.Broadcast <- n:
	default:
		h.Logger.Warn().
			Str("type", n.Type).
			Int64("operation_id", n.OperationID).
			Msg("Broadcast buffer full, notification dropped")
	}
	return nil
}

func (h *WsHub) Run() {
	for {
		select {
		case client := <-h.Register:
			if h.Clients[client.EntityID] == nil {
				h.Clients[client.EntityID] = make(map[*websocket.Conn]bool)
			}
			h.Clients[client.EntityID][client.Conn] = true
			h.Logger.Info().
				Str("entity_id", client.EntityID).
				Int("connection_count", len(h.Clients[client.EntityID])).
				Msg("WebSocket client registered")

		case client := <-h.Unregister:
			if clients, ok := h.Clients[client.EntityID]; ok {
				delete(clients, client.Conn)
				if len(clients) == 0 {
					delete(h.Clients, client.EntityID)
				}
				client.Conn.Close()
				h.Logger.Info().
					Str("entity_id", client.EntityID).
					Int("connection_count", len(clients)).
					Msg("WebSocket client unregistered")
			}

		case n := <-h.Broadcast:
			if n.EntityID == "" {
				for entityID, clients := range h.Clients {
					h.send(entityID, clients, n)
				}
				continue
			}
			if clients, ok := h.Clients[n.EntityID]; ok {
				h.send(n.EntityID, clients, n)
			}
		}
	}
}

func (h *WsHub) send(entityID string, clients map[*websocket.Conn]bool, n domain.Notification) {
	for conn := range clients {
		if err := conn.WriteJSON(n); err != nil {
			h.Logger.Err(err).
				Str("entity_id", entityID).
				Str("type", n.Type).
				Msg("Failed to send WebSocket message")
			conn.Close()
			delete(clients, conn)
		}
	}
	if len(clients) == 0 {
		delete(h.Clients, entityID)
	}
}
