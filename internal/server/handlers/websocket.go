package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/vonssyb/nacionmx-ems/internal/server/websocket"
	"github.com/vonssyb/nacionmx-ems/pkg/config"
)

type WebSocketHandler struct {
	hub      *websocket.WsHub
	upgrader gws.Upgrader
}

func NewWebSocketHandler(hub *websocket.WsHub, cfg config.WebSocketConfig) *WebSocketHandler {
	readBuffer := cfg.ReadBufferSize
	if readBuffer == 0 {
		readBuffer = 1024
	}
	writeBuffer := cfg.WriteBufferSize
	if writeBuffer == 0 {
		writeBuffer = 1024
	}

	return &WebSocketHandler{
		hub: hub,
		upgrader: gws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return !cfg.CheckOrigin
			},
		},
	}
}

// HandleConnection subscribes the caller to notifications for one entity, or
// to everything when no entity_id is given.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	entityID := c.Query("entity_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Failed to upgrade to WebSocket",
		})
		return
	}

	client := &websocket.WsClient{EntityID: entityID, Conn: conn}
	h.hub.Register <- client

	// Drain the read side until the peer goes away; the hub owns writes.
	go func() {
		defer func() {
			h.hub.Unregister <- client
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
