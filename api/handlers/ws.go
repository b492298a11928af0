package handlers

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/ws"
)

// WebSocketHandler bridges gin routing to the WebSocket attach transport.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(registry *session.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: ws.NewHandler(registry),
	}
}

// RegisterRoutes registers the WebSocket routes on the given router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/instances/:id/attach", h.Attach)
}

// Attach handles GET /api/instances/:id/attach - upgrades to WebSocket and
// streams the instance.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, c.Param("id")); err != nil {
		log.Printf("WebSocket connection failed for %s: %v", c.Param("id"), err)
	}
}
