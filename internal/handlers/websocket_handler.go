package handlers

import (
	"net/http"

	"defeatthememe-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler attaches live feed clients to the push hub.
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
}

func NewWebSocketHandler(pushService *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{pushService: pushService}
}

// HandleWebSocket upgrades GET /ws. An optional ?player= restricts the feed to one address.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	player := c.Query("player")
	if player != "" && !common.IsHexAddress(player) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player must be a hex address"})
		return
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, player)
}

// StatsHandler reports live feed connection counts.
// GET /api/admin/ws-stats
func (h *WebSocketHandler) StatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": h.pushService.ActiveConnections()})
}
