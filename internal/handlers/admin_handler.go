package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"defeatthememe-backend/internal/models"
	"defeatthememe-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler serves the relay audit log.
type AdminHandler struct {
	attempts repository.RelayAttemptRepository
	log      *logrus.Entry
}

// NewAdminHandler creates the handler. attempts is nil when no database is configured.
func NewAdminHandler(attempts repository.RelayAttemptRepository, log *logrus.Entry) *AdminHandler {
	return &AdminHandler{attempts: attempts, log: log}
}

// ListRelayAttemptsHandler GET /api/admin/relay-attempts?chainId=&from=&status=&limit=&offset=
func (h *AdminHandler) ListRelayAttemptsHandler(c *gin.Context) {
	if h.attempts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Relay audit log is not configured"})
		return
	}

	var filter repository.RelayAttemptFilter
	if raw := c.Query("chainId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chainId must be a number"})
			return
		}
		filter.ChainID = id
	}
	if from := strings.TrimSpace(c.Query("from")); from != "" {
		if !common.IsHexAddress(from) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a hex address"})
			return
		}
		filter.From = common.HexToAddress(from).Hex()
	}
	filter.Status = models.RelayStatus(c.Query("status"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	attempts, total, err := h.attempts.List(c.Request.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("❌ Failed to list relay attempts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list relay attempts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "total": total})
}

// GetRelayAttemptHandler GET /api/admin/relay-attempts/:id
func (h *AdminHandler) GetRelayAttemptHandler(c *gin.Context) {
	if h.attempts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Relay audit log is not configured"})
		return
	}
	attempt, err := h.attempts.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Relay attempt not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempt": attempt})
}
