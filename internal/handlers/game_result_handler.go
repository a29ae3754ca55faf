package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"defeatthememe-backend/internal/models"
	"defeatthememe-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GameResultStore is what the handler needs from the persistence service.
type GameResultStore interface {
	Save(ctx context.Context, in services.SaveGameResultInput) (*models.GameResult, error)
	GetLeaderboard(ctx context.Context, limit int) ([]*models.GameResult, error)
	GetPlayerHistory(ctx context.Context, playerAddress string) ([]*models.GameResult, error)
	GetGlobalStats(ctx context.Context) (*models.GlobalStats, error)
	GetMemeTypeStats(ctx context.Context, memeTypeIndex int) (*models.MemeTypeStats, error)
	SeedSampleData(ctx context.Context) ([]*models.GameResult, error)
}

// SaveGameResultRequest is the body of POST /api/game-results.
type SaveGameResultRequest struct {
	PlayerAddress   string   `json:"playerAddress"`
	KillsByType     []int64  `json:"killsByType"`
	TransactionHash string   `json:"transactionHash"`
	BlockNumber     Quantity `json:"blockNumber"`
	GameSession     string   `json:"gameSession"`
}

// GameResultHandler serves game result writes and leaderboard reads.
type GameResultHandler struct {
	results GameResultStore
	devMode bool
	log     *logrus.Entry
}

func NewGameResultHandler(results GameResultStore, devMode bool, log *logrus.Entry) *GameResultHandler {
	return &GameResultHandler{results: results, devMode: devMode, log: log}
}

// SaveHandler stores a finished game.
// POST /api/game-results
func (h *GameResultHandler) SaveHandler(c *gin.Context) {
	var body SaveGameResultRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.PlayerAddress == "" || body.KillsByType == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: playerAddress, killsByType"})
		return
	}

	in := services.SaveGameResultInput{
		PlayerAddress:   body.PlayerAddress,
		KillsByType:     body.KillsByType,
		TransactionHash: body.TransactionHash,
		GameSession:     body.GameSession,
	}
	if body.BlockNumber.Set && body.BlockNumber.Int.IsUint64() {
		bn := body.BlockNumber.Int.Uint64()
		in.BlockNumber = &bn
	}

	saved, err := h.results.Save(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, services.ErrInvalidGameResult) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.WithError(err).Error("❌ Error saving game result")
		h.storeError(c, "Failed to save game result", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"entityKey":  saved.EntityKey,
		"score":      saved.Score,
		"gameResult": saved,
	})
}

// QueryHandler dispatches on the action query parameter.
// GET /api/game-results?action=leaderboard|player-history|global-stats|meme-stats
func (h *GameResultHandler) QueryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	action := c.Query("action")
	h.log.WithField("action", action).Debug("📡 Game results request")

	switch action {
	case "leaderboard":
		limit := services.DefaultLeaderboardN
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		leaderboard, err := h.results.GetLeaderboard(ctx, limit)
		if err != nil {
			h.queryError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"leaderboard": leaderboard})

	case "player-history":
		player := c.Query("playerAddress")
		if player == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "playerAddress is required"})
			return
		}
		history, err := h.results.GetPlayerHistory(ctx, player)
		if err != nil {
			h.queryError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})

	case "global-stats":
		stats, err := h.results.GetGlobalStats(ctx)
		if err != nil {
			h.queryError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})

	case "meme-stats":
		index := 0
		if raw := c.Query("memeTypeIndex"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "memeTypeIndex must be an integer"})
				return
			}
			index = n
		}
		stats, err := h.results.GetMemeTypeStats(ctx, index)
		if err != nil {
			h.queryError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}

// SampleDataHandler seeds the store with sample games.
// POST /api/admin/sample-data
func (h *GameResultHandler) SampleDataHandler(c *gin.Context) {
	saved, err := h.results.SeedSampleData(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("❌ Error creating sample data")
		h.storeError(c, "Failed to create sample data", err)
		return
	}

	summary := make([]gin.H, 0, len(saved))
	for _, r := range saved {
		player := r.PlayerAddress
		if len(player) > 8 {
			player = player[:8] + "..."
		}
		summary = append(summary, gin.H{
			"entityKey": r.EntityKey,
			"score":     r.Score,
			"player":    player,
			"kills":     r.TotalKills,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Created " + strconv.Itoa(len(saved)) + " sample game results",
		"results": summary,
	})
}

func (h *GameResultHandler) queryError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrInvalidGameResult) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.log.WithError(err).Error("❌ Game results query failed")
	h.storeError(c, StoreErrorMessage(err), err)
}

func (h *GameResultHandler) storeError(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if h.devMode {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}

// StoreErrorMessage turns a store failure into the message shown to players.
func StoreErrorMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connect"):
		return "Unable to connect to GolemDB network"
	case strings.Contains(msg, "timeout"), errors.Is(err, context.DeadlineExceeded):
		return "Request timed out - GolemDB may be busy"
	default:
		return msg
	}
}
