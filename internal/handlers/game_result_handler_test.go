package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/models"
	"defeatthememe-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const handlerPlayer = "0x1111111111111111111111111111111111111111"

func gameResultRouter(store GameResultStore, devMode bool) *gin.Engine {
	h := NewGameResultHandler(store, devMode, logger.Discard())
	r := gin.New()
	r.POST("/api/game-results", h.SaveHandler)
	r.GET("/api/game-results", h.QueryHandler)
	r.POST("/api/admin/sample-data", h.SampleDataHandler)
	return r
}

func memoryResults() *services.GameResultService {
	store := clients.NewMemoryEntityStore(common.Address{})
	return services.NewGameResultService(store, nil, nil, 0, logger.Discard())
}

// failingResults fails every call with err.
type failingResults struct{ err error }

func (f failingResults) Save(context.Context, services.SaveGameResultInput) (*models.GameResult, error) {
	return nil, f.err
}
func (f failingResults) GetLeaderboard(context.Context, int) ([]*models.GameResult, error) {
	return nil, f.err
}
func (f failingResults) GetPlayerHistory(context.Context, string) ([]*models.GameResult, error) {
	return nil, f.err
}
func (f failingResults) GetGlobalStats(context.Context) (*models.GlobalStats, error) {
	return nil, f.err
}
func (f failingResults) GetMemeTypeStats(context.Context, int) (*models.MemeTypeStats, error) {
	return nil, f.err
}
func (f failingResults) SeedSampleData(context.Context) ([]*models.GameResult, error) {
	return nil, f.err
}

func TestSaveHandler(t *testing.T) {
	r := gameResultRouter(memoryResults(), false)

	w := performRequest(r, http.MethodPost, "/api/game-results",
		`{"playerAddress":"`+handlerPlayer+`","killsByType":[5,8,3,2,4,1,2,0,0],"blockNumber":"0x10"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d (%s)", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true || body["score"] != float64(650) || body["entityKey"] == "" {
		t.Errorf("body = %v", body)
	}
	result := body["gameResult"].(map[string]interface{})
	if result["totalKills"] != float64(25) || result["blockNumber"] != float64(16) {
		t.Errorf("gameResult = %v", result)
	}
}

func TestSaveHandlerValidation(t *testing.T) {
	r := gameResultRouter(memoryResults(), false)
	missing := "Missing required fields: playerAddress, killsByType"
	cases := []struct {
		body string
		want string
	}{
		{`{}`, missing},
		{`{"playerAddress":"` + handlerPlayer + `"}`, missing},
		{`{"killsByType":[1]}`, missing},
		{`not json`, missing},
		{`{"playerAddress":"bob","killsByType":[1]}`, "invalid game result: playerAddress must be a hex address"},
		{`{"playerAddress":"` + handlerPlayer + `","killsByType":[-1]}`, "invalid game result: killsByType must not contain negative counts"},
	}
	for _, tc := range cases {
		w := performRequest(r, http.MethodPost, "/api/game-results", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", tc.body, w.Code)
			continue
		}
		if got := decodeBody(t, w)["error"]; got != tc.want {
			t.Errorf("%s: error = %v, want %q", tc.body, got, tc.want)
		}
	}
}

func TestQueryHandlerActions(t *testing.T) {
	svc := memoryResults()
	for _, kills := range [][]int64{{1}, {4, 4}, {2}} {
		if _, err := svc.Save(context.Background(), services.SaveGameResultInput{PlayerAddress: handlerPlayer, KillsByType: kills}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	r := gameResultRouter(svc, false)

	w := performRequest(r, http.MethodGet, "/api/game-results?action=leaderboard&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("leaderboard code = %d", w.Code)
	}
	board := decodeBody(t, w)["leaderboard"].([]interface{})
	if len(board) != 2 {
		t.Fatalf("leaderboard len = %d", len(board))
	}
	first := board[0].(map[string]interface{})["score"].(float64)
	second := board[1].(map[string]interface{})["score"].(float64)
	if first < second {
		t.Errorf("leaderboard order %v < %v", first, second)
	}

	w = performRequest(r, http.MethodGet, "/api/game-results?action=player-history&playerAddress="+handlerPlayer, "")
	if w.Code != http.StatusOK || len(decodeBody(t, w)["history"].([]interface{})) != 3 {
		t.Errorf("history = %d %s", w.Code, w.Body.String())
	}

	w = performRequest(r, http.MethodGet, "/api/game-results?action=global-stats", "")
	stats := decodeBody(t, w)["stats"].(map[string]interface{})
	if stats["totalGames"] != float64(3) || stats["totalKills"] != float64(11) {
		t.Errorf("global stats = %v", stats)
	}

	w = performRequest(r, http.MethodGet, "/api/game-results?action=meme-stats&memeTypeIndex=1", "")
	meme := decodeBody(t, w)["stats"].(map[string]interface{})
	if meme["totalKills"] != float64(4) || meme["gamesPlayed"] != float64(1) {
		t.Errorf("meme stats = %v", meme)
	}
}

func TestQueryHandlerErrors(t *testing.T) {
	r := gameResultRouter(memoryResults(), false)
	cases := []struct {
		query string
		want  string
	}{
		{"", "Invalid action"},
		{"action=unknown", "Invalid action"},
		{"action=leaderboard&limit=0", "limit must be a positive integer"},
		{"action=leaderboard&limit=ten", "limit must be a positive integer"},
		{"action=player-history", "playerAddress is required"},
		{"action=meme-stats&memeTypeIndex=x", "memeTypeIndex must be an integer"},
		{"action=meme-stats&memeTypeIndex=9", "invalid game result: memeTypeIndex must be between 0 and 8"},
	}
	for _, tc := range cases {
		w := performRequest(r, http.MethodGet, "/api/game-results?"+tc.query, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", tc.query, w.Code)
			continue
		}
		if got := decodeBody(t, w)["error"]; got != tc.want {
			t.Errorf("%s: error = %v, want %q", tc.query, got, tc.want)
		}
	}
}

func TestStoreFailures(t *testing.T) {
	failing := failingResults{err: errors.New("failed to connect to GolemDB")}

	r := gameResultRouter(failing, false)
	w := performRequest(r, http.MethodGet, "/api/game-results?action=global-stats", "")
	body := decodeBody(t, w)
	if w.Code != http.StatusInternalServerError || body["error"] != "Unable to connect to GolemDB network" {
		t.Errorf("query failure = %d %v", w.Code, body)
	}
	if _, leaked := body["details"]; leaked {
		t.Error("details exposed outside development")
	}

	r = gameResultRouter(failing, true)
	w = performRequest(r, http.MethodPost, "/api/game-results", `{"playerAddress":"`+handlerPlayer+`","killsByType":[1]}`)
	body = decodeBody(t, w)
	if w.Code != http.StatusInternalServerError || body["error"] != "Failed to save game result" || body["details"] == nil {
		t.Errorf("save failure = %d %v", w.Code, body)
	}
}

func TestStoreErrorMessage(t *testing.T) {
	cases := map[string]string{
		"dial: cannot connect":  "Unable to connect to GolemDB network",
		"i/o timeout":           "Request timed out - GolemDB may be busy",
		"entity store: invalid": "entity store: invalid",
	}
	for in, want := range cases {
		if got := StoreErrorMessage(errors.New(in)); got != want {
			t.Errorf("StoreErrorMessage(%q) = %q, want %q", in, got, want)
		}
	}
	if got := StoreErrorMessage(context.DeadlineExceeded); got != "Request timed out - GolemDB may be busy" {
		t.Errorf("deadline = %q", got)
	}
}

func TestSampleDataHandler(t *testing.T) {
	r := gameResultRouter(memoryResults(), false)
	w := performRequest(r, http.MethodPost, "/api/admin/sample-data", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["message"] != "Created 8 sample game results" {
		t.Errorf("message = %v", body["message"])
	}
	results := body["results"].([]interface{})
	if len(results) != 8 {
		t.Fatalf("results = %d", len(results))
	}
	player := results[0].(map[string]interface{})["player"].(string)
	if !strings.HasSuffix(player, "...") || len(player) != 11 {
		t.Errorf("player = %q, want truncated address", player)
	}
}
