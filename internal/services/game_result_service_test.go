package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/logger"
	"defeatthememe-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

const (
	playerA = "0x1111111111111111111111111111111111111111"
	playerB = "0x2222222222222222222222222222222222222222"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string][]byte)} }

func (c *mapCache) GetJSON(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	raw, ok := c.entries[key]
	if !ok {
		return clients.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *mapCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func newTestResultService(cache ResultCache, events EventPublisher) (*GameResultService, *clients.MemoryEntityStore) {
	store := clients.NewMemoryEntityStore(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	svc := NewGameResultService(store, cache, events, 100, logger.Discard())
	clock := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, store
}

func mustSave(t *testing.T, svc *GameResultService, player string, kills ...int64) *models.GameResult {
	t.Helper()
	r, err := svc.Save(context.Background(), SaveGameResultInput{PlayerAddress: player, KillsByType: kills})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return r
}

func TestSaveScoresAndAnnotates(t *testing.T) {
	events := &recordingPublisher{}
	svc, store := newTestResultService(nil, events)

	mixed := "0xABCDEFabcdef0000000000000000000000000001"
	saved := mustSave(t, svc, mixed, 5, 8, 3, 2, 4, 1, 2, 0, 0)
	if saved.TotalKills != 25 || saved.Score != 650 {
		t.Fatalf("saved totals = %d/%d, want 25/650", saved.TotalKills, saved.Score)
	}
	if saved.PlayerAddress != strings.ToLower(mixed) {
		t.Errorf("PlayerAddress = %s, want lowercased", saved.PlayerAddress)
	}
	if saved.EntityKey == "" || saved.ExpirationBlock == 0 {
		t.Errorf("missing entity key or expiry: %+v", saved)
	}
	if !strings.HasPrefix(saved.GameSession, "session_") {
		t.Errorf("GameSession = %q, want default session id", saved.GameSession)
	}

	meta, err := store.GetEntityMetaData(context.Background(), common.HexToHash(saved.EntityKey))
	if err != nil {
		t.Fatalf("GetEntityMetaData: %v", err)
	}
	nums := map[string]uint64{}
	for _, a := range meta.NumericAnnotations {
		nums[a.Key] = a.Value
	}
	if nums["score"] != 650 || nums["totalKills"] != 25 || nums["memeType1Kills"] != 8 {
		t.Errorf("numeric annotations = %v", nums)
	}
	strs := map[string]string{}
	for _, a := range meta.StringAnnotations {
		strs[a.Key] = a.Value
	}
	if strs["type"] != "game_result" || strs["playerAddress"] != strings.ToLower(mixed) {
		t.Errorf("string annotations = %v", strs)
	}

	if len(events.subjects) != 1 || events.subjects[0] != SubjectGameResultSaved {
		t.Errorf("events = %v", events.subjects)
	}
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestResultService(nil, nil)
	cases := []SaveGameResultInput{
		{PlayerAddress: "not-an-address", KillsByType: []int64{1}},
		{PlayerAddress: playerA, KillsByType: []int64{1, -1}},
	}
	for _, in := range cases {
		if _, err := svc.Save(context.Background(), in); !errors.Is(err, ErrInvalidGameResult) {
			t.Errorf("Save(%+v) err = %v, want ErrInvalidGameResult", in, err)
		}
	}
}

func TestLeaderboardOrderingAndLimit(t *testing.T) {
	svc, _ := newTestResultService(nil, nil)
	mustSave(t, svc, playerA, 1)
	mustSave(t, svc, playerB, 10, 10)
	mustSave(t, svc, playerA, 3, 3, 3)

	board, err := svc.GetLeaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("len = %d, want 3", len(board))
	}
	for i := 1; i < len(board); i++ {
		if board[i-1].Score < board[i].Score {
			t.Errorf("leaderboard not ordered: %d before %d", board[i-1].Score, board[i].Score)
		}
	}
	for _, r := range board {
		if r.TotalKills != models.SumKills(r.KillsByType) {
			t.Errorf("totalKills %d != sum %v", r.TotalKills, r.KillsByType)
		}
		if r.ExpirationBlock == 0 || r.NumericAnnotations["score"] != r.Score {
			t.Errorf("result missing metadata: %+v", r)
		}
	}

	top, err := svc.GetLeaderboard(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetLeaderboard(1): %v", err)
	}
	if len(top) != 1 || top[0].PlayerAddress != playerB {
		t.Errorf("top = %+v", top)
	}
}

func TestLeaderboardExpiredResultsDisappear(t *testing.T) {
	svc, store := newTestResultService(nil, nil)
	mustSave(t, svc, playerA, 1)
	store.AdvanceBlocks(100)

	board, err := svc.GetLeaderboard(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board) != 0 {
		t.Errorf("expired result still listed: %+v", board)
	}
}

func TestPlayerHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestResultService(nil, nil)
	first := mustSave(t, svc, playerA, 1)
	mustSave(t, svc, playerB, 2)
	second := mustSave(t, svc, playerA, 3)

	history, err := svc.GetPlayerHistory(context.Background(), "  "+playerA+" ")
	if err != nil {
		t.Fatalf("GetPlayerHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
	if history[0].ID != second.ID || history[1].ID != first.ID {
		t.Errorf("history order = %s, %s", history[0].ID, history[1].ID)
	}

	if _, err := svc.GetPlayerHistory(context.Background(), "bob"); !errors.Is(err, ErrInvalidGameResult) {
		t.Errorf("err = %v, want ErrInvalidGameResult", err)
	}
}

func TestGlobalAndMemeTypeStats(t *testing.T) {
	svc, _ := newTestResultService(nil, nil)
	mustSave(t, svc, playerA, 5, 8, 3, 2, 4, 1, 2, 0, 0)
	mustSave(t, svc, playerB, 1, 0, 0, 0, 0, 0, 0, 0, 0)

	stats, err := svc.GetGlobalStats(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalStats: %v", err)
	}
	if stats.TotalGames != 2 || stats.TotalKills != 26 || stats.TopScore != 650 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.KillsByMemeType[0] != 6 || stats.KillsByMemeType[1] != 8 {
		t.Errorf("KillsByMemeType = %v", stats.KillsByMemeType)
	}
	wantAvg := float64(650+models.CalculateScore([]int64{1})) / 2
	if stats.AverageScore != wantAvg {
		t.Errorf("AverageScore = %v, want %v", stats.AverageScore, wantAvg)
	}

	meme, err := svc.GetMemeTypeStats(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetMemeTypeStats: %v", err)
	}
	if meme.TotalKills != 8 || meme.GamesPlayed != 1 || meme.AverageKillsPerGame != 8 {
		t.Errorf("meme stats = %+v", meme)
	}

	if _, err := svc.GetMemeTypeStats(context.Background(), models.MemeTypeCount); !errors.Is(err, ErrInvalidGameResult) {
		t.Errorf("out-of-range index err = %v", err)
	}
}

func TestEmptyStoreStats(t *testing.T) {
	svc, _ := newTestResultService(nil, nil)
	stats, err := svc.GetGlobalStats(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalStats: %v", err)
	}
	if stats.TotalGames != 0 || stats.AverageScore != 0 || len(stats.KillsByMemeType) != models.MemeTypeCount {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLeaderboardCacheInvalidatedOnSave(t *testing.T) {
	cache := newMapCache()
	svc, _ := newTestResultService(cache, nil)
	mustSave(t, svc, playerA, 1)

	board, err := svc.GetLeaderboard(context.Background(), 5)
	if err != nil || len(board) != 1 {
		t.Fatalf("GetLeaderboard = %v, %v", board, err)
	}
	if _, ok := cache.entries["leaderboard:5"]; !ok {
		t.Fatal("leaderboard was not cached")
	}

	mustSave(t, svc, playerB, 2)
	if _, ok := cache.entries["leaderboard:5"]; ok {
		t.Fatal("save did not invalidate the cached leaderboard")
	}
	board, err = svc.GetLeaderboard(context.Background(), 5)
	if err != nil || len(board) != 2 {
		t.Fatalf("GetLeaderboard after save = %d results, %v", len(board), err)
	}
}

func TestSeedSampleData(t *testing.T) {
	svc, _ := newTestResultService(nil, nil)
	seeded, err := svc.SeedSampleData(context.Background())
	if err != nil {
		t.Fatalf("SeedSampleData: %v", err)
	}
	if len(seeded) != 8 {
		t.Fatalf("seeded %d results, want 8", len(seeded))
	}
	players := map[string]bool{}
	for _, r := range seeded {
		players[r.PlayerAddress] = true
		if r.Score != models.CalculateScore(r.KillsByType) {
			t.Errorf("seeded score %d does not match kills %v", r.Score, r.KillsByType)
		}
	}
	if len(players) != 5 {
		t.Errorf("seeded %d players, want 5", len(players))
	}

	board, err := svc.GetLeaderboard(context.Background(), 100)
	if err != nil || len(board) != 8 {
		t.Fatalf("leaderboard after seed = %d, %v", len(board), err)
	}
}
