package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"defeatthememe-backend/internal/clients"
	"defeatthememe-backend/internal/metrics"
	"defeatthememe-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

const (
	gameResultType       = "game_result"
	DefaultResultBTL     = 86400
	DefaultLeaderboardN  = 10
	MaxLeaderboardN      = 100
	leaderboardCacheKey  = "leaderboard:"
	globalStatsCacheKey  = "leaderboard:stats"
	memeStatsCachePrefix = "leaderboard:meme:"
)

// ErrInvalidGameResult is returned for malformed save requests.
var ErrInvalidGameResult = errors.New("invalid game result")

// ResultCache is the optional read-through cache for leaderboard queries.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// SaveGameResultInput is what a client submits after a finished game.
type SaveGameResultInput struct {
	PlayerAddress   string
	KillsByType     []int64
	TransactionHash string
	BlockNumber     *uint64
	GameSession     string
}

// GameResultService persists game results to the entity store and aggregates them.
type GameResultService struct {
	store  clients.EntityStore
	cache  ResultCache
	events EventPublisher
	btl    uint64
	now    func() time.Time
	log    *logrus.Entry
}

// NewGameResultService creates the service. cache and events may be nil.
func NewGameResultService(store clients.EntityStore, cache ResultCache, events EventPublisher, btl uint64, log *logrus.Entry) *GameResultService {
	if btl == 0 {
		btl = DefaultResultBTL
	}
	if events == nil {
		events = NoopPublisher{}
	}
	return &GameResultService{store: store, cache: cache, events: events, btl: btl, now: time.Now, log: log}
}

// Save scores the result and writes it with its annotations.
func (s *GameResultService) Save(ctx context.Context, in SaveGameResultInput) (*models.GameResult, error) {
	if !common.IsHexAddress(in.PlayerAddress) {
		return nil, fmt.Errorf("%w: playerAddress must be a hex address", ErrInvalidGameResult)
	}
	for _, k := range in.KillsByType {
		if k < 0 {
			return nil, fmt.Errorf("%w: killsByType must not contain negative counts", ErrInvalidGameResult)
		}
	}

	nowMs := s.now().UnixMilli()
	session := in.GameSession
	if session == "" {
		session = fmt.Sprintf("session_%d", nowMs)
	}
	result := &models.GameResult{
		ID:              fmt.Sprintf("game_%s_%d", in.PlayerAddress, nowMs),
		PlayerAddress:   strings.ToLower(in.PlayerAddress),
		KillsByType:     append([]int64(nil), in.KillsByType...),
		Timestamp:       nowMs,
		BlockNumber:     in.BlockNumber,
		TransactionHash: in.TransactionHash,
		GameSession:     session,
	}
	return s.write(ctx, result)
}

func (s *GameResultService) write(ctx context.Context, result *models.GameResult) (*models.GameResult, error) {
	result.Finalize()

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	receipts, err := s.store.CreateEntities(ctx, []clients.EntityCreate{{
		Data:               payload,
		BTL:                s.btl,
		StringAnnotations:  stringAnnotations(result),
		NumericAnnotations: numericAnnotations(result),
	}})
	s.observe("create", started, err)
	if err != nil {
		return nil, fmt.Errorf("save game result: %w", err)
	}
	if len(receipts) == 0 {
		return nil, fmt.Errorf("save game result: store returned no receipt")
	}

	result.EntityKey = receipts[0].EntityKey.Hex()
	result.ExpirationBlock = receipts[0].ExpirationBlock
	metrics.GameResultsSaved.Inc()

	if s.cache != nil {
		if err := s.cache.InvalidatePrefix(ctx, leaderboardCacheKey); err != nil {
			s.log.WithError(err).Warn("⚠️  Failed to invalidate leaderboard cache")
		}
	}
	if err := s.events.Publish(SubjectGameResultSaved, result); err != nil {
		s.log.WithError(err).Warn("⚠️  Failed to publish game result event")
	}

	s.log.WithFields(logrus.Fields{
		"entity_key": result.EntityKey,
		"player":     result.PlayerAddress,
		"score":      result.Score,
	}).Info("✅ Game result saved")
	return result, nil
}

// GetLeaderboard returns at most limit results ordered by score, highest first.
// Equal scores keep store order, which is not guaranteed.
func (s *GameResultService) GetLeaderboard(ctx context.Context, limit int) ([]*models.GameResult, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardN
	}
	if limit > MaxLeaderboardN {
		limit = MaxLeaderboardN
	}

	cacheKey := fmt.Sprintf("%s%d", leaderboardCacheKey, limit)
	var cached []*models.GameResult
	if s.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	results, err := s.queryWithMetadata(ctx, fmt.Sprintf("type = %q", gameResultType))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	s.cacheSet(ctx, cacheKey, results)
	return results, nil
}

// GetPlayerHistory returns the player's games, newest first.
func (s *GameResultService) GetPlayerHistory(ctx context.Context, playerAddress string) ([]*models.GameResult, error) {
	player := strings.ToLower(strings.TrimSpace(playerAddress))
	if !common.IsHexAddress(player) {
		return nil, fmt.Errorf("%w: playerAddress must be a hex address", ErrInvalidGameResult)
	}
	results, err := s.queryWithMetadata(ctx, fmt.Sprintf("type = %q && playerAddress = %q", gameResultType, player))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Timestamp > results[j].Timestamp })
	return results, nil
}

// GetGlobalStats aggregates every stored result.
func (s *GameResultService) GetGlobalStats(ctx context.Context) (*models.GlobalStats, error) {
	var cached models.GlobalStats
	if s.cacheGet(ctx, globalStatsCacheKey, &cached) {
		return &cached, nil
	}

	results, err := s.queryPayloads(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.GlobalStats{KillsByMemeType: make([]uint64, models.MemeTypeCount)}
	var totalScore uint64
	for _, r := range results {
		stats.TotalGames++
		stats.TotalKills += r.TotalKills
		totalScore += r.Score
		if r.Score > stats.TopScore {
			stats.TopScore = r.Score
		}
		for i, k := range r.KillsByType {
			if i < models.MemeTypeCount && k > 0 {
				stats.KillsByMemeType[i] += uint64(k)
			}
		}
	}
	if stats.TotalGames > 0 {
		stats.AverageScore = float64(totalScore) / float64(stats.TotalGames)
	}

	s.cacheSet(ctx, globalStatsCacheKey, stats)
	return stats, nil
}

// GetMemeTypeStats aggregates one enemy category over the games where it was killed.
func (s *GameResultService) GetMemeTypeStats(ctx context.Context, memeTypeIndex int) (*models.MemeTypeStats, error) {
	if memeTypeIndex < 0 || memeTypeIndex >= models.MemeTypeCount {
		return nil, fmt.Errorf("%w: memeTypeIndex must be between 0 and %d", ErrInvalidGameResult, models.MemeTypeCount-1)
	}
	cacheKey := fmt.Sprintf("%s%d", memeStatsCachePrefix, memeTypeIndex)
	var cached models.MemeTypeStats
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	results, err := s.queryPayloads(ctx)
	if err != nil {
		return nil, err
	}
	stats := &models.MemeTypeStats{}
	for _, r := range results {
		if memeTypeIndex < len(r.KillsByType) && r.KillsByType[memeTypeIndex] > 0 {
			stats.TotalKills += uint64(r.KillsByType[memeTypeIndex])
			stats.GamesPlayed++
		}
	}
	if stats.GamesPlayed > 0 {
		stats.AverageKillsPerGame = float64(stats.TotalKills) / float64(stats.GamesPlayed)
	}

	s.cacheSet(ctx, cacheKey, stats)
	return stats, nil
}

var samplePlayers = []string{
	"0x1234567890123456789012345678901234567890",
	"0x2345678901234567890123456789012345678901",
	"0x3456789012345678901234567890123456789012",
	"0x4567890123456789012345678901234567890123",
	"0x5678901234567890123456789012345678901234",
}

// SeedSampleData writes eight varied results for five sample players.
func (s *GameResultService) SeedSampleData(ctx context.Context) ([]*models.GameResult, error) {
	now := s.now()
	rng := rand.New(rand.NewSource(now.UnixNano()))

	saved := make([]*models.GameResult, 0, 8)
	for i := 0; i < 8; i++ {
		baseKills := int64(15 * (rng.Float64()*2 + 0.5))
		kills := make([]int64, models.MemeTypeCount)
		perType := baseKills / 3
		var sum int64
		for j := range kills {
			if perType > 0 {
				kills[j] = rng.Int63n(perType)
			}
			sum += kills[j]
		}
		if diff := baseKills - sum; diff > 0 {
			kills[rng.Intn(len(kills))] += diff
		}

		block := uint64(12345 + i)
		ts := now.Add(-time.Duration(i) * 30 * time.Minute).UnixMilli()
		result := &models.GameResult{
			ID:              fmt.Sprintf("sample_game_%d_%d", i, now.UnixMilli()),
			PlayerAddress:   samplePlayers[i%len(samplePlayers)],
			KillsByType:     kills,
			Timestamp:       ts,
			BlockNumber:     &block,
			TransactionHash: fmt.Sprintf("0x%040x", rng.Uint64()),
			GameSession:     fmt.Sprintf("sample_session_%d_%d", i, now.UnixMilli()),
		}
		out, err := s.write(ctx, result)
		if err != nil {
			return saved, err
		}
		saved = append(saved, out)
	}
	return saved, nil
}

func (s *GameResultService) queryPayloads(ctx context.Context) ([]*models.GameResult, error) {
	started := time.Now()
	entities, err := s.store.QueryEntities(ctx, fmt.Sprintf("type = %q", gameResultType))
	s.observe("query", started, err)
	if err != nil {
		return nil, fmt.Errorf("query game results: %w", err)
	}

	results := make([]*models.GameResult, 0, len(entities))
	for _, e := range entities {
		r, err := decodeGameResult(e)
		if err != nil {
			s.log.WithError(err).WithField("entity_key", e.EntityKey.Hex()).Warn("⚠️  Skipping undecodable game result")
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *GameResultService) queryWithMetadata(ctx context.Context, query string) ([]*models.GameResult, error) {
	started := time.Now()
	entities, err := s.store.QueryEntities(ctx, query)
	s.observe("query", started, err)
	if err != nil {
		return nil, fmt.Errorf("query game results: %w", err)
	}

	results := make([]*models.GameResult, 0, len(entities))
	for _, e := range entities {
		r, err := decodeGameResult(e)
		if err != nil {
			s.log.WithError(err).WithField("entity_key", e.EntityKey.Hex()).Warn("⚠️  Skipping undecodable game result")
			continue
		}

		started = time.Now()
		meta, err := s.store.GetEntityMetaData(ctx, e.EntityKey)
		s.observe("metadata", started, err)
		if err != nil {
			return nil, fmt.Errorf("get metadata for %s: %w", e.EntityKey.Hex(), err)
		}
		r.ExpirationBlock = meta.ExpiresAtBlock
		r.StringAnnotations = make(map[string]string, len(meta.StringAnnotations))
		for _, a := range meta.StringAnnotations {
			r.StringAnnotations[a.Key] = a.Value
		}
		r.NumericAnnotations = make(map[string]uint64, len(meta.NumericAnnotations))
		for _, a := range meta.NumericAnnotations {
			r.NumericAnnotations[a.Key] = a.Value
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeGameResult(e clients.EntityResult) (*models.GameResult, error) {
	var r models.GameResult
	if err := json.Unmarshal(e.StorageValue, &r); err != nil {
		return nil, err
	}
	r.EntityKey = e.EntityKey.Hex()
	return &r, nil
}

func stringAnnotations(r *models.GameResult) []clients.StringAnnotation {
	return []clients.StringAnnotation{
		{Key: "id", Value: r.ID},
		{Key: "type", Value: gameResultType},
		{Key: "playerAddress", Value: strings.ToLower(r.PlayerAddress)},
		{Key: "gameSession", Value: r.GameSession},
		{Key: "transactionHash", Value: r.TransactionHash},
	}
}

func numericAnnotations(r *models.GameResult) []clients.NumericAnnotation {
	out := []clients.NumericAnnotation{
		{Key: "totalKills", Value: r.TotalKills},
		{Key: "score", Value: r.Score},
		{Key: "timestamp", Value: uint64(r.Timestamp)},
	}
	for i, k := range r.KillsByType {
		out = append(out, clients.NumericAnnotation{Key: fmt.Sprintf("memeType%dKills", i), Value: uint64(k)})
	}
	if r.BlockNumber != nil {
		out = append(out, clients.NumericAnnotation{Key: "blockNumber", Value: *r.BlockNumber})
	}
	return out
}

func (s *GameResultService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.GetJSON(ctx, key, dest)
	if err != nil && !errors.Is(err, clients.ErrCacheMiss) {
		s.log.WithError(err).Debug("Cache read failed")
	}
	return err == nil
}

func (s *GameResultService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value); err != nil {
		s.log.WithError(err).Debug("Cache write failed")
	}
}

func (s *GameResultService) observe(operation string, started time.Time, err error) {
	metrics.EntityStoreDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.EntityStoreErrors.WithLabelValues(operation).Inc()
	}
}
