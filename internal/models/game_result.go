package models

// MemeTypeCount is the number of enemy categories tracked per game.
const MemeTypeCount = 9

const (
	pointsPerKill       = 10
	varietyBonusPerType = 50
	killCountBonus      = 2
)

// GameResult is one finished play session as stored in the entity store.
type GameResult struct {
	ID              string  `json:"id"`
	PlayerAddress   string  `json:"playerAddress"`
	TotalKills      uint64  `json:"totalKills"`
	KillsByType     []int64 `json:"killsByType"`
	Score           uint64  `json:"score"`
	Timestamp       int64   `json:"timestamp"` // unix millis
	BlockNumber     *uint64 `json:"blockNumber,omitempty"`
	TransactionHash string  `json:"transactionHash,omitempty"`
	GameSession     string  `json:"gameSession"`

	EntityKey          string            `json:"entityKey,omitempty"`
	ExpirationBlock    uint64            `json:"expirationBlock,omitempty"`
	StringAnnotations  map[string]string `json:"stringAnnotations,omitempty"`
	NumericAnnotations map[string]uint64 `json:"numericAnnotations,omitempty"`
}

// SumKills returns the total of killsByType, ignoring negative counts.
func SumKills(killsByType []int64) uint64 {
	var total uint64
	for _, k := range killsByType {
		if k > 0 {
			total += uint64(k)
		}
	}
	return total
}

// CalculateScore is base points per kill, a bonus per distinct category with at
// least one kill, and a secondary kill-count bonus.
func CalculateScore(killsByType []int64) uint64 {
	total := SumKills(killsByType)
	var distinct uint64
	for _, k := range killsByType {
		if k > 0 {
			distinct++
		}
	}
	return total*pointsPerKill + distinct*varietyBonusPerType + total*killCountBonus
}

// Finalize recomputes the derived fields.
func (g *GameResult) Finalize() {
	g.TotalKills = SumKills(g.KillsByType)
	g.Score = CalculateScore(g.KillsByType)
}

// GlobalStats aggregates every stored game.
type GlobalStats struct {
	TotalGames      int      `json:"totalGames"`
	TotalKills      uint64   `json:"totalKills"`
	AverageScore    float64  `json:"averageScore"`
	TopScore        uint64   `json:"topScore"`
	KillsByMemeType []uint64 `json:"killsByMemeType"`
}

// MemeTypeStats aggregates one enemy category across games where it was killed.
type MemeTypeStats struct {
	TotalKills          uint64  `json:"totalKills"`
	GamesPlayed         int     `json:"gamesPlayed"`
	AverageKillsPerGame float64 `json:"averageKillsPerGame"`
}

// GetPlayer returns the player the result belongs to.
func (g *GameResult) GetPlayer() string { return g.PlayerAddress }
