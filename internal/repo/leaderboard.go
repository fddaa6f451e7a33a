package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// LeaderboardTTL bounds how long a snapshot is served after the last ranking run.
const LeaderboardTTL = 10 * time.Minute

// LeaderboardRow is one ranked line of a cached leaderboard.
type LeaderboardRow struct {
	Rank               int             `json:"rank"`
	EntryID            string          `json:"entry_id"`
	UserID             string          `json:"user_id"`
	TotalScore         decimal.Decimal `json:"total_score"`
	ROI                decimal.Decimal `json:"roi"`
	CorrectPredictions int             `json:"correct_predictions"`
}

type LeaderboardCache interface {
	CacheLeaderboard(ctx context.Context, tournamentID string, rows []LeaderboardRow) error
	GetCachedLeaderboard(ctx context.Context, tournamentID string) ([]LeaderboardRow, error)
}

func leaderboardKey(tournamentID string) string { return fmt.Sprintf("leaderboard:%s", tournamentID) }

// CacheLeaderboard writes Redis.
func (r *Repository) CacheLeaderboard(ctx context.Context, tournamentID string, rows []LeaderboardRow) error {
	if r.rdb == nil {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, leaderboardKey(tournamentID), string(body), LeaderboardTTL).Err()
}

// GetCachedLeaderboard reads Redis. A miss returns redis.Nil.
func (r *Repository) GetCachedLeaderboard(ctx context.Context, tournamentID string) ([]LeaderboardRow, error) {
	if r.rdb == nil {
		return nil, redis.Nil
	}
	str, err := r.rdb.Get(ctx, leaderboardKey(tournamentID)).Result()
	if err != nil {
		return nil, err
	}
	var rows []LeaderboardRow
	if err := json.Unmarshal([]byte(str), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
