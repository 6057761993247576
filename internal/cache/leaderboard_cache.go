package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/trivia-engine/internal/config"
	"github.com/stemsi/trivia-engine/internal/model"
)

// LeaderboardTTL keeps a finished session's board readable for a day.
const LeaderboardTTL = 24 * time.Hour

// ErrMiss is returned when nothing is cached for a session.
var ErrMiss = errors.New("leaderboard not cached")

// LeaderboardCache mirrors session standings to Redis: a sorted set of
// scores plus the full ranked snapshot as JSON.
type LeaderboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLeaderboardCache(rdb *redis.Client) *LeaderboardCache {
	return &LeaderboardCache{rdb: rdb, ttl: LeaderboardTTL}
}

// Publish replaces the cached board of sessionID.
func (l *LeaderboardCache) Publish(ctx context.Context, sessionID uuid.UUID, board []model.LeaderboardEntry) error {
	id := sessionID.String()
	zkey := config.CacheKey.LeaderboardKey(id)
	skey := config.CacheKey.LeaderboardSnapshotKey(id)

	snapshot, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal leaderboard: %w", err)
	}

	members := make([]redis.Z, len(board))
	for i, e := range board {
		members[i] = redis.Z{Score: float64(e.Score), Member: e.UserID}
	}

	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, zkey)
		if len(members) > 0 {
			pipe.ZAdd(ctx, zkey, members...)
			pipe.Expire(ctx, zkey, l.ttl)
		}
		pipe.Set(ctx, skey, snapshot, l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}
	return nil
}

// Get returns the cached ranked board, or ErrMiss.
func (l *LeaderboardCache) Get(ctx context.Context, sessionID uuid.UUID) ([]model.LeaderboardEntry, error) {
	raw, err := l.rdb.Get(ctx, config.CacheKey.LeaderboardSnapshotKey(sessionID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	var board []model.LeaderboardEntry
	if err := json.Unmarshal(raw, &board); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return board, nil
}

// TopScores returns the n highest scores as userID/score pairs.
func (l *LeaderboardCache) TopScores(ctx context.Context, sessionID uuid.UUID, n int64) ([]redis.Z, error) {
	zs, err := l.rdb.ZRevRangeWithScores(ctx, config.CacheKey.LeaderboardKey(sessionID.String()), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	return zs, nil
}
