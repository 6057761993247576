// Package cache holds the Redis-backed pieces shared between instances:
// join code reservations and leaderboard snapshots.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/trivia-engine/internal/config"
)

// JoinCodeTTL bounds how long a reservation outlives a session that was never released.
const JoinCodeTTL = 24 * time.Hour

// JoinCodeIndex reserves join codes with SETNX so that codes stay unique
// across every server sharing the Redis instance.
type JoinCodeIndex struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewJoinCodeIndex creates a Redis join code index.
func NewJoinCodeIndex(rdb *redis.Client) *JoinCodeIndex {
	return &JoinCodeIndex{rdb: rdb, ttl: JoinCodeTTL}
}

// Reserve claims code for sessionID. It returns false if the code is taken.
func (j *JoinCodeIndex) Reserve(ctx context.Context, code string, sessionID uuid.UUID) (bool, error) {
	ok, err := j.rdb.SetNX(ctx, config.CacheKey.JoinCodeKey(code), sessionID.String(), j.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx join code: %w", err)
	}
	return ok, nil
}

// Release frees code.
func (j *JoinCodeIndex) Release(ctx context.Context, code string) error {
	if err := j.rdb.Del(ctx, config.CacheKey.JoinCodeKey(code)).Err(); err != nil {
		return fmt.Errorf("del join code: %w", err)
	}
	return nil
}
