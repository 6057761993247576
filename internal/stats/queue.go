package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/trivia-engine/internal/config"
	"github.com/stemsi/trivia-engine/internal/model"
)

// Queue is the Redis list between the archiver and the stats worker.
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue returns a Queue on the record_game_result list.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: config.WorkerKey.RecordGameResultQueue}
}

// Enqueue appends results in one pipeline.
func (q *Queue) Enqueue(ctx context.Context, results []model.GameResult) error {
	if len(results) == 0 {
		return nil
	}
	pipe := q.rdb.Pipeline()
	for _, r := range results {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal game result: %w", err)
		}
		pipe.RPush(ctx, q.key, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push game results: %w", err)
	}
	return nil
}

// Depth returns the number of results waiting.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
