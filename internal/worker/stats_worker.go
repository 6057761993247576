package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/config"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/stats"
)

const (
	StatsBatchSize    = 50
	StatsBatchTimeout = 2 * time.Second
	StatsPollTimeout  = 1 * time.Second
)

// StatsWorker drains the game result queue into a stats.Recorder.
type StatsWorker struct {
	rdb      *redis.Client
	recorder stats.Recorder
	queue    string
	log      zerolog.Logger
}

func NewStatsWorker(rdb *redis.Client, recorder stats.Recorder, log zerolog.Logger) *StatsWorker {
	return &StatsWorker{
		rdb:      rdb,
		recorder: recorder,
		queue:    config.WorkerKey.RecordGameResultQueue,
		log:      log.With().Str("component", "stats_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *StatsWorker) Start(ctx context.Context) {
	w.log.Info().Msg("StatsWorker started")

	batch := make([]model.GameResult, 0, StatsBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= StatsBatchSize || time.Since(lastFlush) >= StatsBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, StatsPollTimeout, w.queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(StatsPollTimeout)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			r, ok := decodeResult(item[1])
			if !ok {
				w.log.Error().Str("payload", item[1]).Msg("Invalid JSON payload, dropping")
				continue
			}
			batch = append(batch, r)
		}
	}
}

func decodeResult(raw string) (model.GameResult, bool) {
	var r model.GameResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return model.GameResult{}, false
	}
	if r.UserID == "" || r.SessionID == "" {
		return model.GameResult{}, false
	}
	return r, true
}

// ----------------------------------------------------------------
// Batch wrapper with per-item fallback
// ----------------------------------------------------------------

func (w *StatsWorker) flushSafe(ctx context.Context, batch []model.GameResult) {
	if len(batch) == 0 {
		return
	}

	if err := w.recorder.RecordBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk stats update failed, using fallback")

		for _, r := range batch {
			if err := w.recorder.RecordOne(ctx, r); err != nil {
				w.log.Error().Err(err).
					Str("user_id", r.UserID).
					Str("session_id", r.SessionID).
					Msg("RecordOne failed, requeueing")
				raw, _ := json.Marshal(r)
				w.rdb.RPush(ctx, w.queue, raw)
			}
		}
		return
	}

	w.log.Debug().Int("size", len(batch)).Msg("Stats batch recorded")
}
