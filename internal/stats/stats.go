// Package stats delivers game results to the user stats collaborator. The
// archiver enqueues results on a Redis list; the stats worker drains it into
// a Recorder.
package stats

import (
	"context"

	"github.com/stemsi/trivia-engine/internal/model"
)

// Recorder applies game results to per-user statistics.
type Recorder interface {
	// RecordBatch applies all results in one round trip.
	RecordBatch(ctx context.Context, results []model.GameResult) error
	// RecordOne applies a single result. Used when a batch fails.
	RecordOne(ctx context.Context, result model.GameResult) error
}
