package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/trivia-engine/internal/model"
)

// ResultRepository handles archived session results.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

const resultColumns = `id, session_id, session_title, user_id, name, score, rank, accuracy,
	correct_answers, answered_questions, total_questions, answers, started_at, ended_at, archived_at`

// InsertResults writes all rows in one batch. A (session_id, user_id) pair
// that already exists is left untouched.
func (r *ResultRepository) InsertResults(ctx context.Context, results []model.SessionResult) error {
	batch := &pgx.Batch{}
	for _, res := range results {
		answers, err := json.Marshal(res.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
		batch.Queue(
			`INSERT INTO session_results (`+resultColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (session_id, user_id) DO NOTHING`,
			res.ID, res.SessionID, res.SessionTitle, res.UserID, res.Name, res.Score, res.Rank, res.Accuracy,
			res.CorrectAnswers, res.AnsweredQuestions, res.TotalQuestions, answers, res.StartedAt, res.EndedAt, res.ArchivedAt,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	return tx.Commit(ctx)
}

// ListBySession retrieves a session's results ordered by rank.
func (r *ResultRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.SessionResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+`
		 FROM session_results
		 WHERE session_id = $1
		 ORDER BY rank ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	return scanResults(rows)
}

// ListByUser retrieves a user's latest results.
func (r *ResultRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.SessionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+resultColumns+`
		 FROM session_results
		 WHERE user_id = $1
		 ORDER BY archived_at DESC
		 LIMIT $2`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanResults(rows)
}

func scanResults(rows pgx.Rows) ([]model.SessionResult, error) {
	defer rows.Close()

	results := make([]model.SessionResult, 0)
	for rows.Next() {
		var (
			res     model.SessionResult
			answers []byte
		)
		if err := rows.Scan(
			&res.ID, &res.SessionID, &res.SessionTitle, &res.UserID, &res.Name, &res.Score, &res.Rank, &res.Accuracy,
			&res.CorrectAnswers, &res.AnsweredQuestions, &res.TotalQuestions, &answers, &res.StartedAt, &res.EndedAt, &res.ArchivedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(answers, &res.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
