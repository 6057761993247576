package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/trivia-engine/internal/model"
)

// SessionRepository stores each Session aggregate as one JSONB document.
// Status, join code and host are duplicated into columns for lookups.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Insert stores a new session.
func (r *SessionRepository) Insert(ctx context.Context, s *model.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO game_sessions (id, join_code, host_id, status, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		s.ID, s.JoinCode, s.HostID, s.Status, doc, s.CreatedAt,
	)
	return err
}

// Load retrieves a session by id.
func (r *SessionRepository) Load(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT document FROM game_sessions WHERE id = $1`, id,
	).Scan(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return decodeSession(doc)
}

// FindLiveByJoinCode retrieves the waiting or active session holding code.
func (r *SessionRepository) FindLiveByJoinCode(ctx context.Context, code string) (*model.Session, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT document FROM game_sessions
		 WHERE join_code = $1 AND status IN ($2, $3)`,
		code, model.SessionStatusWaiting, model.SessionStatusActive,
	).Scan(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return decodeSession(doc)
}

// ListByHost retrieves every session of a host, newest first.
func (r *SessionRepository) ListByHost(ctx context.Context, hostID string) ([]*model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT document FROM game_sessions
		 WHERE host_id = $1
		 ORDER BY created_at DESC`, hostID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*model.Session, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		s, err := decodeSession(doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Update locks the row, applies fn to the decoded session and writes it back
// in the same transaction. Nothing is written if fn fails.
func (r *SessionRepository) Update(ctx context.Context, id uuid.UUID, fn func(s *model.Session) error) (*model.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx,
		`SELECT document FROM game_sessions WHERE id = $1 FOR UPDATE`, id,
	).Scan(&doc)
	if err != nil {
		return nil, notFound(err)
	}

	s, err := decodeSession(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}

	next, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE game_sessions
		 SET status = $1, join_code = $2, document = $3, updated_at = NOW()
		 WHERE id = $4`,
		s.Status, s.JoinCode, next, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s, nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM game_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

func decodeSession(doc []byte) (*model.Session, error) {
	var s model.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Players == nil {
		s.Players = make(map[string]*model.Player)
	}
	return &s, nil
}

func notFound(err error) error {
	return notFoundAs(err, model.ErrSessionNotFound)
}

// notFoundAs maps pgx.ErrNoRows to target.
func notFoundAs(err, target error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return target
	}
	return err
}
