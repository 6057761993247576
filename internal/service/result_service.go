package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-engine/internal/archive"
	"github.com/stemsi/trivia-engine/internal/cache"
	"github.com/stemsi/trivia-engine/internal/leaderboard"
	"github.com/stemsi/trivia-engine/internal/model"
)

// SessionReader loads the current state of a session.
type SessionReader interface {
	Session(ctx context.Context, id uuid.UUID) (*model.Session, error)
}

// LeaderboardReader reads a cached leaderboard.
type LeaderboardReader interface {
	Get(ctx context.Context, sessionID uuid.UUID) ([]model.LeaderboardEntry, error)
}

// StatsReader reads a user's aggregated stats.
type StatsReader interface {
	GetByUser(ctx context.Context, userID string) (*model.UserStats, error)
}

// ResultService serves standings and archived results.
type ResultService struct {
	sessions SessionReader
	boards   LeaderboardReader
	results  archive.ResultReader
	stats    StatsReader
}

// NewResultService creates a new ResultService. stats may be nil when user
// stats are kept by an external service.
func NewResultService(sessions SessionReader, boards LeaderboardReader, results archive.ResultReader, stats StatsReader) *ResultService {
	return &ResultService{sessions: sessions, boards: boards, results: results, stats: stats}
}

// Leaderboard computes the standings of a stored session, falling back to the
// cached snapshot once the session itself is gone.
func (s *ResultService) Leaderboard(ctx context.Context, sessionID uuid.UUID) ([]model.LeaderboardEntry, error) {
	sess, err := s.sessions.Session(ctx, sessionID)
	if err == nil {
		return leaderboard.Calculate(sess), nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	board, err := s.boards.Get(ctx, sessionID)
	if errors.Is(err, cache.ErrMiss) {
		return nil, model.ErrSessionNotFound
	}
	return board, err
}

// SessionResults lists the archived results of a session. The host and the
// players who took part may read them.
func (s *ResultService) SessionResults(ctx context.Context, sessionID uuid.UUID, requesterID string) ([]model.SessionResult, error) {
	results, err := s.results.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Session(ctx, sessionID)
	switch {
	case err == nil:
		if sess.HostID == requesterID {
			return results, nil
		}
		if _, ok := sess.Players[requesterID]; ok {
			return results, nil
		}
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}

	if len(results) == 0 && sess == nil {
		return nil, model.ErrSessionNotFound
	}
	for _, r := range results {
		if r.UserID == requesterID {
			return results, nil
		}
	}
	return nil, model.ErrForbidden
}

// UserResults lists a user's latest archived results.
func (s *ResultService) UserResults(ctx context.Context, userID string, limit int) ([]model.SessionResult, error) {
	return s.results.ListByUser(ctx, userID, limit)
}

// UserStats returns a user's aggregate stats. Users without a finished game
// get zero stats.
func (s *ResultService) UserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	if s.stats == nil {
		return nil, model.ErrNotFound
	}
	st, err := s.stats.GetByUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return &model.UserStats{UserID: userID}, nil
	}
	return st, err
}
