// Package archive turns finished sessions into permanent per-player results
// and notifies the user stats collaborator.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/model"
)

// ResultWriter persists archived results. Writing the same (session, user)
// pair twice must keep the first row.
type ResultWriter interface {
	InsertResults(ctx context.Context, results []model.SessionResult) error
}

// ResultReader serves archived results.
type ResultReader interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.SessionResult, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.SessionResult, error)
}

// Marker flips a session's archival flag and reports whether it changed.
type Marker interface {
	MarkResultsArchived(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// StatsEnqueuer hands game results to the user stats collaborator.
type StatsEnqueuer interface {
	Enqueue(ctx context.Context, results []model.GameResult) error
}

// Archiver writes results once per session.
type Archiver struct {
	writer ResultWriter
	marker Marker
	stats  StatsEnqueuer
	clock  clock.Clock
	log    zerolog.Logger
}

// New creates an Archiver. stats may be nil.
func New(writer ResultWriter, marker Marker, stats StatsEnqueuer, clk clock.Clock, log zerolog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		marker: marker,
		stats:  stats,
		clock:  clk,
		log:    log.With().Str("component", "result_archiver").Logger(),
	}
}

// Archive snapshots every player who answered at least once.
func (a *Archiver) Archive(ctx context.Context, sess *model.Session, board []model.LeaderboardEntry) error {
	if sess.ResultsArchived {
		return nil
	}

	results := BuildResults(sess, board, a.clock.Now())
	if len(results) > 0 {
		if err := a.writer.InsertResults(ctx, results); err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
	}

	marked, err := a.marker.MarkResultsArchived(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("mark results archived: %w", err)
	}
	if !marked {
		a.log.Debug().Str("session_id", sess.ID.String()).Msg("Results already archived")
		return nil
	}

	a.log.Info().
		Str("session_id", sess.ID.String()).
		Int("results", len(results)).
		Msg("Session results archived")

	if a.stats == nil || len(results) == 0 {
		return nil
	}
	if err := a.stats.Enqueue(ctx, GameResults(results)); err != nil {
		// Results are safe; only the stats side effect is lost.
		a.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to enqueue game results")
	}
	return nil
}

// BuildResults creates one SessionResult per player with answers, ranked by board.
func BuildResults(sess *model.Session, board []model.LeaderboardEntry, now time.Time) []model.SessionResult {
	questions := make(map[uuid.UUID]model.Question, len(sess.Questions))
	for _, q := range sess.Questions {
		questions[q.ID] = q
	}

	results := make([]model.SessionResult, 0, len(board))
	for _, entry := range board {
		p, ok := sess.Players[entry.UserID]
		if !ok || p.AnsweredQuestions == 0 {
			continue
		}

		answers := make([]model.AnswerDetail, 0, len(p.Answers))
		for _, ans := range p.Answers {
			q := questions[ans.QuestionID]
			answers = append(answers, model.AnswerDetail{
				QuestionID:    ans.QuestionID,
				QuestionText:  q.Text,
				Options:       append([]string(nil), q.Options...),
				CorrectIndex:  q.CorrectIndex,
				SelectedIndex: ans.SelectedIndex,
				IsCorrect:     ans.IsCorrect,
				TimeSpentMs:   ans.TimeSpentMs,
				PointsEarned:  ans.PointsEarned,
				AnsweredAt:    ans.AnsweredAt,
			})
		}

		results = append(results, model.SessionResult{
			ID:                uuid.New(),
			SessionID:         sess.ID,
			SessionTitle:      sess.Title,
			UserID:            p.UserID,
			Name:              p.Name,
			Score:             p.Score,
			Rank:              entry.Rank,
			Accuracy:          entry.Accuracy,
			CorrectAnswers:    p.CorrectAnswers,
			AnsweredQuestions: p.AnsweredQuestions,
			TotalQuestions:    len(sess.Questions),
			Answers:           answers,
			StartedAt:         sess.StartedAt,
			EndedAt:           sess.EndedAt,
			ArchivedAt:        now,
		})
	}
	return results
}

// GameResults converts archived results into stats payloads.
func GameResults(results []model.SessionResult) []model.GameResult {
	out := make([]model.GameResult, len(results))
	for i, r := range results {
		playedAt := r.ArchivedAt
		if r.EndedAt != nil {
			playedAt = *r.EndedAt
		}
		out[i] = model.GameResult{
			UserID:            r.UserID,
			SessionID:         r.SessionID.String(),
			Score:             r.Score,
			Rank:              r.Rank,
			CorrectAnswers:    r.CorrectAnswers,
			AnsweredQuestions: r.AnsweredQuestions,
			Won:               r.Rank == 1,
			PlayedAt:          playedAt,
		}
	}
	return out
}
