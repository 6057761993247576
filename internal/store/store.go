// Package store owns the authoritative Session aggregate and exposes the
// validated mutations the game coordinator applies to it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/scoring"
)

// ErrNoNextQuestion is returned by AdvanceQuestion when the last question
// has been played and the session has ended.
var ErrNoNextQuestion = errors.New("no next question")

// SessionStore applies game mutations through a Backend.
type SessionStore struct {
	backend  Backend
	codes    JoinCodeIndex
	clock    clock.Clock
	log      zerolog.Logger
	nextCode func() (string, error)
}

// New creates a SessionStore.
func New(backend Backend, codes JoinCodeIndex, clk clock.Clock, log zerolog.Logger) *SessionStore {
	return &SessionStore{
		backend:  backend,
		codes:    codes,
		clock:    clk,
		log:      log.With().Str("component", "session_store").Logger(),
		nextCode: randomJoinCode,
	}
}

// NewSession describes a session to create.
type NewSession struct {
	Title         string
	HostID        string
	HostName      string
	Questions     []model.Question
	Settings      model.Settings
	RestartedFrom *uuid.UUID
}

// GenerateJoinCode draws random codes until one can be reserved for sessionID.
func (s *SessionStore) GenerateJoinCode(ctx context.Context, sessionID uuid.UUID) (string, error) {
	for i := 0; i < maxJoinCodeTries; i++ {
		code, err := s.nextCode()
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		ok, err := s.codes.Reserve(ctx, code, sessionID)
		if err != nil {
			return "", fmt.Errorf("reserve join code: %w", err)
		}
		if ok {
			return code, nil
		}
		s.log.Debug().Str("join_code", code).Msg("Join code collision, retrying")
	}
	return "", ErrJoinCodeExhausted
}

// CreateSession allocates an id and join code and stores a waiting session.
func (s *SessionStore) CreateSession(ctx context.Context, p NewSession) (*model.Session, error) {
	id := uuid.New()
	code, err := s.GenerateJoinCode(ctx, id)
	if err != nil {
		return nil, err
	}

	questions := make([]model.Question, len(p.Questions))
	for i, q := range p.Questions {
		q.Options = append([]string(nil), q.Options...)
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		questions[i] = q
	}

	sess := &model.Session{
		ID:                   id,
		JoinCode:             code,
		Title:                p.Title,
		HostID:               p.HostID,
		HostName:             p.HostName,
		Status:               model.SessionStatusWaiting,
		Questions:            questions,
		CurrentQuestionIndex: -1,
		Players:              make(map[string]*model.Player),
		Settings:             p.Settings,
		CreatedAt:            s.clock.Now(),
		RestartedFrom:        p.RestartedFrom,
	}

	if err := s.backend.Insert(ctx, sess); err != nil {
		s.releaseCode(ctx, code)
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get loads a session by id.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return s.backend.Load(ctx, id)
}

// FindByJoinCode resolves a live session by code, ignoring case.
func (s *SessionStore) FindByJoinCode(ctx context.Context, code string) (*model.Session, error) {
	code = NormalizeJoinCode(code)
	if !ValidJoinCode(code) {
		return nil, model.ErrSessionNotFound
	}
	return s.backend.FindLiveByJoinCode(ctx, code)
}

// ListByHost returns every session hosted by hostID.
func (s *SessionStore) ListByHost(ctx context.Context, hostID string) ([]*model.Session, error) {
	return s.backend.ListByHost(ctx, hostID)
}

// AddPlayer adds userID to the session, or reconnects an existing player.
// The boolean result reports whether the player already existed.
func (s *SessionStore) AddPlayer(ctx context.Context, id uuid.UUID, userID, name, connID string) (*model.Player, bool, error) {
	var (
		player   model.Player
		rejoined bool
	)
	_, err := s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.Status.IsFinished() {
			return fmt.Errorf("join %s session: %w", sess.Status, model.ErrInvalidState)
		}
		if p, ok := sess.Players[userID]; ok {
			p.ConnectionID = connID
			p.IsConnected = true
			if name != "" {
				p.Name = name
			}
			player, rejoined = *p, true
			return nil
		}
		p := &model.Player{
			UserID:       userID,
			Name:         name,
			ConnectionID: connID,
			IsConnected:  true,
			Answers:      []model.Answer{},
			JoinedAt:     s.clock.Now(),
		}
		sess.Players[userID] = p
		player = *p
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &player, rejoined, nil
}

// RemovePlayer marks the player disconnected. History is kept.
func (s *SessionStore) RemovePlayer(ctx context.Context, id uuid.UUID, userID string) (*model.Session, error) {
	return s.backend.Update(ctx, id, func(sess *model.Session) error {
		p, ok := sess.Players[userID]
		if !ok {
			return model.ErrPlayerNotFound
		}
		p.IsConnected = false
		p.ConnectionID = ""
		return nil
	})
}

// SubmitAnswer scores and records one answer.
func (s *SessionStore) SubmitAnswer(ctx context.Context, id uuid.UUID, userID string, questionID uuid.UUID, selectedIndex int, timeSpentMs *int64) (model.AnswerOutcome, *model.Session, error) {
	var out model.AnswerOutcome
	sess, err := s.backend.Update(ctx, id, func(sess *model.Session) error {
		p, ok := sess.Players[userID]
		if !ok {
			return model.ErrPlayerNotFound
		}
		if p.HasAnswered(questionID) {
			return model.ErrDuplicateAnswer
		}
		q, ok := sess.FindQuestion(questionID)
		if !ok {
			return model.ErrQuestionNotFound
		}

		res := scoring.Score(q, selectedIndex, timeSpentMs, sess.Settings)
		var spent int64
		if timeSpentMs != nil {
			spent = *timeSpentMs
		}
		p.Answers = append(p.Answers, model.Answer{
			QuestionID:    questionID,
			SelectedIndex: selectedIndex,
			IsCorrect:     res.IsCorrect,
			TimeSpentMs:   spent,
			PointsEarned:  res.PointsEarned,
			AnsweredAt:    s.clock.Now(),
		})
		p.AnsweredQuestions++
		if res.IsCorrect {
			p.CorrectAnswers++
		}
		p.Score += res.PointsEarned

		out = model.AnswerOutcome{
			QuestionID:   questionID,
			IsCorrect:    res.IsCorrect,
			PointsEarned: res.PointsEarned,
			CorrectIndex: q.CorrectIndex,
			Explanation:  q.Explanation,
			TotalScore:   p.Score,
		}
		return nil
	})
	if err != nil {
		return model.AnswerOutcome{}, nil, err
	}
	return out, sess, nil
}

// StartGame moves a waiting session to active on question 0.
func (s *SessionStore) StartGame(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.SessionStatusWaiting {
			return fmt.Errorf("start %s session: %w", sess.Status, model.ErrInvalidState)
		}
		if len(sess.Questions) == 0 {
			return model.ErrNoQuestions
		}
		now := s.clock.Now()
		sess.Status = model.SessionStatusActive
		sess.CurrentQuestionIndex = 0
		sess.StartedAt = &now
		sess.QuestionStartedAt = &now
		return nil
	})
}

// StampQuestionStart resets the answer window of question index to now.
// It is a no-op when the session moved past that question.
func (s *SessionStore) StampQuestionStart(ctx context.Context, id uuid.UUID, index int) (*model.Session, error) {
	return s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.SessionStatusActive || sess.CurrentQuestionIndex != index {
			return model.ErrNotCurrent
		}
		now := s.clock.Now()
		sess.QuestionStartedAt = &now
		return nil
	})
}

// AdvanceQuestion moves to the next question. Past the last question the
// session ends and ErrNoNextQuestion is returned along with the session.
func (s *SessionStore) AdvanceQuestion(ctx context.Context, id uuid.UUID) (model.Question, *model.Session, error) {
	var next model.Question
	ended := false
	sess, err := s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.SessionStatusActive {
			return fmt.Errorf("advance %s session: %w", sess.Status, model.ErrInvalidState)
		}
		now := s.clock.Now()
		sess.CurrentQuestionIndex++
		if sess.CurrentQuestionIndex >= len(sess.Questions) {
			sess.CurrentQuestionIndex = len(sess.Questions)
			sess.Status = model.SessionStatusEnded
			sess.EndedAt = &now
			sess.QuestionStartedAt = nil
			ended = true
			return nil
		}
		sess.QuestionStartedAt = &now
		next = sess.Questions[sess.CurrentQuestionIndex]
		return nil
	})
	if err != nil {
		return model.Question{}, nil, err
	}
	if ended {
		s.releaseCode(ctx, sess.JoinCode)
		return model.Question{}, sess, ErrNoNextQuestion
	}
	return next, sess, nil
}

// EndGame ends the session. It reports whether this call performed the
// transition; ending an ended or archived session changes nothing.
func (s *SessionStore) EndGame(ctx context.Context, id uuid.UUID) (*model.Session, bool, error) {
	changed := false
	sess, err := s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.Status.IsFinished() {
			return nil
		}
		now := s.clock.Now()
		sess.Status = model.SessionStatusEnded
		sess.EndedAt = &now
		sess.QuestionStartedAt = nil
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.releaseCode(ctx, sess.JoinCode)
	}
	return sess, changed, nil
}

// Archive retires an ended session. Only restart does this.
func (s *SessionStore) Archive(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.Status != model.SessionStatusEnded {
			return fmt.Errorf("archive %s session: %w", sess.Status, model.ErrSessionNotEnded)
		}
		sess.Status = model.SessionStatusArchived
		return nil
	})
}

// MarkResultsArchived sets the archival marker. It returns false if results
// were already archived, so the caller must not write them again.
func (s *SessionStore) MarkResultsArchived(ctx context.Context, id uuid.UUID) (bool, error) {
	marked := false
	_, err := s.backend.Update(ctx, id, func(sess *model.Session) error {
		if sess.ResultsArchived {
			return nil
		}
		sess.ResultsArchived = true
		marked = true
		return nil
	})
	return marked, err
}

// Delete removes the session and frees its join code.
func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	sess, err := s.backend.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return err
	}
	if sess.Status.IsLive() {
		s.releaseCode(ctx, sess.JoinCode)
	}
	return nil
}

func (s *SessionStore) releaseCode(ctx context.Context, code string) {
	if strings.TrimSpace(code) == "" {
		return
	}
	if err := s.codes.Release(ctx, code); err != nil {
		s.log.Warn().Err(err).Str("join_code", code).Msg("Failed to release join code")
	}
}
