package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the lifecycle states of a game session.
type SessionStatus string

const (
	SessionStatusWaiting  SessionStatus = "waiting"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusEnded    SessionStatus = "ended"
	SessionStatusArchived SessionStatus = "archived"
)

// IsLive reports whether the session still owns its join code.
func (s SessionStatus) IsLive() bool {
	return s == SessionStatusWaiting || s == SessionStatusActive
}

// IsFinished reports whether the session has ended or been archived.
func (s SessionStatus) IsFinished() bool {
	return s == SessionStatusEnded || s == SessionStatusArchived
}

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

// DefaultQuestionPoints is the base reward used when a question omits points.
const DefaultQuestionPoints = 100

// Question is a single multiple-choice question inside a session.
type Question struct {
	ID           uuid.UUID `json:"id"`
	Text         string    `json:"text"`
	Options      []string  `json:"options"`
	CorrectIndex int       `json:"correct_index"`
	TimeLimit    int       `json:"time_limit"` // seconds
	Points       int       `json:"points"`
	Explanation  string    `json:"explanation,omitempty"`
}

// TimeLimitMs returns the answer window in milliseconds.
func (q Question) TimeLimitMs() int64 {
	return int64(q.TimeLimit) * 1000
}

// Public strips the correct answer and explanation for broadcast.
func (q Question) Public() PublicQuestion {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return PublicQuestion{
		ID:        q.ID,
		Text:      q.Text,
		Options:   opts,
		TimeLimit: q.TimeLimit,
		Points:    q.Points,
	}
}

// PublicQuestion is the question payload sent to players.
type PublicQuestion struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	Options   []string  `json:"options"`
	TimeLimit int       `json:"time_limit"`
	Points    int       `json:"points"`
}

// Settings tunes scoring for a session.
type Settings struct {
	SpeedBonusEnabled bool `json:"speed_bonus_enabled"`
	MaxSpeedBonus     int  `json:"max_speed_bonus"`
}

// Answer is one scored submission by a player.
type Answer struct {
	QuestionID    uuid.UUID `json:"question_id"`
	SelectedIndex int       `json:"selected_index"`
	IsCorrect     bool      `json:"is_correct"`
	TimeSpentMs   int64     `json:"time_spent_ms"`
	PointsEarned  int       `json:"points_earned"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// Player is a participant of a single session.
type Player struct {
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	ConnectionID      string    `json:"connection_id,omitempty"`
	Score             int       `json:"score"`
	AnsweredQuestions int       `json:"answered_questions"`
	CorrectAnswers    int       `json:"correct_answers"`
	Answers           []Answer  `json:"answers"`
	IsConnected       bool      `json:"is_connected"`
	JoinedAt          time.Time `json:"joined_at"`
}

// HasAnswered reports whether the player already answered the question.
func (p *Player) HasAnswered(questionID uuid.UUID) bool {
	for _, a := range p.Answers {
		if a.QuestionID == questionID {
			return true
		}
	}
	return false
}

// TotalTimeMs sums the time spent over all answers.
func (p *Player) TotalTimeMs() int64 {
	var total int64
	for _, a := range p.Answers {
		total += a.TimeSpentMs
	}
	return total
}

// Session is one live game instance.
type Session struct {
	ID                   uuid.UUID          `json:"id"`
	JoinCode             string             `json:"join_code"`
	Title                string             `json:"title"`
	HostID               string             `json:"host_id"`
	HostName             string             `json:"host_name"`
	Status               SessionStatus      `json:"status"`
	Questions            []Question         `json:"questions"`
	CurrentQuestionIndex int                `json:"current_question_index"`
	QuestionStartedAt    *time.Time         `json:"question_started_at,omitempty"`
	Players              map[string]*Player `json:"players"`
	Settings             Settings           `json:"settings"`
	StartedAt            *time.Time         `json:"started_at,omitempty"`
	EndedAt              *time.Time         `json:"ended_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	RestartedFrom        *uuid.UUID         `json:"restarted_from,omitempty"`
	ResultsArchived      bool               `json:"results_archived"`
}

// CurrentQuestion returns the question at CurrentQuestionIndex, if any.
func (s *Session) CurrentQuestion() (Question, bool) {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentQuestionIndex], true
}

// FindQuestion looks up a question by id.
func (s *Session) FindQuestion(id uuid.UUID) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// ConnectedCount returns the number of players with a live connection.
func (s *Session) ConnectedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.Options = append([]string(nil), q.Options...)
		c.Questions[i] = q
	}
	c.Players = make(map[string]*Player, len(s.Players))
	for id, p := range s.Players {
		cp := *p
		cp.Answers = append([]Answer(nil), p.Answers...)
		c.Players[id] = &cp
	}
	c.QuestionStartedAt = copyTime(s.QuestionStartedAt)
	c.StartedAt = copyTime(s.StartedAt)
	c.EndedAt = copyTime(s.EndedAt)
	if s.RestartedFrom != nil {
		id := *s.RestartedFrom
		c.RestartedFrom = &id
	}
	return &c
}

// Summary builds the lobby/host view of the session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:            s.ID,
		JoinCode:             s.JoinCode,
		Title:                s.Title,
		Status:               s.Status,
		HostName:             s.HostName,
		PlayerCount:          len(s.Players),
		ConnectedCount:       s.ConnectedCount(),
		QuestionCount:        len(s.Questions),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		Settings:             s.Settings,
		CreatedAt:            s.CreatedAt,
	}
}

// SessionSummary is returned by host, join and restart operations.
type SessionSummary struct {
	SessionID            uuid.UUID     `json:"session_id"`
	JoinCode             string        `json:"join_code,omitempty"`
	Title                string        `json:"title"`
	Status               SessionStatus `json:"status"`
	HostName             string        `json:"host_name"`
	PlayerCount          int           `json:"player_count"`
	ConnectedCount       int           `json:"connected_count"`
	QuestionCount        int           `json:"question_count"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	Settings             Settings      `json:"settings"`
	CreatedAt            time.Time     `json:"created_at"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
