package model

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardEntry is one ranked row of a session leaderboard.
type LeaderboardEntry struct {
	Rank              int    `json:"rank"`
	UserID            string `json:"user_id"`
	Name              string `json:"name"`
	Score             int    `json:"score"`
	CorrectAnswers    int    `json:"correct_answers"`
	AnsweredQuestions int    `json:"answered_questions"`
	Accuracy          int    `json:"accuracy"`
	TotalTimeMs       int64  `json:"total_time_ms"`
}

// AnswerDetail is an archived answer with the question denormalized into it.
type AnswerDetail struct {
	QuestionID    uuid.UUID `json:"question_id"`
	QuestionText  string    `json:"question_text"`
	Options       []string  `json:"options"`
	CorrectIndex  int       `json:"correct_index"`
	SelectedIndex int       `json:"selected_index"`
	IsCorrect     bool      `json:"is_correct"`
	TimeSpentMs   int64     `json:"time_spent_ms"`
	PointsEarned  int       `json:"points_earned"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// SessionResult is the immutable per-player record written when a session ends.
type SessionResult struct {
	ID                uuid.UUID      `json:"id"`
	SessionID         uuid.UUID      `json:"session_id"`
	SessionTitle      string         `json:"session_title"`
	UserID            string         `json:"user_id"`
	Name              string         `json:"name"`
	Score             int            `json:"score"`
	Rank              int            `json:"rank"`
	Accuracy          int            `json:"accuracy"`
	CorrectAnswers    int            `json:"correct_answers"`
	AnsweredQuestions int            `json:"answered_questions"`
	TotalQuestions    int            `json:"total_questions"`
	Answers           []AnswerDetail `json:"answers"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	ArchivedAt        time.Time      `json:"archived_at"`
}

// GameResult is the payload handed to the user-stats collaborator.
type GameResult struct {
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	Score             int       `json:"score"`
	Rank              int       `json:"rank"`
	CorrectAnswers    int       `json:"correct_answers"`
	AnsweredQuestions int       `json:"answered_questions"`
	Won               bool      `json:"won"`
	PlayedAt          time.Time `json:"played_at"`
}

// AnswerOutcome is returned privately to the submitting player.
type AnswerOutcome struct {
	QuestionID   uuid.UUID `json:"question_id"`
	IsCorrect    bool      `json:"is_correct"`
	PointsEarned int       `json:"points_earned"`
	CorrectIndex int       `json:"correct_index"`
	Explanation  string    `json:"explanation,omitempty"`
	TotalScore   int       `json:"total_score"`
}

// UserStats is the running per-user aggregate fed by game results.
type UserStats struct {
	UserID        string     `json:"user_id"`
	TotalPoints   int64      `json:"total_points"`
	GamesPlayed   int        `json:"games_played"`
	GamesWon      int        `json:"games_won"`
	CurrentStreak int        `json:"current_streak"`
	BestStreak    int        `json:"best_streak"`
	LastPlayedAt  *time.Time `json:"last_played_at,omitempty"`
}
