package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-engine/internal/model"
)

// EventType names an outbound event.
type EventType string

const (
	EventWaitingLobby      EventType = "waiting_lobby"
	EventPlayerJoined      EventType = "player_joined"
	EventPlayerLeft        EventType = "player_left"
	EventGameStarted       EventType = "game_started"
	EventNewQuestion       EventType = "new_question"
	EventAnswerResult      EventType = "answer_result"
	EventLeaderboardUpdate EventType = "leaderboard_update"
	EventGameOver          EventType = "game_over"
	EventHostDisconnected  EventType = "host_disconnected"
	EventHostReconnected   EventType = "host_reconnected"
)

// Event is one message pushed to session participants.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// Sink delivers events to connected clients. Implementations must not block
// the caller on a slow or dead connection.
type Sink interface {
	BindHost(sessionID uuid.UUID, connID string)
	BindPlayer(sessionID uuid.UUID, userID, connID string)
	ToHost(sessionID uuid.UUID, ev Event)
	ToPlayer(sessionID uuid.UUID, userID string, ev Event)
	Broadcast(sessionID uuid.UUID, ev Event)
	Release(sessionID uuid.UUID)
}

type WaitingLobbyData struct {
	Session         model.SessionSummary `json:"session"`
	Player          model.Player         `json:"player"`
	Rejoined        bool                 `json:"rejoined"`
	CurrentQuestion *NewQuestionData     `json:"current_question,omitempty"`
}

type PlayerJoinedData struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Rejoined       bool   `json:"rejoined"`
	PlayerCount    int    `json:"player_count"`
	ConnectedCount int    `json:"connected_count"`
}

type PlayerLeftData struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	ConnectedCount int    `json:"connected_count"`
}

type GameStartedData struct {
	SessionID      uuid.UUID `json:"session_id"`
	Title          string    `json:"title"`
	TotalQuestions int       `json:"total_questions"`
	StartsInMs     int64     `json:"starts_in_ms"`
}

type NewQuestionData struct {
	Index     int                  `json:"index"`
	Number    int                  `json:"number"`
	Total     int                  `json:"total"`
	Question  model.PublicQuestion `json:"question"`
	StartedAt time.Time            `json:"started_at"`
}

type LeaderboardData struct {
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
}

type GameOverData struct {
	Leaderboard []model.LeaderboardEntry `json:"leaderboard"`
	SessionID   uuid.UUID                `json:"session_id"`
	Title       string                   `json:"title"`
}

type HostPresenceData struct {
	SessionID uuid.UUID `json:"session_id"`
	GraceMs   int64     `json:"grace_ms,omitempty"`
}
