package session

import (
	"github.com/google/uuid"
	"github.com/stemsi/trivia-engine/internal/model"
)

// Command is the closed set of intents a Coordinator accepts. Only types in
// this package can implement it.
type Command interface {
	command()
}

// HostSession binds the host to the session and returns its summary.
type HostSession struct {
	RequesterID string
	ConnID      string
}

// JoinSession adds or reconnects a player.
type JoinSession struct {
	UserID string
	Name   string
	ConnID string
}

// StartGame moves the session from waiting to active. Host only.
type StartGame struct {
	RequesterID string
}

// SubmitAnswer answers the current question. TimeSpentMs is the client's
// measurement; nil falls back to the server-side elapsed time.
type SubmitAnswer struct {
	UserID        string
	QuestionID    uuid.UUID
	SelectedIndex int
	TimeSpentMs   *int64
}

// AdvanceQuestion moves to the next question. A nil RequesterID marks a timer
// firing. ExpectedIndex, when set, must equal the current question index.
type AdvanceQuestion struct {
	RequesterID   *string
	ExpectedIndex *int
}

// EndGame ends the session early. Host only, idempotent.
type EndGame struct {
	RequesterID string
}

// RestartSession archives an ended session and creates a fresh copy. Host only.
type RestartSession struct {
	RequesterID string
}

// DeleteSession removes a session that is not active. Host only.
type DeleteSession struct {
	RequesterID string
}

// Disconnect records that a connection went away.
type Disconnect struct {
	UserID string
	IsHost bool
}

// Snapshot returns a copy of the session as seen by the coordinator.
type Snapshot struct{}

type showQuestion struct {
	index int
}

type hostGraceExpired struct {
	epoch int
}

func (HostSession) command()      {}
func (JoinSession) command()      {}
func (StartGame) command()        {}
func (SubmitAnswer) command()     {}
func (AdvanceQuestion) command()  {}
func (EndGame) command()          {}
func (RestartSession) command()   {}
func (DeleteSession) command()    {}
func (Disconnect) command()       {}
func (Snapshot) command()         {}
func (showQuestion) command()     {}
func (hostGraceExpired) command() {}

// AdvanceResult reports where an advance landed.
type AdvanceResult struct {
	Ended    bool                  `json:"ended"`
	Index    int                   `json:"index"`
	Question *model.PublicQuestion `json:"question,omitempty"`
}
