package websocket

import (
	"encoding/json"

	"github.com/stemsi/trivia-engine/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHostSession     Action = "host_session"
	ActionJoinSession     Action = "join_session"
	ActionStartGame       Action = "start_game"
	ActionSubmitAnswer    Action = "submit_answer"
	ActionAdvanceQuestion Action = "advance_question"
	ActionEndGame         Action = "end_game"
	ActionRestartSession  Action = "restart_session"
	ActionPing            Action = "ping"
)

// RequestEnvelope is the frame every client message arrives in. Data is
// decoded according to Action.
type RequestEnvelope struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HostSessionRequest binds the connection as host of a session.
type HostSessionRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
}

// SessionRef optionally names the session an action targets. Without it the
// connection's bound session is used.
type SessionRef struct {
	SessionID string `json:"session_id,omitempty"`
}

// JoinSessionRequest binds the connection as a player.
type JoinSessionRequest struct {
	JoinCode string `json:"join_code" binding:"required,joincode"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAck   Event = "ack"
	EventError Event = "error"
	EventPong  Event = "pong"
)

// Message is the frame every server message is sent in. Session events use
// the same shape.
type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type AckData struct {
	Action    Action `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
}

type ErrorData struct {
	Action    Action            `json:"action,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Code      response.ErrCode  `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}
