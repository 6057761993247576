package websocket

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/session"
)

// Role is the part a connection plays in its session.
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// Binding ties a connection to one session.
type Binding struct {
	SessionID uuid.UUID
	UserID    string
	Role      Role
}

type room struct {
	hostConn string
	players  map[string]string // userID -> connID
}

// Registry tracks live connections and which session each is bound to. It is
// the event sink of the session coordinators.
type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	clients  map[string]*Client
	bindings map[string]Binding
	rooms    map[uuid.UUID]*room
}

var _ session.Sink = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "ws_registry").Logger(),
		clients:  make(map[string]*Client),
		bindings: make(map[string]Binding),
		rooms:    make(map[uuid.UUID]*room),
	}
}

// Register adds a connected client.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
}

// Unregister forgets a client. It returns the client's binding when the
// connection was still the current one for its seat, so the caller can
// report the disconnect.
func (r *Registry) Unregister(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, connID)
	b, ok := r.bindings[connID]
	if !ok {
		return Binding{}, false
	}
	r.unbindLocked(connID)
	return b, true
}

// Lookup returns the binding of a connection.
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[connID]
	return b, ok
}

// Connections reports how many clients are registered.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// BindHost makes connID the host connection of a session.
func (r *Registry) BindHost(sessionID uuid.UUID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked(connID)
	rm := r.roomLocked(sessionID)
	if rm.hostConn != "" && rm.hostConn != connID {
		delete(r.bindings, rm.hostConn)
	}
	rm.hostConn = connID
	b := Binding{SessionID: sessionID, Role: RoleHost}
	if c, ok := r.clients[connID]; ok {
		b.UserID = c.UserID
	}
	r.bindings[connID] = b
}

// BindPlayer makes connID the connection of a player. An older connection of
// the same player loses its binding.
func (r *Registry) BindPlayer(sessionID uuid.UUID, userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked(connID)
	rm := r.roomLocked(sessionID)
	if old, ok := rm.players[userID]; ok && old != connID {
		delete(r.bindings, old)
	}
	rm.players[userID] = connID
	r.bindings[connID] = Binding{SessionID: sessionID, UserID: userID, Role: RolePlayer}
}

// ToHost sends ev to the host connection.
func (r *Registry) ToHost(sessionID uuid.UUID, ev session.Event) {
	r.mu.RLock()
	var target *Client
	if rm, ok := r.rooms[sessionID]; ok {
		target = r.clients[rm.hostConn]
	}
	r.mu.RUnlock()

	if target != nil {
		r.deliver(sessionID, ev, target)
	}
}

// ToPlayer sends ev to one player.
func (r *Registry) ToPlayer(sessionID uuid.UUID, userID string, ev session.Event) {
	r.mu.RLock()
	var target *Client
	if rm, ok := r.rooms[sessionID]; ok {
		target = r.clients[rm.players[userID]]
	}
	r.mu.RUnlock()

	if target != nil {
		r.deliver(sessionID, ev, target)
	}
}

// Broadcast sends ev to the host and every player.
func (r *Registry) Broadcast(sessionID uuid.UUID, ev session.Event) {
	r.mu.RLock()
	rm, ok := r.rooms[sessionID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(rm.players)+1)
	if c, ok := r.clients[rm.hostConn]; ok {
		targets = append(targets, c)
	}
	for _, connID := range rm.players {
		if c, ok := r.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	r.deliver(sessionID, ev, targets...)
}

// Release drops every binding of a session. Connections stay open.
func (r *Registry) Release(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	if rm.hostConn != "" {
		delete(r.bindings, rm.hostConn)
	}
	for _, connID := range rm.players {
		delete(r.bindings, connID)
	}
	delete(r.rooms, sessionID)
}

func (r *Registry) deliver(sessionID uuid.UUID, ev session.Event, targets ...*Client) {
	if len(targets) == 0 {
		return
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to encode event")
		return
	}
	for _, c := range targets {
		if !c.Send(frame) {
			r.log.Debug().
				Str("session_id", sessionID.String()).
				Str("conn_id", c.ID).
				Str("event", string(ev.Type)).
				Msg("Event dropped")
		}
	}
}

func (r *Registry) roomLocked(sessionID uuid.UUID) *room {
	rm, ok := r.rooms[sessionID]
	if !ok {
		rm = &room{players: make(map[string]string)}
		r.rooms[sessionID] = rm
	}
	return rm
}

// unbindLocked removes connID from the room it is bound to.
func (r *Registry) unbindLocked(connID string) {
	b, ok := r.bindings[connID]
	if !ok {
		return
	}
	delete(r.bindings, connID)

	rm, ok := r.rooms[b.SessionID]
	if !ok {
		return
	}
	switch b.Role {
	case RoleHost:
		if rm.hostConn == connID {
			rm.hostConn = ""
		}
	case RolePlayer:
		if rm.players[b.UserID] == connID {
			delete(rm.players, b.UserID)
		}
	}
	if rm.hostConn == "" && len(rm.players) == 0 {
		delete(r.rooms, b.SessionID)
	}
}
