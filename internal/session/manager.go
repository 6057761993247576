// Package session runs live game sessions. Each session is driven by its own
// Coordinator goroutine; the Manager routes intents to the right one and
// supervises their lifetimes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/store"
)

// HostDisconnectPolicy decides what happens when the host's connection drops.
type HostDisconnectPolicy string

const (
	// HostDisconnectIgnore logs the disconnect and lets the game continue.
	HostDisconnectIgnore HostDisconnectPolicy = "ignore"
	// HostDisconnectEnd ends the game unless the host returns within the grace period.
	HostDisconnectEnd HostDisconnectPolicy = "end"
)

// Config tunes coordinator timing.
type Config struct {
	FirstQuestionDelay   time.Duration
	AutoAdvanceBuffer    time.Duration
	LateTolerance        time.Duration
	HostDisconnectPolicy HostDisconnectPolicy
	HostGracePeriod      time.Duration
	CommandTimeout       time.Duration
	InboxSize            int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FirstQuestionDelay:   3 * time.Second,
		AutoAdvanceBuffer:    5 * time.Second,
		LateTolerance:        time.Second,
		HostDisconnectPolicy: HostDisconnectIgnore,
		HostGracePeriod:      60 * time.Second,
		CommandTimeout:       10 * time.Second,
		InboxSize:            64,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.FirstQuestionDelay < 0 {
		c.FirstQuestionDelay = 0
	}
	if c.LateTolerance < 0 {
		c.LateTolerance = 0
	}
	// The auto-advance must not close a question while answers are still accepted.
	if c.AutoAdvanceBuffer < c.LateTolerance {
		c.AutoAdvanceBuffer = c.LateTolerance
	}
	if c.HostDisconnectPolicy != HostDisconnectEnd {
		c.HostDisconnectPolicy = HostDisconnectIgnore
	}
	if c.HostGracePeriod <= 0 {
		c.HostGracePeriod = def.HostGracePeriod
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	return c
}

// Deps are the collaborators shared by every coordinator.
type Deps struct {
	Store       *store.SessionStore
	Sink        Sink
	Archiver    Archiver
	Leaderboard LeaderboardPublisher
	Clock       clock.Clock
}

// CreateParams describes a new session requested by a host.
type CreateParams struct {
	HostID    string
	HostName  string
	Title     string
	Questions []model.Question
	Settings  model.Settings
}

// Manager is the supervised registry of per-session coordinators.
type Manager struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	actors map[uuid.UUID]*Coordinator
}

// NewManager creates a Manager. Call Shutdown to stop every coordinator.
func NewManager(deps Deps, cfg Config, log zerolog.Logger) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		cfg:    cfg.normalized(),
		log:    log.With().Str("component", "session_manager").Logger(),
		ctx:    ctx,
		cancel: cancel,
		actors: make(map[uuid.UUID]*Coordinator),
	}
}

// Create stores a new waiting session. Its coordinator starts on first use.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*model.Session, error) {
	if len(p.Questions) == 0 {
		return nil, model.NewValidationError("questions", "at least one question is required")
	}
	sess, err := m.deps.Store.CreateSession(ctx, store.NewSession{
		Title:     p.Title,
		HostID:    p.HostID,
		HostName:  p.HostName,
		Questions: p.Questions,
		Settings:  p.Settings,
	})
	if err != nil {
		return nil, err
	}
	m.log.Info().
		Str("session_id", sess.ID.String()).
		Str("host_id", p.HostID).
		Int("questions", len(sess.Questions)).
		Msg("Session created")
	return sess, nil
}

// Dispatch routes cmd to the coordinator of sessionID.
func (m *Manager) Dispatch(ctx context.Context, sessionID uuid.UUID, cmd Command) (any, error) {
	for attempt := 0; attempt < 3; attempt++ {
		c, err := m.actor(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		val, err := c.call(ctx, cmd)
		if errors.Is(err, errStopped) {
			continue
		}
		return val, err
	}
	return nil, ErrInternal
}

// Host binds the host connection and returns the session summary.
func (m *Manager) Host(ctx context.Context, sessionID uuid.UUID, requesterID, connID string) (model.SessionSummary, error) {
	val, err := m.Dispatch(ctx, sessionID, HostSession{RequesterID: requesterID, ConnID: connID})
	return as[model.SessionSummary](val, err)
}

// Join resolves a join code and adds the player to that session.
func (m *Manager) Join(ctx context.Context, joinCode, userID, name, connID string) (model.SessionSummary, error) {
	sess, err := m.deps.Store.FindByJoinCode(ctx, joinCode)
	if err != nil {
		return model.SessionSummary{}, err
	}
	val, err := m.Dispatch(ctx, sess.ID, JoinSession{UserID: userID, Name: name, ConnID: connID})
	return as[model.SessionSummary](val, err)
}

// Start begins the game.
func (m *Manager) Start(ctx context.Context, sessionID uuid.UUID, requesterID string) error {
	_, err := m.Dispatch(ctx, sessionID, StartGame{RequesterID: requesterID})
	return err
}

// Submit answers the current question.
func (m *Manager) Submit(ctx context.Context, sessionID uuid.UUID, cmd SubmitAnswer) (model.AnswerOutcome, error) {
	val, err := m.Dispatch(ctx, sessionID, cmd)
	return as[model.AnswerOutcome](val, err)
}

// Advance moves to the next question on behalf of the host.
func (m *Manager) Advance(ctx context.Context, sessionID uuid.UUID, requesterID string, expectedIndex *int) (AdvanceResult, error) {
	val, err := m.Dispatch(ctx, sessionID, AdvanceQuestion{RequesterID: &requesterID, ExpectedIndex: expectedIndex})
	return as[AdvanceResult](val, err)
}

// End finishes the game early.
func (m *Manager) End(ctx context.Context, sessionID uuid.UUID, requesterID string) (model.SessionSummary, error) {
	val, err := m.Dispatch(ctx, sessionID, EndGame{RequesterID: requesterID})
	return as[model.SessionSummary](val, err)
}

// Restart archives an ended session and returns the fresh copy.
func (m *Manager) Restart(ctx context.Context, sessionID uuid.UUID, requesterID string) (model.SessionSummary, error) {
	val, err := m.Dispatch(ctx, sessionID, RestartSession{RequesterID: requesterID})
	return as[model.SessionSummary](val, err)
}

// Delete removes a session that is not active.
func (m *Manager) Delete(ctx context.Context, sessionID uuid.UUID, requesterID string) error {
	_, err := m.Dispatch(ctx, sessionID, DeleteSession{RequesterID: requesterID})
	return err
}

// Disconnect records a dropped connection. Failures are logged, not returned.
func (m *Manager) Disconnect(ctx context.Context, sessionID uuid.UUID, userID string, isHost bool) {
	if _, err := m.Dispatch(ctx, sessionID, Disconnect{UserID: userID, IsHost: isHost}); err != nil {
		m.log.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Str("user_id", userID).
			Msg("Disconnect not recorded")
	}
}

// Snapshot returns the session after every previously queued command ran.
func (m *Manager) Snapshot(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	val, err := m.Dispatch(ctx, sessionID, Snapshot{})
	return as[*model.Session](val, err)
}

// Session reads the stored session without going through its coordinator.
func (m *Manager) Session(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	return m.deps.Store.Get(ctx, sessionID)
}

// ListByHost returns sessions hosted by hostID.
func (m *Manager) ListByHost(ctx context.Context, hostID string) ([]*model.Session, error) {
	return m.deps.Store.ListByHost(ctx, hostID)
}

// Active reports the number of running coordinators.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}

// Shutdown stops every coordinator and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Msg("All coordinators stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) actor(ctx context.Context, id uuid.UUID) (*Coordinator, error) {
	m.mu.RLock()
	c, ok := m.actors[id]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	if _, err := m.deps.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	if m.ctx.Err() != nil {
		return nil, ErrInternal
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if c, ok := m.actors[id]; ok {
		return c, nil
	}

	c = newCoordinator(id, m.deps, m.cfg, m.log, m.remove)
	m.actors[id] = c
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run(m.ctx)
	}()
	return c, nil
}

func (m *Manager) remove(c *Coordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.actors[c.id]; ok && cur == c {
		delete(m.actors, c.id)
	}
}

func as[T any](val any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := val.(T)
	if !ok {
		return zero, ErrInternal
	}
	return v, nil
}
