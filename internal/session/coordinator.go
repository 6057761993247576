package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/leaderboard"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/store"
)

// ErrInternal is reported when a command fails for reasons the caller cannot fix.
var ErrInternal = errors.New("internal error")

var errStopped = errors.New("coordinator stopped")

// Archiver snapshots a finished session into permanent results.
type Archiver interface {
	Archive(ctx context.Context, s *model.Session, board []model.LeaderboardEntry) error
}

// LeaderboardPublisher mirrors standings to a shared cache.
type LeaderboardPublisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, board []model.LeaderboardEntry) error
}

type result struct {
	value any
	err   error
}

type envelope struct {
	cmd   Command
	reply chan result
}

// Coordinator is the single writer for one session. All commands for the
// session, including timer firings, are drained from inbox by run.
type Coordinator struct {
	id       uuid.UUID
	deps     Deps
	cfg      Config
	log      zerolog.Logger
	inbox    chan envelope
	done     chan struct{}
	onExit   func(*Coordinator)
	released bool

	// pending question timer (first-question delay or auto-advance)
	timer        clock.Timer
	questionOpen bool

	hostAway  bool
	hostEpoch int
	hostTimer clock.Timer
}

func newCoordinator(id uuid.UUID, deps Deps, cfg Config, log zerolog.Logger, onExit func(*Coordinator)) *Coordinator {
	return &Coordinator{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		log:    log.With().Str("session_id", id.String()).Logger(),
		inbox:  make(chan envelope, cfg.InboxSize),
		done:   make(chan struct{}),
		onExit: onExit,
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer func() {
		c.stopQuestionTimer()
		c.stopHostTimer()
		if c.onExit != nil {
			c.onExit(c)
		}
		close(c.done)
	}()

	c.resume(ctx)
	if c.released {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.inbox:
			val, err := c.safeHandle(ctx, env.cmd)
			if env.reply != nil {
				env.reply <- result{value: val, err: err}
			}
			if c.released {
				c.log.Debug().Msg("Coordinator released")
				return
			}
		}
	}
}

// resume rebuilds the in-memory question window of a session that was
// already active when this coordinator started, for example after a
// process restart over a persistent store.
func (c *Coordinator) resume(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	sess, err := c.deps.Store.Get(cctx, c.id)
	if err != nil || sess.Status != model.SessionStatusActive || sess.QuestionStartedAt == nil {
		return
	}
	q, ok := sess.CurrentQuestion()
	if !ok {
		return
	}
	index := sess.CurrentQuestionIndex
	elapsed := c.deps.Clock.Now().Sub(*sess.QuestionStartedAt)
	log := c.log.With().Int("index", index).Dur("elapsed", elapsed).Logger()

	// StartGame stamps question 0 with the start time; the countdown is
	// still running until showQuestion stamps it again.
	if index == 0 && c.cfg.FirstQuestionDelay > 0 && sess.StartedAt != nil && sess.StartedAt.Equal(*sess.QuestionStartedAt) {
		if remaining := c.cfg.FirstQuestionDelay - elapsed; remaining > 0 {
			c.armTimer(remaining, showQuestion{index: 0})
			log.Info().Msg("Resumed first-question countdown")
			return
		}
		log.Info().Msg("Countdown elapsed while away, showing first question")
		c.safeHandle(ctx, showQuestion{index: 0})
		return
	}

	c.questionOpen = true
	remaining := time.Duration(q.TimeLimit)*time.Second + c.cfg.AutoAdvanceBuffer - elapsed
	if remaining > 0 {
		c.armTimer(remaining, AdvanceQuestion{ExpectedIndex: &index})
		log.Info().Dur("remaining", remaining).Msg("Resumed open question")
		return
	}
	log.Info().Msg("Question expired while away, advancing")
	if _, err := c.safeHandle(ctx, AdvanceQuestion{ExpectedIndex: &index}); err != nil {
		log.Error().Err(err).Msg("Failed to advance resumed session")
	}
}

// call sends cmd and waits for its reply.
func (c *Coordinator) call(ctx context.Context, cmd Command) (any, error) {
	env := envelope{cmd: cmd, reply: make(chan result, 1)}
	select {
	case c.inbox <- env:
	case <-c.done:
		return nil, errStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r.value, r.err
	case <-c.done:
		select {
		case r := <-env.reply:
			return r.value, r.err
		default:
			return nil, errStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post enqueues cmd without waiting. Used by timers.
func (c *Coordinator) post(cmd Command) {
	select {
	case c.inbox <- envelope{cmd: cmd}:
	case <-c.done:
	}
}

func (c *Coordinator) safeHandle(ctx context.Context, cmd Command) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str("command", fmt.Sprintf("%T", cmd)).
				Bytes("stack", debug.Stack()).
				Msg("Command handler panicked")
			val, err = nil, ErrInternal
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	return c.handle(cctx, cmd)
}

func (c *Coordinator) handle(ctx context.Context, cmd Command) (any, error) {
	switch cmd := cmd.(type) {
	case HostSession:
		return c.hostSession(ctx, cmd)
	case JoinSession:
		return c.joinSession(ctx, cmd)
	case StartGame:
		return nil, c.startGame(ctx, cmd)
	case SubmitAnswer:
		return c.submitAnswer(ctx, cmd)
	case AdvanceQuestion:
		return c.advanceQuestion(ctx, cmd)
	case EndGame:
		return c.endGame(ctx, cmd)
	case RestartSession:
		return c.restartSession(ctx, cmd)
	case DeleteSession:
		return nil, c.deleteSession(ctx, cmd)
	case Disconnect:
		c.disconnect(ctx, cmd)
		return nil, nil
	case Snapshot:
		return c.load(ctx)
	case showQuestion:
		c.showQuestion(ctx, cmd.index)
		return nil, nil
	case hostGraceExpired:
		c.hostGraceExpired(ctx, cmd.epoch)
		return nil, nil
	default:
		return nil, fmt.Errorf("unhandled command %T: %w", cmd, ErrInternal)
	}
}

// ─── Command handlers ──────────────────────────────────────────────────

func (c *Coordinator) hostSession(ctx context.Context, cmd HostSession) (model.SessionSummary, error) {
	sess, err := c.load(ctx)
	if err != nil {
		return model.SessionSummary{}, err
	}
	if sess.HostID != cmd.RequesterID {
		return model.SessionSummary{}, model.ErrNotHost
	}
	// Without a connection this is only a summary read; presence is unchanged.
	if cmd.ConnID == "" {
		return sess.Summary(), nil
	}
	c.deps.Sink.BindHost(c.id, cmd.ConnID)
	if c.hostAway {
		c.hostAway = false
		c.hostEpoch++
		c.stopHostTimer()
		c.log.Info().Msg("Host reconnected")
		c.deps.Sink.Broadcast(c.id, Event{Type: EventHostReconnected, Data: HostPresenceData{SessionID: c.id}})
	}
	return sess.Summary(), nil
}

func (c *Coordinator) joinSession(ctx context.Context, cmd JoinSession) (model.SessionSummary, error) {
	sess, err := c.load(ctx)
	if err != nil {
		return model.SessionSummary{}, err
	}
	if !sess.Status.IsLive() {
		return model.SessionSummary{}, model.ErrSessionNotFound
	}

	player, rejoined, err := c.deps.Store.AddPlayer(ctx, c.id, cmd.UserID, cmd.Name, cmd.ConnID)
	if err != nil {
		return model.SessionSummary{}, c.storeErr("add player", err)
	}
	sess, err = c.load(ctx)
	if err != nil {
		return model.SessionSummary{}, err
	}

	if cmd.ConnID != "" {
		c.deps.Sink.BindPlayer(c.id, cmd.UserID, cmd.ConnID)
	}

	lobby := WaitingLobbyData{Session: sess.Summary(), Player: *player, Rejoined: rejoined}
	if c.questionOpen {
		if q, ok := sess.CurrentQuestion(); ok {
			nq := c.newQuestionData(sess, q)
			lobby.CurrentQuestion = &nq
		}
	}
	c.deps.Sink.ToPlayer(c.id, cmd.UserID, Event{Type: EventWaitingLobby, Data: lobby})
	c.deps.Sink.ToHost(c.id, Event{Type: EventPlayerJoined, Data: PlayerJoinedData{
		UserID:         player.UserID,
		Name:           player.Name,
		Rejoined:       rejoined,
		PlayerCount:    len(sess.Players),
		ConnectedCount: sess.ConnectedCount(),
	}})

	c.log.Info().Str("user_id", cmd.UserID).Bool("rejoined", rejoined).Msg("Player joined")
	return sess.Summary(), nil
}

func (c *Coordinator) startGame(ctx context.Context, cmd StartGame) error {
	sess, err := c.load(ctx)
	if err != nil {
		return err
	}
	if sess.HostID != cmd.RequesterID {
		return model.ErrNotHost
	}
	if sess.Status != model.SessionStatusWaiting {
		return fmt.Errorf("start %s session: %w", sess.Status, model.ErrInvalidState)
	}
	if len(sess.Questions) == 0 {
		return model.ErrNoQuestions
	}
	if len(sess.Players) == 0 {
		return model.ErrNoPlayers
	}

	sess, err = c.deps.Store.StartGame(ctx, c.id)
	if err != nil {
		return c.storeErr("start game", err)
	}

	c.questionOpen = false
	c.deps.Sink.Broadcast(c.id, Event{Type: EventGameStarted, Data: GameStartedData{
		SessionID:      sess.ID,
		Title:          sess.Title,
		TotalQuestions: len(sess.Questions),
		StartsInMs:     c.cfg.FirstQuestionDelay.Milliseconds(),
	}})

	c.armTimer(c.cfg.FirstQuestionDelay, showQuestion{index: 0})
	c.log.Info().Int("players", len(sess.Players)).Msg("Game started")
	return nil
}

func (c *Coordinator) showQuestion(ctx context.Context, index int) {
	sess, err := c.deps.Store.StampQuestionStart(ctx, c.id, index)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidState) {
			c.log.Error().Err(err).Int("index", index).Msg("Failed to open question")
		}
		return
	}
	c.broadcastQuestion(sess)
}

func (c *Coordinator) submitAnswer(ctx context.Context, cmd SubmitAnswer) (model.AnswerOutcome, error) {
	if cmd.SelectedIndex < 0 || cmd.SelectedIndex >= model.OptionCount {
		return model.AnswerOutcome{}, model.NewValidationError("selected_index", "must be between 0 and 3")
	}
	if cmd.TimeSpentMs != nil && *cmd.TimeSpentMs < 0 {
		return model.AnswerOutcome{}, model.NewValidationError("time_spent_ms", "must not be negative")
	}

	sess, err := c.load(ctx)
	if err != nil {
		return model.AnswerOutcome{}, err
	}
	if sess.Status != model.SessionStatusActive {
		return model.AnswerOutcome{}, fmt.Errorf("answer in %s session: %w", sess.Status, model.ErrInvalidState)
	}
	if _, ok := sess.Players[cmd.UserID]; !ok {
		return model.AnswerOutcome{}, model.ErrPlayerNotFound
	}
	q, ok := sess.FindQuestion(cmd.QuestionID)
	if !ok {
		return model.AnswerOutcome{}, model.ErrQuestionNotFound
	}
	if cur, _ := sess.CurrentQuestion(); cur.ID != q.ID {
		return model.AnswerOutcome{}, model.ErrNotCurrent
	}
	if !c.questionOpen || sess.QuestionStartedAt == nil {
		return model.AnswerOutcome{}, model.ErrQuestionNotOpen
	}

	deadline := q.TimeLimitMs() + c.cfg.LateTolerance.Milliseconds()
	elapsed := c.deps.Clock.Now().Sub(*sess.QuestionStartedAt).Milliseconds()
	if elapsed > deadline || (cmd.TimeSpentMs != nil && *cmd.TimeSpentMs > deadline) {
		c.log.Debug().
			Str("user_id", cmd.UserID).
			Int64("elapsed_ms", elapsed).
			Msg("Late answer rejected")
		return model.AnswerOutcome{}, model.ErrLateSubmission
	}

	spent := elapsed
	if cmd.TimeSpentMs != nil {
		spent = *cmd.TimeSpentMs
	}
	if spent < 0 {
		spent = 0
	}

	out, sess, err := c.deps.Store.SubmitAnswer(ctx, c.id, cmd.UserID, cmd.QuestionID, cmd.SelectedIndex, &spent)
	if err != nil {
		return model.AnswerOutcome{}, c.storeErr("submit answer", err)
	}

	c.deps.Sink.ToPlayer(c.id, cmd.UserID, Event{Type: EventAnswerResult, Data: out})
	c.publishLeaderboard(ctx, sess)
	return out, nil
}

func (c *Coordinator) advanceQuestion(ctx context.Context, cmd AdvanceQuestion) (AdvanceResult, error) {
	fromTimer := cmd.RequesterID == nil

	sess, err := c.load(ctx)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !fromTimer && sess.HostID != *cmd.RequesterID {
		return AdvanceResult{}, model.ErrNotHost
	}
	if sess.Status != model.SessionStatusActive {
		if fromTimer {
			return AdvanceResult{}, nil
		}
		return AdvanceResult{}, fmt.Errorf("advance %s session: %w", sess.Status, model.ErrInvalidState)
	}
	if cmd.ExpectedIndex != nil && *cmd.ExpectedIndex != sess.CurrentQuestionIndex {
		if fromTimer {
			c.log.Debug().
				Int("timer_index", *cmd.ExpectedIndex).
				Int("current_index", sess.CurrentQuestionIndex).
				Msg("Dropping stale auto-advance")
			return AdvanceResult{}, nil
		}
		return AdvanceResult{}, model.ErrNotCurrent
	}

	c.stopQuestionTimer()
	c.questionOpen = false

	q, sess, err := c.deps.Store.AdvanceQuestion(ctx, c.id)
	if errors.Is(err, store.ErrNoNextQuestion) {
		c.finish(ctx, sess)
		return AdvanceResult{Ended: true, Index: sess.CurrentQuestionIndex}, nil
	}
	if err != nil {
		return AdvanceResult{}, c.storeErr("advance question", err)
	}

	c.broadcastQuestion(sess)
	pq := q.Public()
	return AdvanceResult{Index: sess.CurrentQuestionIndex, Question: &pq}, nil
}

func (c *Coordinator) endGame(ctx context.Context, cmd EndGame) (model.SessionSummary, error) {
	sess, err := c.load(ctx)
	if err != nil {
		return model.SessionSummary{}, err
	}
	if sess.HostID != cmd.RequesterID {
		return model.SessionSummary{}, model.ErrNotHost
	}
	return c.end(ctx)
}

func (c *Coordinator) end(ctx context.Context) (model.SessionSummary, error) {
	sess, changed, err := c.deps.Store.EndGame(ctx, c.id)
	if err != nil {
		return model.SessionSummary{}, c.storeErr("end game", err)
	}
	if changed {
		c.stopQuestionTimer()
		c.questionOpen = false
		c.finish(ctx, sess)
	} else {
		c.released = true
	}
	return sess.Summary(), nil
}

func (c *Coordinator) restartSession(ctx context.Context, cmd RestartSession) (model.SessionSummary, error) {
	sess, err := c.load(ctx)
	if err != nil {
		return model.SessionSummary{}, err
	}
	if sess.HostID != cmd.RequesterID {
		return model.SessionSummary{}, model.ErrNotHost
	}
	if sess.Status != model.SessionStatusEnded {
		return model.SessionSummary{}, fmt.Errorf("restart %s session: %w", sess.Status, model.ErrSessionNotEnded)
	}

	// Create the successor before archiving; a failed create must leave this
	// session ended.
	prev := sess.ID
	next, err := c.deps.Store.CreateSession(ctx, store.NewSession{
		Title:         sess.Title,
		HostID:        sess.HostID,
		HostName:      sess.HostName,
		Questions:     sess.Questions,
		Settings:      sess.Settings,
		RestartedFrom: &prev,
	})
	if err != nil {
		return model.SessionSummary{}, c.storeErr("create restarted session", err)
	}

	if _, err := c.deps.Store.Archive(ctx, c.id); err != nil {
		if derr := c.deps.Store.Delete(ctx, next.ID); derr != nil {
			c.log.Error().Err(derr).Str("new_session_id", next.ID.String()).Msg("Failed to drop orphaned restart")
		}
		return model.SessionSummary{}, c.storeErr("archive session", err)
	}
	c.release()

	c.log.Info().Str("new_session_id", next.ID.String()).Msg("Session restarted")
	return next.Summary(), nil
}

func (c *Coordinator) deleteSession(ctx context.Context, cmd DeleteSession) error {
	sess, err := c.load(ctx)
	if err != nil {
		return err
	}
	if sess.HostID != cmd.RequesterID {
		return model.ErrNotHost
	}
	if sess.Status == model.SessionStatusActive {
		return model.ErrSessionActive
	}
	if err := c.deps.Store.Delete(ctx, c.id); err != nil {
		return c.storeErr("delete session", err)
	}
	c.release()
	c.log.Info().Msg("Session deleted")
	return nil
}

func (c *Coordinator) disconnect(ctx context.Context, cmd Disconnect) {
	if cmd.IsHost {
		c.hostDisconnected(ctx)
		return
	}

	sess, err := c.deps.Store.RemovePlayer(ctx, c.id, cmd.UserID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", cmd.UserID).Msg("Disconnect bookkeeping failed")
		return
	}
	if sess.Status.IsFinished() {
		c.released = true
		return
	}

	name := ""
	if p, ok := sess.Players[cmd.UserID]; ok {
		name = p.Name
	}
	c.deps.Sink.ToHost(c.id, Event{Type: EventPlayerLeft, Data: PlayerLeftData{
		UserID:         cmd.UserID,
		Name:           name,
		ConnectedCount: sess.ConnectedCount(),
	}})
	if sess.Status == model.SessionStatusActive {
		c.publishLeaderboard(ctx, sess)
	}
}

func (c *Coordinator) hostDisconnected(ctx context.Context) {
	sess, err := c.load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Host disconnect on unknown session")
		return
	}

	c.log.Warn().Str("policy", string(c.cfg.HostDisconnectPolicy)).Msg("Host disconnected")
	c.hostAway = true
	c.hostEpoch++

	data := HostPresenceData{SessionID: c.id}
	if c.cfg.HostDisconnectPolicy == HostDisconnectEnd && sess.Status.IsLive() {
		data.GraceMs = c.cfg.HostGracePeriod.Milliseconds()
		epoch := c.hostEpoch
		c.stopHostTimer()
		c.hostTimer = c.deps.Clock.AfterFunc(c.cfg.HostGracePeriod, func() {
			c.post(hostGraceExpired{epoch: epoch})
		})
	}
	c.deps.Sink.Broadcast(c.id, Event{Type: EventHostDisconnected, Data: data})
}

func (c *Coordinator) hostGraceExpired(ctx context.Context, epoch int) {
	if !c.hostAway || epoch != c.hostEpoch {
		return
	}
	c.log.Info().Msg("Host did not return within grace period, ending game")
	if _, err := c.end(ctx); err != nil {
		c.log.Error().Err(err).Msg("Failed to end game after host left")
	}
}

// ─── Helpers ───────────────────────────────────────────────────────────

func (c *Coordinator) load(ctx context.Context) (*model.Session, error) {
	sess, err := c.deps.Store.Get(ctx, c.id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.released = true
			return nil, model.ErrSessionNotFound
		}
		return nil, c.storeErr("load session", err)
	}
	if sess.Status.IsFinished() && c.timer == nil {
		// Finished sessions keep no actor around once the command is done.
		c.released = true
	}
	return sess, nil
}

// storeErr passes domain errors through and hides infrastructure failures.
func (c *Coordinator) storeErr(op string, err error) error {
	for _, domain := range []error{
		model.ErrNotFound, model.ErrForbidden, model.ErrInvalidState,
		model.ErrDuplicateAnswer, model.ErrLateSubmission, model.ErrValidation,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	c.log.Error().Err(err).Str("op", op).Msg("Session store failure")
	return fmt.Errorf("%s: %w", op, ErrInternal)
}

func (c *Coordinator) newQuestionData(sess *model.Session, q model.Question) NewQuestionData {
	data := NewQuestionData{
		Index:    sess.CurrentQuestionIndex,
		Number:   sess.CurrentQuestionIndex + 1,
		Total:    len(sess.Questions),
		Question: q.Public(),
	}
	if sess.QuestionStartedAt != nil {
		data.StartedAt = *sess.QuestionStartedAt
	}
	return data
}

// broadcastQuestion opens the current question and arms its auto-advance.
func (c *Coordinator) broadcastQuestion(sess *model.Session) {
	q, ok := sess.CurrentQuestion()
	if !ok {
		return
	}
	c.questionOpen = true
	c.deps.Sink.Broadcast(c.id, Event{Type: EventNewQuestion, Data: c.newQuestionData(sess, q)})

	index := sess.CurrentQuestionIndex
	wait := time.Duration(q.TimeLimit)*time.Second + c.cfg.AutoAdvanceBuffer
	c.armTimer(wait, AdvanceQuestion{ExpectedIndex: &index})
}

func (c *Coordinator) armTimer(d time.Duration, cmd Command) {
	c.stopQuestionTimer()
	c.timer = c.deps.Clock.AfterFunc(d, func() { c.post(cmd) })
}

func (c *Coordinator) stopQuestionTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) stopHostTimer() {
	if c.hostTimer != nil {
		c.hostTimer.Stop()
		c.hostTimer = nil
	}
}

func (c *Coordinator) publishLeaderboard(ctx context.Context, sess *model.Session) {
	board := leaderboard.Calculate(sess)
	c.deps.Sink.Broadcast(c.id, Event{Type: EventLeaderboardUpdate, Data: LeaderboardData{Leaderboard: board}})
	c.cacheLeaderboard(ctx, board)
}

func (c *Coordinator) cacheLeaderboard(ctx context.Context, board []model.LeaderboardEntry) {
	if c.deps.Leaderboard == nil {
		return
	}
	if err := c.deps.Leaderboard.Publish(ctx, c.id, board); err != nil {
		c.log.Warn().Err(err).Msg("Leaderboard cache update failed")
	}
}

// finish runs once per session, right after the transition to ended.
func (c *Coordinator) finish(ctx context.Context, sess *model.Session) {
	board := leaderboard.Calculate(sess)
	c.deps.Sink.Broadcast(c.id, Event{Type: EventGameOver, Data: GameOverData{
		Leaderboard: board,
		SessionID:   sess.ID,
		Title:       sess.Title,
	}})
	c.cacheLeaderboard(ctx, board)

	if c.deps.Archiver != nil {
		if err := c.deps.Archiver.Archive(ctx, sess, board); err != nil {
			c.log.Error().Err(err).Msg("Result archival failed")
		}
	}

	c.log.Info().Int("ranked", len(board)).Msg("Game over")
	c.release()
}

func (c *Coordinator) release() {
	c.stopQuestionTimer()
	c.stopHostTimer()
	c.deps.Sink.Release(c.id)
	c.released = true
}
