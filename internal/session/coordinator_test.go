package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/store"
)

// ─── Test doubles ──────────────────────────────────────────────────────

type sent struct {
	kind   string // host, player, all
	userID string
	ev     Event
}

type recordingSink struct {
	mu       sync.Mutex
	events   []sent
	released []uuid.UUID
}

func (s *recordingSink) BindHost(uuid.UUID, string)           {}
func (s *recordingSink) BindPlayer(uuid.UUID, string, string) {}

func (s *recordingSink) ToHost(_ uuid.UUID, ev Event) { s.add(sent{kind: "host", ev: ev}) }
func (s *recordingSink) ToPlayer(_ uuid.UUID, userID string, ev Event) {
	s.add(sent{kind: "player", userID: userID, ev: ev})
}
func (s *recordingSink) Broadcast(_ uuid.UUID, ev Event) { s.add(sent{kind: "all", ev: ev}) }

func (s *recordingSink) Release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
}

func (s *recordingSink) add(e sent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(t EventType) []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sent
	for _, e := range s.events {
		if e.ev.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeArchiver struct {
	mu     sync.Mutex
	calls  int
	boards [][]model.LeaderboardEntry
}

func (a *fakeArchiver) Archive(_ context.Context, _ *model.Session, board []model.LeaderboardEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.boards = append(a.boards, board)
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	m     *Manager
	store *store.SessionStore
	clk   *clock.Fake
	sink  *recordingSink
	arch  *fakeArchiver
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	return newHarnessOn(t, store.NewMemoryBackend(), mutate...)
}

func newHarnessOn(t *testing.T, backend store.Backend, mutate ...func(*Config)) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC))
	st := store.New(backend, store.NewMemoryJoinCodeIndex(), clk, zerolog.Nop())
	sink := &recordingSink{}
	arch := &fakeArchiver{}

	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := NewManager(Deps{Store: st, Sink: sink, Archiver: arch, Clock: clk}, cfg, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return &harness{t: t, ctx: context.Background(), m: m, store: st, clk: clk, sink: sink, arch: arch}
}

// restartManager stops every coordinator and hands the same store to a
// fresh Manager, as a process restart over a persistent store would.
func (h *harness) restartManager() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.m.Shutdown(ctx); err != nil {
		h.t.Fatalf("Shutdown: %v", err)
	}
	if h.clk.Pending() != 0 {
		h.t.Fatalf("timers left after shutdown: %d", h.clk.Pending())
	}

	next := NewManager(h.m.deps, h.m.cfg, zerolog.Nop())
	h.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		next.Shutdown(ctx)
	})
	h.m = next
}

func question(text string, correct, limit, points int) model.Question {
	return model.Question{
		Text:         text,
		Options:      []string{"o0", "o1", "o2", "o3"},
		CorrectIndex: correct,
		TimeLimit:    limit,
		Points:       points,
		Explanation:  "explained " + text,
	}
}

func (h *harness) create(settings model.Settings, qs ...model.Question) *model.Session {
	h.t.Helper()
	sess, err := h.m.Create(h.ctx, CreateParams{
		HostID: "host", HostName: "Hosty", Title: "Quiz night",
		Questions: qs, Settings: settings,
	})
	if err != nil {
		h.t.Fatalf("Create: %v", err)
	}
	return sess
}

func (h *harness) join(sess *model.Session, userID string) {
	h.t.Helper()
	if _, err := h.m.Join(h.ctx, strings.ToLower(sess.JoinCode), userID, "Player "+userID, "conn-"+userID); err != nil {
		h.t.Fatalf("Join %s: %v", userID, err)
	}
}

// startAndOpen starts the game and lets the first question appear.
func (h *harness) startAndOpen(sess *model.Session) {
	h.t.Helper()
	if err := h.m.Start(h.ctx, sess.ID, "host"); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.clk.Advance(h.m.cfg.FirstQuestionDelay)
	h.sync(sess.ID)
}

func (h *harness) sync(id uuid.UUID) *model.Session {
	h.t.Helper()
	s, err := h.m.Snapshot(h.ctx, id)
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func (h *harness) submit(sess *model.Session, userID string, q int, selected int, spent *int64) (model.AnswerOutcome, error) {
	return h.m.Submit(h.ctx, sess.ID, SubmitAnswer{
		UserID:        userID,
		QuestionID:    sess.Questions[q].ID,
		SelectedIndex: selected,
		TimeSpentMs:   spent,
	})
}

func ms(v int64) *int64 { return &v }

// ─── Scenarios ─────────────────────────────────────────────────────────

func TestEndToEndTwoQuestionGame(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("A", 0, 20, 100), question("B", 2, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	out, err := h.submit(sess, "p1", 0, 0, ms(5000))
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if !out.IsCorrect || out.PointsEarned != 100 {
		t.Fatalf("answer A = %+v, want correct for 100", out)
	}

	adv, err := h.m.Advance(h.ctx, sess.ID, "host", nil)
	if err != nil {
		t.Fatalf("advance to B: %v", err)
	}
	if adv.Ended || adv.Index != 1 || adv.Question == nil || adv.Question.Text != "B" {
		t.Fatalf("advance = %+v, want question B", adv)
	}

	out, err = h.submit(sess, "p1", 1, 1, ms(3000))
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}
	if out.IsCorrect || out.PointsEarned != 0 || out.CorrectIndex != 2 {
		t.Fatalf("answer B = %+v, want wrong for 0", out)
	}

	adv, err = h.m.Advance(h.ctx, sess.ID, "host", nil)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if !adv.Ended {
		t.Fatalf("advance = %+v, want ended", adv)
	}

	final, err := h.m.Session(h.ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != model.SessionStatusEnded {
		t.Fatalf("status = %s, want ended", final.Status)
	}

	overs := h.sink.ofType(EventGameOver)
	if len(overs) != 1 {
		t.Fatalf("game_over events = %d, want 1", len(overs))
	}
	board := overs[0].ev.Data.(GameOverData).Leaderboard
	if len(board) != 1 || board[0].Rank != 1 || board[0].Score != 100 || board[0].Accuracy != 50 {
		t.Fatalf("final leaderboard = %+v", board)
	}
	if h.arch.count() != 1 {
		t.Fatalf("archive calls = %d, want 1", h.arch.count())
	}

	if _, err := h.m.Advance(h.ctx, sess.ID, "host", nil); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("advance after end err = %v, want InvalidState", err)
	}
}

func TestSpeedBonusAndLateRejection(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{SpeedBonusEnabled: true, MaxSpeedBonus: 50}, question("Q", 1, 30, 100))
	h.join(sess, "fast")
	h.join(sess, "late")
	h.startAndOpen(sess)

	out, err := h.submit(sess, "fast", 0, 1, ms(15000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.PointsEarned != 125 {
		t.Fatalf("points = %d, want 125", out.PointsEarned)
	}

	if _, err := h.submit(sess, "late", 0, 1, ms(32000)); !errors.Is(err, model.ErrLateSubmission) {
		t.Fatalf("err = %v, want LateSubmission", err)
	}
	s := h.sync(sess.ID)
	if p := s.Players["late"]; p.AnsweredQuestions != 0 || p.Score != 0 {
		t.Fatalf("rejected answer was recorded: %+v", p)
	}
}

func TestServerSideElapsedRejectsLateAnswer(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 30, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	h.clk.Advance(31500 * time.Millisecond)
	if _, err := h.submit(sess, "p1", 0, 0, ms(1000)); !errors.Is(err, model.ErrLateSubmission) {
		t.Fatalf("err = %v, want LateSubmission", err)
	}
}

func TestAnswerWithinToleranceUsesServerTime(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{SpeedBonusEnabled: true, MaxSpeedBonus: 50}, question("Q", 0, 10, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	h.clk.Advance(2 * time.Second)
	out, err := h.submit(sess, "p1", 0, 0, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.PointsEarned != 140 {
		t.Fatalf("points = %d, want 140", out.PointsEarned)
	}
}

func TestNoDoubleAnswers(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	if _, err := h.submit(sess, "p1", 0, 0, ms(1000)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.submit(sess, "p1", 0, 3, ms(2000)); !errors.Is(err, model.ErrDuplicateAnswer) {
		t.Fatalf("err = %v, want DuplicateAnswer", err)
	}
	if p := h.sync(sess.ID).Players["p1"]; p.Score != 100 || len(p.Answers) != 1 {
		t.Fatalf("player changed by duplicate: %+v", p)
	}
}

func TestAnswerBeforeQuestionShown(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")
	if err := h.m.Start(h.ctx, sess.ID, "host"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.submit(sess, "p1", 0, 0, ms(10)); !errors.Is(err, model.ErrQuestionNotOpen) {
		t.Fatalf("err = %v, want ErrQuestionNotOpen", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100), question("R", 0, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	if _, err := h.submit(sess, "p1", 0, 4, nil); !errors.Is(err, model.ErrValidation) {
		t.Errorf("index 4 err = %v, want ValidationError", err)
	}
	if _, err := h.submit(sess, "p1", 0, 0, ms(-5)); !errors.Is(err, model.ErrValidation) {
		t.Errorf("negative time err = %v, want ValidationError", err)
	}
	if _, err := h.submit(sess, "p1", 1, 0, nil); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("future question err = %v, want InvalidState", err)
	}
	if _, err := h.submit(sess, "stranger", 0, 0, nil); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("stranger err = %v, want NotFound", err)
	}
}

func TestHostOnlyOperations(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")

	if err := h.m.Start(h.ctx, sess.ID, "p1"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("start by player err = %v", err)
	}
	if _, err := h.m.Host(h.ctx, sess.ID, "p1", ""); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("host by player err = %v", err)
	}
	if err := h.m.Delete(h.ctx, sess.ID, "p1"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("delete by player err = %v", err)
	}
	if _, err := h.m.Restart(h.ctx, sess.ID, "p1"); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("restart by player err = %v", err)
	}
	h.startAndOpen(sess)
	if _, err := h.m.Advance(h.ctx, sess.ID, "p1", nil); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("advance by player err = %v", err)
	}

	if err := h.m.Start(h.ctx, uuid.New(), "host"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing session err = %v", err)
	}
	if _, err := h.m.Join(h.ctx, "ZZZZZZ", "p2", "P2", ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown code err = %v", err)
	}
}

func TestStartGameStateRules(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))

	if err := h.m.Start(h.ctx, sess.ID, "host"); !errors.Is(err, model.ErrNoPlayers) {
		t.Fatalf("start without players err = %v", err)
	}
	h.join(sess, "p1")
	h.startAndOpen(sess)
	if err := h.m.Start(h.ctx, sess.ID, "host"); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("second start err = %v, want InvalidState", err)
	}
}

func TestNewQuestionHidesAnswer(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 3, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	qs := h.sink.ofType(EventNewQuestion)
	if len(qs) != 1 {
		t.Fatalf("new_question events = %d, want 1", len(qs))
	}
	raw, err := json.Marshal(qs[0].ev)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if strings.Contains(body, "correct_index") || strings.Contains(body, "explanation") {
		t.Fatalf("new_question leaks the answer: %s", body)
	}
	data := qs[0].ev.Data.(NewQuestionData)
	if data.Index != 0 || data.Number != 1 || data.Total != 1 || data.Question.TimeLimit != 20 {
		t.Fatalf("new_question data = %+v", data)
	}

	if res := h.sink.ofType(EventAnswerResult); len(res) != 0 {
		t.Fatalf("unexpected answer_result before answering")
	}
	h.submit(sess, "p1", 0, 3, ms(100))
	res := h.sink.ofType(EventAnswerResult)
	if len(res) != 1 || res[0].kind != "player" || res[0].userID != "p1" {
		t.Fatalf("answer_result must go privately to p1, got %+v", res)
	}
	if lb := h.sink.ofType(EventLeaderboardUpdate); len(lb) != 1 || lb[0].kind != "all" {
		t.Fatalf("leaderboard_update must be broadcast, got %+v", lb)
	}
}

func TestAutoAdvanceAndStaleTimer(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("A", 0, 20, 100), question("B", 0, 20, 100), question("C", 0, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	// Host advances at 10s; the 25s timer of question A must not fire afterwards.
	h.clk.Advance(10 * time.Second)
	if _, err := h.m.Advance(h.ctx, sess.ID, "host", nil); err != nil {
		t.Fatal(err)
	}
	if n := h.clk.Pending(); n != 1 {
		t.Fatalf("pending timers = %d, want 1", n)
	}
	h.clk.Advance(16 * time.Second)
	if s := h.sync(sess.ID); s.CurrentQuestionIndex != 1 {
		t.Fatalf("index = %d after stale deadline, want 1", s.CurrentQuestionIndex)
	}

	// B's own timer fires at 25s after it opened.
	h.clk.Advance(9 * time.Second)
	if s := h.sync(sess.ID); s.CurrentQuestionIndex != 2 {
		t.Fatalf("index = %d after auto-advance, want 2", s.CurrentQuestionIndex)
	}

	// A timer-originated advance for an old index is dropped without error.
	old := 1
	if _, err := h.m.Dispatch(h.ctx, sess.ID, AdvanceQuestion{ExpectedIndex: &old}); err != nil {
		t.Fatalf("stale timer advance err = %v", err)
	}
	if s := h.sync(sess.ID); s.CurrentQuestionIndex != 2 {
		t.Fatalf("stale timer moved index to %d", s.CurrentQuestionIndex)
	}

	// Host advance with an outdated expectation is rejected.
	if _, err := h.m.Advance(h.ctx, sess.ID, "host", &old); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("outdated host advance err = %v", err)
	}

	h.clk.Advance(25 * time.Second)
	final, err := h.m.Session(h.ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The last auto-advance may still be in flight; Snapshot would spawn a
	// new coordinator, so poll the store instead.
	deadline := time.Now().Add(2 * time.Second)
	for final.Status != model.SessionStatusEnded && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		final, _ = h.m.Session(h.ctx, sess.ID)
	}
	if final.Status != model.SessionStatusEnded {
		t.Fatalf("status = %s, want ended after the last timer", final.Status)
	}
}

func TestEndGameIsIdempotent(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100), question("R", 0, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)
	h.submit(sess, "p1", 0, 0, ms(1000))

	first, err := h.m.End(h.ctx, sess.ID, "host")
	if err != nil {
		t.Fatalf("first End: %v", err)
	}
	second, err := h.m.End(h.ctx, sess.ID, "host")
	if err != nil {
		t.Fatalf("second End: %v", err)
	}
	if first.Status != model.SessionStatusEnded || second.Status != model.SessionStatusEnded {
		t.Fatalf("statuses = %s, %s", first.Status, second.Status)
	}
	if h.arch.count() != 1 {
		t.Fatalf("archive calls = %d, want exactly 1", h.arch.count())
	}
	if n := len(h.sink.ofType(EventGameOver)); n != 1 {
		t.Fatalf("game_over events = %d, want 1", n)
	}
	if h.clk.Pending() != 0 {
		t.Fatalf("timers left after end: %d", h.clk.Pending())
	}
}

func TestRestartSession(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{SpeedBonusEnabled: true, MaxSpeedBonus: 10}, question("Q", 0, 20, 100))
	h.join(sess, "p1")

	if _, err := h.m.Restart(h.ctx, sess.ID, "host"); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("restart waiting err = %v", err)
	}

	h.startAndOpen(sess)
	if _, err := h.m.Advance(h.ctx, sess.ID, "host", nil); err != nil {
		t.Fatal(err)
	}

	next, err := h.m.Restart(h.ctx, sess.ID, "host")
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if next.SessionID == sess.ID || next.JoinCode == sess.JoinCode {
		t.Fatalf("restart reused identity: %+v", next)
	}
	if next.Status != model.SessionStatusWaiting || next.PlayerCount != 0 || next.QuestionCount != 1 {
		t.Fatalf("restarted summary = %+v", next)
	}

	old, _ := h.m.Session(h.ctx, sess.ID)
	if old.Status != model.SessionStatusArchived {
		t.Fatalf("old status = %s, want archived", old.Status)
	}
	fresh, _ := h.m.Session(h.ctx, next.SessionID)
	if fresh.RestartedFrom == nil || *fresh.RestartedFrom != sess.ID || fresh.Questions[0].Text != "Q" {
		t.Fatalf("fresh session = %+v", fresh)
	}
	if !fresh.Settings.SpeedBonusEnabled {
		t.Fatal("settings not carried over")
	}

	if _, err := h.m.Restart(h.ctx, sess.ID, "host"); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("restart archived err = %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)

	if err := h.m.Delete(h.ctx, sess.ID, "host"); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("delete active err = %v", err)
	}
	if _, err := h.m.End(h.ctx, sess.ID, "host"); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Delete(h.ctx, sess.ID, "host"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.m.Session(h.ctx, sess.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("session still stored: %v", err)
	}
}

func TestPlayerDisconnectNotifiesHost(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")
	h.join(sess, "p2")

	h.m.Disconnect(h.ctx, sess.ID, "p1", false)

	left := h.sink.ofType(EventPlayerLeft)
	if len(left) != 1 || left[0].kind != "host" {
		t.Fatalf("player_left = %+v", left)
	}
	data := left[0].ev.Data.(PlayerLeftData)
	if data.UserID != "p1" || data.ConnectedCount != 1 {
		t.Fatalf("player_left data = %+v", data)
	}
	s := h.sync(sess.ID)
	if s.Players["p1"].IsConnected {
		t.Fatal("p1 still connected")
	}

	// Rejoin restores the same player record.
	h.join(sess, "p1")
	s = h.sync(sess.ID)
	if len(s.Players) != 2 || !s.Players["p1"].IsConnected {
		t.Fatalf("rejoin state = %+v", s.Players["p1"])
	}
}

func TestHostDisconnectPolicies(t *testing.T) {
	t.Run("ignore keeps the game running", func(t *testing.T) {
		h := newHarness(t)
		sess := h.create(model.Settings{}, question("Q", 0, 60, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.m.Disconnect(h.ctx, sess.ID, "host", true)
		h.clk.Advance(30 * time.Second)
		if s := h.sync(sess.ID); s.Status != model.SessionStatusActive {
			t.Fatalf("status = %s, want active", s.Status)
		}
		if n := len(h.sink.ofType(EventHostDisconnected)); n != 1 {
			t.Fatalf("host_disconnected events = %d", n)
		}
	})

	t.Run("end after grace period", func(t *testing.T) {
		h := newHarness(t, func(c *Config) {
			c.HostDisconnectPolicy = HostDisconnectEnd
			c.HostGracePeriod = 10 * time.Second
		})
		sess := h.create(model.Settings{}, question("Q", 0, 60, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.m.Disconnect(h.ctx, sess.ID, "host", true)
		h.clk.Advance(11 * time.Second)

		deadline := time.Now().Add(2 * time.Second)
		for h.arch.count() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		s, _ := h.m.Session(h.ctx, sess.ID)
		if s.Status != model.SessionStatusEnded {
			t.Fatalf("status = %s, want ended", s.Status)
		}
	})

	t.Run("summary read without a connection does not count as a return", func(t *testing.T) {
		h := newHarness(t, func(c *Config) {
			c.HostDisconnectPolicy = HostDisconnectEnd
			c.HostGracePeriod = 10 * time.Second
		})
		sess := h.create(model.Settings{}, question("Q", 0, 60, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.m.Disconnect(h.ctx, sess.ID, "host", true)
		h.clk.Advance(5 * time.Second)
		if _, err := h.m.Host(h.ctx, sess.ID, "host", ""); err != nil {
			t.Fatal(err)
		}
		h.clk.Advance(10 * time.Second)

		deadline := time.Now().Add(2 * time.Second)
		for h.arch.count() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		s, _ := h.m.Session(h.ctx, sess.ID)
		if s.Status != model.SessionStatusEnded {
			t.Fatalf("status = %s, want ended", s.Status)
		}
		if n := len(h.sink.ofType(EventHostReconnected)); n != 0 {
			t.Fatalf("host_reconnected events = %d, want 0", n)
		}
	})

	t.Run("host returning cancels the grace timer", func(t *testing.T) {
		h := newHarness(t, func(c *Config) {
			c.HostDisconnectPolicy = HostDisconnectEnd
			c.HostGracePeriod = 10 * time.Second
		})
		sess := h.create(model.Settings{}, question("Q", 0, 60, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.m.Disconnect(h.ctx, sess.ID, "host", true)
		h.clk.Advance(5 * time.Second)
		if _, err := h.m.Host(h.ctx, sess.ID, "host", "conn-host-2"); err != nil {
			t.Fatal(err)
		}
		h.clk.Advance(10 * time.Second)
		if s := h.sync(sess.ID); s.Status != model.SessionStatusActive {
			t.Fatalf("status = %s, want active", s.Status)
		}
	})
}

func TestConcurrentAnswersAreSerialized(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{SpeedBonusEnabled: true, MaxSpeedBonus: 100}, question("Q", 2, 30, 100))

	const players = 25
	for i := 0; i < players; i++ {
		h.join(sess, uuid.NewString())
	}
	h.startAndOpen(sess)
	s := h.sync(sess.ID)

	var wg sync.WaitGroup
	errs := make(chan error, players)
	i := 0
	for id := range s.Players {
		wg.Add(1)
		go func(id string, n int) {
			defer wg.Done()
			_, err := h.submit(sess, id, 0, n%4, ms(int64(n*100)))
			errs <- err
		}(id, i)
		i++
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	s = h.sync(sess.ID)
	answered := 0
	for id, p := range s.Players {
		sum := 0
		for _, a := range p.Answers {
			sum += a.PointsEarned
		}
		if sum != p.Score {
			t.Errorf("player %s score %d != %d", id, p.Score, sum)
		}
		answered += p.AnsweredQuestions
	}
	if answered != players {
		t.Fatalf("answers recorded = %d, want %d", answered, players)
	}
	if n := len(h.sink.ofType(EventLeaderboardUpdate)); n != players {
		t.Fatalf("leaderboard updates = %d, want %d", n, players)
	}
}

func TestPanicInHandlerIsContained(t *testing.T) {
	h := newHarness(t)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")

	c, err := h.m.actor(h.ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	c.deps.Sink = nil // next event emission panics

	if _, err := h.m.Host(h.ctx, sess.ID, "host", "conn"); !errors.Is(err, ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}

	c.deps.Sink = h.sink
	if _, err := h.m.Host(h.ctx, sess.ID, "host", ""); err != nil {
		t.Fatalf("coordinator did not survive the panic: %v", err)
	}
}

func TestCoordinatorResumesAfterRestart(t *testing.T) {
	t.Run("open question keeps its window and auto-advance", func(t *testing.T) {
		h := newHarness(t)
		sess := h.create(model.Settings{}, question("A", 1, 20, 100), question("B", 0, 20, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.restartManager()
		h.clk.Advance(2 * time.Second)

		out, err := h.submit(sess, "p1", 0, 1, nil)
		if err != nil {
			t.Fatalf("submit after restart: %v", err)
		}
		if !out.IsCorrect || out.PointsEarned != 100 {
			t.Fatalf("outcome = %+v", out)
		}
		if h.clk.Pending() != 1 {
			t.Fatalf("pending timers = %d, want the re-armed auto-advance", h.clk.Pending())
		}

		// 20s limit + buffer, 2s of which already passed.
		h.clk.Advance(18*time.Second + h.m.cfg.AutoAdvanceBuffer)
		if s := h.sync(sess.ID); s.CurrentQuestionIndex != 1 || s.Status != model.SessionStatusActive {
			t.Fatalf("index = %d status = %s, want 1 active", s.CurrentQuestionIndex, s.Status)
		}
	})

	t.Run("question that expired while down advances on load", func(t *testing.T) {
		h := newHarness(t)
		sess := h.create(model.Settings{}, question("A", 1, 20, 100), question("B", 0, 20, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.restartManager()
		h.clk.Advance(time.Minute)

		s := h.sync(sess.ID)
		if s.CurrentQuestionIndex != 1 || s.Status != model.SessionStatusActive {
			t.Fatalf("index = %d status = %s, want 1 active", s.CurrentQuestionIndex, s.Status)
		}
		if n := len(h.sink.ofType(EventNewQuestion)); n != 2 {
			t.Fatalf("new_question events = %d, want 2", n)
		}
		if _, err := h.submit(sess, "p1", 1, 0, nil); err != nil {
			t.Fatalf("submit on advanced question: %v", err)
		}
	})

	t.Run("last question expiring while down ends the game", func(t *testing.T) {
		h := newHarness(t)
		sess := h.create(model.Settings{}, question("A", 1, 20, 100))
		h.join(sess, "p1")
		h.startAndOpen(sess)

		h.restartManager()
		h.clk.Advance(time.Minute)

		// The first dispatch meets a coordinator that finished during resume.
		if _, err := h.m.Snapshot(h.ctx, sess.ID); err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		s, _ := h.m.Session(h.ctx, sess.ID)
		if s.Status != model.SessionStatusEnded {
			t.Fatalf("status = %s, want ended", s.Status)
		}
		if h.arch.count() != 1 {
			t.Fatalf("archive calls = %d, want 1", h.arch.count())
		}
	})

	t.Run("first-question countdown resumes", func(t *testing.T) {
		h := newHarness(t)
		sess := h.create(model.Settings{}, question("A", 1, 20, 100))
		h.join(sess, "p1")
		if err := h.m.Start(h.ctx, sess.ID, "host"); err != nil {
			t.Fatal(err)
		}

		h.restartManager()
		h.clk.Advance(time.Second)

		if _, err := h.submit(sess, "p1", 0, 1, nil); !errors.Is(err, model.ErrQuestionNotOpen) {
			t.Fatalf("submit during countdown err = %v", err)
		}
		h.clk.Advance(h.m.cfg.FirstQuestionDelay - time.Second)
		h.sync(sess.ID)
		if _, err := h.submit(sess, "p1", 0, 1, nil); err != nil {
			t.Fatalf("submit after countdown: %v", err)
		}
	})
}

type flakyBackend struct {
	*store.MemoryBackend
	failInsert atomic.Bool
}

func (b *flakyBackend) Insert(ctx context.Context, s *model.Session) error {
	if b.failInsert.Load() {
		return errors.New("insert: connection refused")
	}
	return b.MemoryBackend.Insert(ctx, s)
}

func TestRestartKeepsOldSessionWhenCreateFails(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: store.NewMemoryBackend()}
	h := newHarnessOn(t, backend)
	sess := h.create(model.Settings{}, question("Q", 0, 20, 100))
	h.join(sess, "p1")
	h.startAndOpen(sess)
	if _, err := h.m.End(h.ctx, sess.ID, "host"); err != nil {
		t.Fatal(err)
	}

	backend.failInsert.Store(true)
	if _, err := h.m.Restart(h.ctx, sess.ID, "host"); !errors.Is(err, ErrInternal) {
		t.Fatalf("restart err = %v, want internal", err)
	}
	old, _ := h.m.Session(h.ctx, sess.ID)
	if old.Status != model.SessionStatusEnded {
		t.Fatalf("old status = %s, want ended", old.Status)
	}

	backend.failInsert.Store(false)
	next, err := h.m.Restart(h.ctx, sess.ID, "host")
	if err != nil {
		t.Fatalf("retry Restart: %v", err)
	}
	if next.Status != model.SessionStatusWaiting {
		t.Fatalf("restarted = %+v", next)
	}
	old, _ = h.m.Session(h.ctx, sess.ID)
	if old.Status != model.SessionStatusArchived {
		t.Fatalf("old status = %s, want archived", old.Status)
	}
}
