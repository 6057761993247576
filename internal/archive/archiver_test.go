package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/clock"
	"github.com/stemsi/trivia-engine/internal/leaderboard"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/store"
)

type recordingQueue struct {
	mu      sync.Mutex
	batches [][]model.GameResult
	err     error
}

func (q *recordingQueue) Enqueue(_ context.Context, results []model.GameResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, results)
	return q.err
}

type failingWriter struct{}

func (failingWriter) InsertResults(context.Context, []model.SessionResult) error {
	return errors.New("db down")
}

// playedSession builds an ended session: alice answers both questions right,
// bob answers one wrong, carol never answers.
func playedSession(t *testing.T, st *store.SessionStore, clk *clock.Fake) *model.Session {
	t.Helper()
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, store.NewSession{
		Title:  "History",
		HostID: "host",
		Questions: []model.Question{
			{Text: "Q1", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0, TimeLimit: 20, Points: 100},
			{Text: "Q2", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1, TimeLimit: 20, Points: 100},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		if _, _, err := st.AddPlayer(ctx, sess.ID, u, u, "c-"+u); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Millisecond)
	}
	if _, err := st.StartGame(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}

	spent := int64(2000)
	q := sess.Questions
	mustSubmit := func(user string, qi, sel int) {
		if _, _, err := st.SubmitAnswer(ctx, sess.ID, user, q[qi].ID, sel, &spent); err != nil {
			t.Fatalf("submit %s: %v", user, err)
		}
	}
	mustSubmit("alice", 0, 0)
	mustSubmit("bob", 0, 3)
	if _, _, err := st.AdvanceQuestion(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	mustSubmit("alice", 1, 1)

	ended, _, err := st.EndGame(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	return ended
}

func setup(t *testing.T) (*store.SessionStore, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.New(store.NewMemoryBackend(), store.NewMemoryJoinCodeIndex(), clk, zerolog.Nop())
	return st, clk
}

func TestArchiveWritesOnePerAnsweringPlayer(t *testing.T) {
	st, clk := setup(t)
	sess := playedSession(t, st, clk)
	board := leaderboard.Calculate(sess)

	results := NewMemoryResults()
	queue := &recordingQueue{}
	a := New(results, st, queue, clk, zerolog.Nop())

	if err := a.Archive(context.Background(), sess, board); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, _ := results.ListBySession(context.Background(), sess.ID)
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2 (carol never answered)", len(got))
	}
	alice := got[0]
	if alice.UserID != "alice" || alice.Rank != 1 || alice.Score != 200 || alice.Accuracy != 100 || alice.TotalQuestions != 2 {
		t.Fatalf("alice = %+v", alice)
	}
	if len(alice.Answers) != 2 || alice.Answers[1].QuestionText != "Q2" || alice.Answers[1].CorrectIndex != 1 || len(alice.Answers[1].Options) != 4 {
		t.Fatalf("alice answers not denormalized: %+v", alice.Answers)
	}
	// bob ties carol on score; having answered puts him ahead of her.
	if bob := got[1]; bob.UserID != "bob" || bob.Rank != 2 || bob.Score != 0 || bob.Accuracy != 0 {
		t.Fatalf("bob = %+v", bob)
	}

	if len(queue.batches) != 1 || len(queue.batches[0]) != 2 {
		t.Fatalf("stats batches = %+v", queue.batches)
	}
	for _, g := range queue.batches[0] {
		if g.Won != (g.UserID == "alice") {
			t.Errorf("won flag wrong for %s", g.UserID)
		}
	}

	reloaded, _ := st.Get(context.Background(), sess.ID)
	if !reloaded.ResultsArchived {
		t.Fatal("marker not set")
	}
}

func TestArchiveAtMostOnce(t *testing.T) {
	st, clk := setup(t)
	sess := playedSession(t, st, clk)
	board := leaderboard.Calculate(sess)

	results := NewMemoryResults()
	queue := &recordingQueue{}
	a := New(results, st, queue, clk, zerolog.Nop())

	// Both calls see the pre-archive copy of the session.
	for i := 0; i < 2; i++ {
		if err := a.Archive(context.Background(), sess, board); err != nil {
			t.Fatalf("Archive #%d: %v", i, err)
		}
	}

	got, _ := results.ListBySession(context.Background(), sess.ID)
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if len(queue.batches) != 1 {
		t.Fatalf("stats enqueued %d times, want 1", len(queue.batches))
	}

	archived, _ := st.Get(context.Background(), sess.ID)
	if err := a.Archive(context.Background(), archived, board); err != nil {
		t.Fatal(err)
	}
	if len(queue.batches) != 1 {
		t.Fatal("archived session enqueued again")
	}
}

func TestArchiveWriteFailureLeavesMarkerUnset(t *testing.T) {
	st, clk := setup(t)
	sess := playedSession(t, st, clk)

	a := New(failingWriter{}, st, nil, clk, zerolog.Nop())
	if err := a.Archive(context.Background(), sess, leaderboard.Calculate(sess)); err == nil {
		t.Fatal("expected error")
	}
	reloaded, _ := st.Get(context.Background(), sess.ID)
	if reloaded.ResultsArchived {
		t.Fatal("marker set although nothing was written")
	}
}

func TestStatsFailureDoesNotFailArchive(t *testing.T) {
	st, clk := setup(t)
	sess := playedSession(t, st, clk)

	queue := &recordingQueue{err: errors.New("redis down")}
	a := New(NewMemoryResults(), st, queue, clk, zerolog.Nop())
	if err := a.Archive(context.Background(), sess, leaderboard.Calculate(sess)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
}

func TestListByUserNewestFirst(t *testing.T) {
	m := NewMemoryResults()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var rs []model.SessionResult
	for i := 0; i < 3; i++ {
		rs = append(rs, model.SessionResult{SessionID: uuid.New(), UserID: "u", ArchivedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	_ = m.InsertResults(context.Background(), rs)

	got, _ := m.ListByUser(context.Background(), "u", 2)
	if len(got) != 2 || !got[0].ArchivedAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("ListByUser = %+v", got)
	}
}
