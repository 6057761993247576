package archive

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-engine/internal/model"
)

// MemoryResults is an in-process ResultWriter and ResultReader.
type MemoryResults struct {
	mu      sync.RWMutex
	results []model.SessionResult
	seen    map[string]struct{}
}

// NewMemoryResults creates an empty result store.
func NewMemoryResults() *MemoryResults {
	return &MemoryResults{seen: make(map[string]struct{})}
}

func resultKey(sessionID uuid.UUID, userID string) string {
	return sessionID.String() + "/" + userID
}

// InsertResults stores results, skipping (session, user) pairs already present.
func (m *MemoryResults) InsertResults(_ context.Context, results []model.SessionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		k := resultKey(r.SessionID, r.UserID)
		if _, dup := m.seen[k]; dup {
			continue
		}
		m.seen[k] = struct{}{}
		m.results = append(m.results, r)
	}
	return nil
}

// ListBySession returns a session's results ordered by rank.
func (m *MemoryResults) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.SessionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.SessionResult{}
	for _, r := range m.results {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// ListByUser returns a user's most recent results first.
func (m *MemoryResults) ListByUser(_ context.Context, userID string, limit int) ([]model.SessionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.SessionResult{}
	for _, r := range m.results {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
