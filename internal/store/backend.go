package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-engine/internal/model"
)

// Backend persists Session aggregates. Update must apply fn to a private copy
// and only make the result visible if fn succeeds and the write commits.
type Backend interface {
	Insert(ctx context.Context, s *model.Session) error
	Load(ctx context.Context, id uuid.UUID) (*model.Session, error)
	FindLiveByJoinCode(ctx context.Context, code string) (*model.Session, error)
	ListByHost(ctx context.Context, hostID string) ([]*model.Session, error)
	Update(ctx context.Context, id uuid.UUID, fn func(s *model.Session) error) (*model.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryBackend keeps sessions in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.Session
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[uuid.UUID]*model.Session)}
}

func (b *MemoryBackend) Insert(_ context.Context, s *model.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = s.Clone()
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, id uuid.UUID) (*model.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (b *MemoryBackend) FindLiveByJoinCode(_ context.Context, code string) (*model.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sessions {
		if s.Status.IsLive() && strings.EqualFold(s.JoinCode, code) {
			return s.Clone(), nil
		}
	}
	return nil, model.ErrSessionNotFound
}

func (b *MemoryBackend) ListByHost(_ context.Context, hostID string) ([]*model.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.Session, 0)
	for _, s := range b.sessions {
		if s.HostID == hostID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (b *MemoryBackend) Update(_ context.Context, id uuid.UUID, fn func(s *model.Session) error) (*model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	b.sessions[id] = next
	return next.Clone(), nil
}

func (b *MemoryBackend) Delete(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[id]; !ok {
		return model.ErrSessionNotFound
	}
	delete(b.sessions, id)
	return nil
}
