package store

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	JoinCodeLength   = 6
	maxJoinCodeTries = 20
)

// ErrJoinCodeExhausted is returned when no free code was found within the retry bound.
var ErrJoinCodeExhausted = errors.New("could not allocate a unique join code")

// JoinCodeIndex tracks which codes are held by live sessions.
type JoinCodeIndex interface {
	// Reserve claims code for sessionID. It returns false if the code is taken.
	Reserve(ctx context.Context, code string, sessionID uuid.UUID) (bool, error)
	Release(ctx context.Context, code string) error
}

// NormalizeJoinCode upper-cases and trims user input.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidJoinCode reports whether code has the join code shape, ignoring case.
func ValidJoinCode(code string) bool {
	code = NormalizeJoinCode(code)
	if len(code) != JoinCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			return false
		}
	}
	return true
}

func randomJoinCode() (string, error) {
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	b := make([]byte, JoinCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// MemoryJoinCodeIndex is a process-local JoinCodeIndex.
type MemoryJoinCodeIndex struct {
	mu    sync.Mutex
	codes map[string]uuid.UUID
}

func NewMemoryJoinCodeIndex() *MemoryJoinCodeIndex {
	return &MemoryJoinCodeIndex{codes: make(map[string]uuid.UUID)}
}

func (m *MemoryJoinCodeIndex) Reserve(_ context.Context, code string, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code = NormalizeJoinCode(code)
	if _, taken := m.codes[code]; taken {
		return false, nil
	}
	m.codes[code] = sessionID
	return true, nil
}

func (m *MemoryJoinCodeIndex) Release(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, NormalizeJoinCode(code))
	return nil
}
