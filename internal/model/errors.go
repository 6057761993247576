package model

import (
	"errors"
	"fmt"
)

// Caller-facing error taxonomy. Specific errors wrap one of these so callers
// can branch with errors.Is on either level.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")
	ErrLateSubmission  = errors.New("answer submitted after the time limit")
	ErrValidation      = errors.New("validation error")
)

var (
	ErrSessionNotFound  = fmt.Errorf("session %w", ErrNotFound)
	ErrPlayerNotFound   = fmt.Errorf("player %w", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)

	ErrNotHost = fmt.Errorf("only the host may do this: %w", ErrForbidden)

	ErrNoQuestions     = fmt.Errorf("session has no questions: %w", ErrInvalidState)
	ErrNoPlayers       = fmt.Errorf("session has no players: %w", ErrInvalidState)
	ErrQuestionNotOpen = fmt.Errorf("question is not open for answers: %w", ErrInvalidState)
	ErrNotCurrent      = fmt.Errorf("question is not the current question: %w", ErrInvalidState)
	ErrSessionActive   = fmt.Errorf("session is active: %w", ErrInvalidState)
	ErrSessionNotEnded = fmt.Errorf("session has not ended: %w", ErrInvalidState)
)

// ValidationError reports field-level problems with an inbound payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %d invalid field(s)", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
