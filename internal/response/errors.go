package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/trivia-engine/internal/model"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Game ──────────────────────────────────────────────────────────
	ErrInvalidState    ErrCode = "INVALID_STATE"
	ErrDuplicateAnswer ErrCode = "DUPLICATE_ANSWER"
	ErrLateSubmission  ErrCode = "LATE_SUBMISSION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	case ErrForbidden:
		return "Only the session host may do this."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Request payload is invalid."
	case ErrUnknownAction:
		return "Unknown action."

	case ErrNotFound:
		return "Resource not found."

	case ErrInvalidState:
		return "This is not allowed in the session's current state."
	case ErrDuplicateAnswer:
		return "You already answered this question."
	case ErrLateSubmission:
		return "Time is up for this question."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}

// Classify maps a domain error to its HTTP status and error code.
func Classify(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, ErrValidation
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, ErrForbidden
	case errors.Is(err, model.ErrDuplicateAnswer):
		return http.StatusConflict, ErrDuplicateAnswer
	case errors.Is(err, model.ErrLateSubmission):
		return http.StatusUnprocessableEntity, ErrLateSubmission
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict, ErrInvalidState
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}

// ValidationFields returns the field map carried by a validation error, if any.
func ValidationFields(err error) map[string]string {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
