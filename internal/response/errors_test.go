package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/trivia-engine/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrCode
	}{
		{model.ErrSessionNotFound, http.StatusNotFound, ErrNotFound},
		{fmt.Errorf("load: %w", model.ErrPlayerNotFound), http.StatusNotFound, ErrNotFound},
		{model.ErrNotHost, http.StatusForbidden, ErrForbidden},
		{model.ErrNoPlayers, http.StatusConflict, ErrInvalidState},
		{model.ErrDuplicateAnswer, http.StatusConflict, ErrDuplicateAnswer},
		{model.ErrLateSubmission, http.StatusUnprocessableEntity, ErrLateSubmission},
		{model.NewValidationError("selected_index", "bad"), http.StatusBadRequest, ErrValidation},
		{errors.New("connection reset"), http.StatusInternalServerError, ErrInternal},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("Classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestValidationFields(t *testing.T) {
	err := fmt.Errorf("submit: %w", model.NewValidationError("time_spent_ms", "must not be negative"))
	fields := ValidationFields(err)
	if fields["time_spent_ms"] != "must not be negative" {
		t.Fatalf("fields = %v", fields)
	}
	if ValidationFields(model.ErrNotHost) != nil {
		t.Fatal("non-validation error produced fields")
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired, ErrForbidden, ErrValidation,
		ErrInvalidID, ErrInvalidPayload, ErrUnknownAction, ErrNotFound, ErrInvalidState,
		ErrDuplicateAnswer, ErrLateSubmission, ErrRateLimitExceeded, ErrInternal,
	}
	fallback := GetMessage("SOMETHING_ELSE")
	for _, c := range codes {
		if GetMessage(c) == fallback {
			t.Errorf("code %s has no message", c)
		}
	}
}
