package shared

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   error
		status int
		wire   string
	}{
		{"reserved name", ErrReservedName, ErrValidation, http.StatusBadRequest, "ValidationError"},
		{"already exists", ErrAlreadyExists, ErrValidation, http.StatusBadRequest, "ValidationError"},
		{"not member", ErrNotMember, ErrAuthorization, http.StatusUnauthorized, "AuthorizationError"},
		{"bot not found", ErrBotNotFound, ErrNotFound, http.StatusNotFound, "NotFoundError"},
		{"order not found", ErrOrderNotFound, ErrNotFound, http.StatusNotFound, "NotFoundError"},
		{"already started", ErrAlreadyStarted, ErrStateConflict, http.StatusConflict, "StateConflictError"},
		{"not started", ErrNotStarted, ErrStateConflict, http.StatusConflict, "StateConflictError"},
		{"upstream gap", fmt.Errorf("source 0: %w", ErrUpstreamGap), ErrUpstreamGap, http.StatusBadGateway, "UpstreamGapError"},
		{"unknown", errors.New("boom"), nil, http.StatusInternalServerError, "Error"},
	}

	for _, test := range tests {
		if ErrorKind(test.err) != test.kind {
			t.Errorf("%s: expected kind %v, got %v", test.name, test.kind, ErrorKind(test.err))
		}
		if StatusCode(test.err) != test.status {
			t.Errorf("%s: expected status %d, got %d", test.name, test.status, StatusCode(test.err))
		}
		if ErrorName(test.err) != test.wire {
			t.Errorf("%s: expected name %s, got %s", test.name, test.wire, ErrorName(test.err))
		}
		if KindByName(test.wire) != test.kind {
			t.Errorf("%s: expected %s to name kind %v, got %v", test.name, test.wire,
				test.kind, KindByName(test.wire))
		}
	}

	// Ensure wrapped concrete errors keep both their identity and kind.
	err := fmt.Errorf("bot %q: %w", "alpha", ErrAlreadyStarted)
	assert.True(t, errors.Is(err, ErrAlreadyStarted))
	assert.True(t, errors.Is(err, ErrStateConflict))
	assert.False(t, errors.Is(err, ErrNotStarted))
}
