package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned across a package boundary wraps exactly one of these.
var (
	ErrValidation        = errors.New("validation error")
	ErrAuthorization     = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUpstreamGap       = errors.New("upstream gap")
)

// Concrete errors.
var (
	ErrReservedName   = fmt.Errorf("%w: reserved name", ErrValidation)
	ErrAlreadyExists  = fmt.Errorf("%w: already exists", ErrValidation)
	ErrBotNotFound    = fmt.Errorf("%w: bot", ErrNotFound)
	ErrOrderNotFound  = fmt.Errorf("%w: order", ErrNotFound)
	ErrAlreadyStarted = fmt.Errorf("%w: already started", ErrStateConflict)
	ErrNotStarted     = fmt.Errorf("%w: not started", ErrStateConflict)
	ErrAlreadyStopped = fmt.Errorf("%w: already stopped", ErrStateConflict)
	ErrNotMember      = fmt.Errorf("%w: not a member", ErrAuthorization)
	ErrDenied         = fmt.Errorf("%w: denied", ErrAuthorization)
)

// ErrorKind returns the error kind the provided error wraps, nil if it wraps none.
func ErrorKind(err error) error {
	kinds := []error{ErrValidation, ErrAuthorization, ErrNotFound, ErrStateConflict,
		ErrInsufficientFunds, ErrUpstreamGap}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}

// StatusCode maps the provided error to its transport status code.
func StatusCode(err error) int {
	switch ErrorKind(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrAuthorization:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrStateConflict:
		return http.StatusConflict
	case ErrInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ErrUpstreamGap:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// KindByName returns the error kind with the provided wire name, nil if there is none.
func KindByName(name string) error {
	for _, kind := range []error{ErrValidation, ErrAuthorization, ErrNotFound, ErrStateConflict,
		ErrInsufficientFunds, ErrUpstreamGap} {
		if ErrorName(kind) == name {
			return kind
		}
	}

	return nil
}

// ErrorName returns the stable wire name of the provided error's kind.
func ErrorName(err error) string {
	switch ErrorKind(err) {
	case ErrValidation:
		return "ValidationError"
	case ErrAuthorization:
		return "AuthorizationError"
	case ErrNotFound:
		return "NotFoundError"
	case ErrStateConflict:
		return "StateConflictError"
	case ErrInsufficientFunds:
		return "InsufficientFundsError"
	case ErrUpstreamGap:
		return "UpstreamGapError"
	default:
		return "Error"
	}
}
