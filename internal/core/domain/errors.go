package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTerminalStatus = errors.New("participant status is terminal")
	ErrInvalidStatus  = errors.New("invalid participant status")
	ErrUnavailable    = errors.New("endpoint unavailable")
)

// AuthorizationError is a private subscribe rejected because the connection's
// credential was missing, stale or not yet propagated.
type AuthorizationError struct {
	Channel string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("subscribe %s: unauthorized", e.Channel)
	}
	return fmt.Sprintf("subscribe %s: unauthorized: %s", e.Channel, e.Reason)
}

func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// TransportError means realtime delivery for Channel is degraded.
type TransportError struct {
	Channel string
	Status  SubscribeStatus
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime degraded on %s: %s", e.Channel, e.Status)
	}
	return fmt.Sprintf("realtime degraded on %s: %s: %v", e.Channel, e.Status, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StoreCommitError is a status write that failed after the local transition
// was already decided.
type StoreCommitError struct {
	ParticipantID ParticipantID
	Status        ParticipantStatus
	Err           error
}

func (e *StoreCommitError) Error() string {
	return fmt.Sprintf("commit %s for participant %s: %v", e.Status, e.ParticipantID, e.Err)
}

func (e *StoreCommitError) Unwrap() error {
	return e.Err
}

// DataShapeError is an event payload that failed boundary validation.
type DataShapeError struct {
	Event  string
	Field  string
	Reason string
}

func (e *DataShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %q event: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("malformed %q event: %s: %s", e.Event, e.Field, e.Reason)
}
