package entities

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrForbidden     = errors.New("not authorized on this match request")
	ErrInvalidState  = errors.New("invalid match request state")
	ErrInvalidInput  = errors.New("invalid input")
	ErrMatchTimedOut = fmt.Errorf("no pending match to accept or match timed out: %w", ErrInvalidState)
)

// StateError reports an operation attempted outside its precondition state.
type StateError struct {
	RequestID string
	Expected  []SearchStatus
	Actual    SearchStatus
	Reason    string
}

func NewStateError(req *SearchRequest, expected ...SearchStatus) *StateError {
	return &StateError{RequestID: req.ID, Expected: expected, Actual: req.Status}
}

func (e *StateError) Error() string {
	want := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		want[i] = string(s)
	}
	msg := fmt.Sprintf("match request %s is %s, expected %s", e.RequestID, e.Actual, strings.Join(want, " or "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// Owns reports ErrForbidden unless userID owns the request.
func (r *SearchRequest) Owns(userID string) error {
	if r.UserID != userID {
		return fmt.Errorf("match request %s: %w", r.ID, ErrForbidden)
	}
	return nil
}

func (r *SearchRequest) StatusIn(statuses ...SearchStatus) bool {
	for _, s := range statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}
