package domain

import (
	"errors"
	"fmt"
)

// Precondition failures. These are resolved entirely client-side and never reach the backend.
var (
	ErrAlreadyVoted         = errors.New("already voted for this candidate")
	ErrVotingNotOpen        = errors.New("voting is not open")
	ErrSubmissionInProgress = errors.New("a vote submission is already in progress")
	ErrUnknownCandidate     = errors.New("candidate not found in category")
	ErrNotLoaded            = errors.New("vote data not loaded yet")
)

var (
	ErrNoActiveEdition = errors.New("no active edition")
	ErrSessionClosed   = errors.New("voting session closed")
)

// RejectedError is a business-rule failure reported by the backend.
// Message is passed through verbatim.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// NetworkError wraps a transport failure talking to the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ErrorKind maps a voting error to a short label for metrics and logs.
func ErrorKind(err error) string {
	if err == nil {
		return "success"
	}

	var rejected *RejectedError
	var network *NetworkError
	switch {
	case errors.Is(err, ErrSubmissionInProgress):
		return "in_progress"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrVotingNotOpen):
		return "not_open"
	case errors.Is(err, ErrUnknownCandidate):
		return "unknown_candidate"
	case errors.Is(err, ErrNotLoaded):
		return "not_loaded"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &network):
		return "network"
	default:
		return "error"
	}
}
