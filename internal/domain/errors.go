package domain

import (
	"errors"
	"fmt"
)

var (
	ErrIdentityMissing   = errors.New("guest identity missing")
	ErrLaunchFailure     = errors.New("game launch failed")
	ErrSubmissionFailure = errors.New("score submission failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	// 응답이 도착했을 때 이미 reset/close 된 세션
	ErrSessionSuperseded = errors.New("game session superseded")
)

// TransitionError reports an operation rejected by the session state machine.
type TransitionError struct {
	Op   string
	From State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed from state %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalid(op string, from State) error {
	return &TransitionError{Op: op, From: from}
}
