package gamedto

import (
	"errors"

	"github.com/park285/hpl-runner/internal/domain"
)

const (
	CodeIdentityMissing   = "identity_missing"
	CodeLaunchFailure     = "launch_failed"
	CodeSubmissionFailure = "submit_failed"
	CodeInvalidTransition = "invalid_transition"
	CodeSuperseded        = "superseded"
	CodeInternal          = "internal"
)

type DomainError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "game session error"
}

// FromError classifies an orchestrator error for display. nil stays nil.
func FromError(err error) *DomainError {
	if err == nil {
		return nil
	}
	de := &DomainError{Code: CodeInternal, Message: err.Error()}
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		de.Code = CodeInvalidTransition
	case errors.Is(err, domain.ErrSessionSuperseded):
		de.Code = CodeSuperseded
	case errors.Is(err, domain.ErrLaunchFailure):
		de.Code, de.Retryable = CodeLaunchFailure, true
	case errors.Is(err, domain.ErrSubmissionFailure):
		de.Code = CodeSubmissionFailure
	case errors.Is(err, domain.ErrIdentityMissing):
		de.Code, de.Retryable = CodeIdentityMissing, true
	}
	return de
}
