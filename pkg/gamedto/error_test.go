package gamedto

import (
	"errors"
	"fmt"
	"testing"

	"github.com/park285/hpl-runner/internal/domain"
)

func TestFromErrorClassifies(t *testing.T) {
	cases := []struct {
		err       error
		code      string
		retryable bool
	}{
		{fmt.Errorf("start: %w", domain.ErrLaunchFailure), CodeLaunchFailure, true},
		{fmt.Errorf("submit: %w", domain.ErrSubmissionFailure), CodeSubmissionFailure, false},
		{fmt.Errorf("ensure: %w", domain.ErrIdentityMissing), CodeIdentityMissing, true},
		{&domain.TransitionError{Op: "finalize", From: domain.StateIdle}, CodeInvalidTransition, false},
		{domain.ErrSessionSuperseded, CodeSuperseded, false},
		{errors.New("boom"), CodeInternal, false},
	}
	for _, tc := range cases {
		de := FromError(tc.err)
		if de == nil || de.Code != tc.code || de.Retryable != tc.retryable {
			t.Fatalf("FromError(%v) = %+v, want code=%s retryable=%v", tc.err, de, tc.code, tc.retryable)
		}
		if de.Message != tc.err.Error() {
			t.Fatalf("message = %q", de.Message)
		}
	}
	if FromError(nil) != nil {
		t.Fatalf("nil error classified")
	}
}
