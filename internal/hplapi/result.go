package hplapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/hpl-runner/internal/domain"
)

// Op names the remote operation an error came from.
type Op string

const (
	OpCreateGuest Op = "create_guest"
	OpLaunch      Op = "launch"
	OpSubmit      Op = "submit"
	OpGetSession  Op = "get_session"
	OpNextGame    Op = "next_game"
	OpLevels      Op = "levels"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // no usable HTTP response
	KindStatus    ErrorKind = "status"    // non-2xx
	KindRejected  ErrorKind = "rejected"  // success=false or error field present
	KindDecode    ErrorKind = "decode"
)

// APIError is the narrowed failure of every remote call.
type APIError struct {
	Op      Op
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hpl %s %s", e.Op, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the domain failure for the operation plus the transport
// cause, so errors.Is works for both.
func (e *APIError) Unwrap() []error {
	var out []error
	switch e.Op {
	case OpLaunch:
		out = append(out, domain.ErrLaunchFailure)
	case OpSubmit:
		out = append(out, domain.ErrSubmissionFailure)
	case OpCreateGuest:
		out = append(out, domain.ErrIdentityMissing)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Result is the tagged outcome of one call: either OK with Value, or a
// failure Kind with Message.
type Result[T any] struct {
	OK      bool
	Value   T
	Kind    ErrorKind
	Status  int
	Message string

	cause error
}

// Err converts a failed result into an *APIError; nil when OK.
func (r Result[T]) Err(op Op) error {
	if r.OK {
		return nil
	}
	return &APIError{Op: op, Kind: r.Kind, Status: r.Status, Message: r.Message, Err: r.cause}
}

type envelope[T any] struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// narrow inspects the raw response exactly once.
func narrow[T any](status int, body []byte) Result[T] {
	var env envelope[T]
	decodeErr := json.Unmarshal(body, &env)

	if status < 200 || status >= 300 {
		msg := truncate(strings.TrimSpace(string(body)), 512)
		if decodeErr == nil {
			if m := pickMessage(env.Message, env.Error); m != "" {
				msg = m
			}
		}
		return Result[T]{Kind: KindStatus, Status: status, Message: msg}
	}
	if decodeErr != nil {
		return Result[T]{Kind: KindDecode, Status: status, Message: decodeErr.Error()}
	}
	if !env.Success || errorPresent(env.Error) {
		return Result[T]{Kind: KindRejected, Status: status, Message: pickMessage(env.Message, env.Error)}
	}
	return Result[T]{OK: true, Value: env.Data, Status: status}
}

func errorPresent(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`:
		return false
	}
	return true
}

// pickMessage prefers the error field (string or {message}) over message.
func pickMessage(message string, errField json.RawMessage) string {
	if errorPresent(errField) {
		var s string
		if json.Unmarshal(errField, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(errField, &obj) == nil {
			if obj.Message != "" {
				return obj.Message
			}
			if obj.Code != "" {
				return obj.Code
			}
		}
		return truncate(string(errField), 256)
	}
	return message
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
