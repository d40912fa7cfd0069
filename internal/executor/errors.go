package executor

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when Execute is called while another execution is in
// flight on the same Orchestrator.
var ErrBusy = errors.New("executor: an execution is already running")

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	KindContextUnavailable    ErrorKind = "ContextUnavailable"
	KindElementNotFound       ErrorKind = "ElementNotFound"
	KindStepTimeout           ErrorKind = "StepTimeout"
	KindCapabilityUnavailable ErrorKind = "CapabilityUnavailable"
	KindParseError            ErrorKind = "ParseError"
	KindPolicyDenied          ErrorKind = "PolicyDenied"
	KindCancelled             ErrorKind = "Cancelled"
	KindStepFailed            ErrorKind = "StepFailed"
)

// Error is a classified execution failure. Step is the 1-based step number,
// or 0 when the failure happened before any step ran.
type Error struct {
	Kind ErrorKind
	Step int
	Err  error
}

func (e *Error) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("step %d: %s: %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, step int, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
