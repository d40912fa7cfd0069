package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the orchestrator's position in the execution state machine.
type State string

const (
	StateIdle                State = "idle"
	StateLaunching           State = "launching"
	StateAwaitingLoad        State = "awaiting_load"
	StateVerifyingCapability State = "verifying_capability"
	StateRunning             State = "running"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
	StateStopping            State = "stopping"
)

// Result is the aggregate outcome of one execution.
type Result struct {
	Success     bool      `json:"success"`
	Output      string    `json:"output"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
	FailedStep  int       `json:"failedStep,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	Screenshots []string  `json:"screenshots"`
	SessionID   string    `json:"sessionId"`

	// Err is the classified failure, nil on success.
	Err error `json:"-"`
}

// session is the mutable record of one execution.
type session struct {
	id          string
	scriptID    string
	started     time.Time
	lines       []string
	screenshots []string
}

func newSession(scriptID string) *session {
	return &session{id: uuid.NewString(), scriptID: scriptID, started: time.Now(), screenshots: []string{}}
}

func (s *session) logf(format string, args ...any) {
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

func (s *session) result(err *Error) Result {
	r := Result{
		Success:     err == nil,
		Output:      strings.Join(s.lines, "\n"),
		DurationMs:  time.Since(s.started).Milliseconds(),
		Screenshots: s.screenshots,
		SessionID:   s.id,
	}
	if err != nil {
		r.Error = err.Error()
		r.ErrorKind = err.Kind
		r.FailedStep = err.Step
		r.Err = err
	}
	return r
}
