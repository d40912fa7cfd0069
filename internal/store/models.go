package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/script"
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Tag    string
	Owner  string
	Status script.Status
}

// Patch carries the fields Update changes. Nil fields are left alone.
type Patch struct {
	Name            *string
	BaseURL         *string
	Steps           *[]script.Step
	Tags            *[]string
	Owner           *string
	Status          *script.Status
	ScheduleSeconds *int
}

// ExecutionRecord is the persisted outcome of one execution.
type ExecutionRecord struct {
	ID          int64              `json:"id"`
	ScriptID    string             `json:"scriptId"`
	SessionID   string             `json:"sessionId"`
	Success     bool               `json:"success"`
	Output      string             `json:"output"`
	Error       string             `json:"error,omitempty"`
	ErrorKind   executor.ErrorKind `json:"errorKind,omitempty"`
	FailedStep  int                `json:"failedStep,omitempty"`
	DurationMs  int64              `json:"durationMs"`
	Screenshots []string           `json:"screenshots"`
	Trigger     string             `json:"trigger"` // manual, schedule or chat
	StartedAt   time.Time          `json:"startedAt"`
}

// NewExecutionRecord captures res for scriptID.
func NewExecutionRecord(scriptID, trigger string, res executor.Result, startedAt time.Time) ExecutionRecord {
	return ExecutionRecord{
		ScriptID:    scriptID,
		SessionID:   res.SessionID,
		Success:     res.Success,
		Output:      res.Output,
		Error:       res.Error,
		ErrorKind:   res.ErrorKind,
		FailedStep:  res.FailedStep,
		DurationMs:  res.DurationMs,
		Screenshots: res.Screenshots,
		Trigger:     trigger,
		StartedAt:   startedAt,
	}
}

// Lookup is the read side of a script store.
type Lookup interface {
	List(f Filter) ([]script.Script, error)
	Get(id string) (script.Script, error)
}

// Find resolves ref as a full id, then as an id prefix or exact name.
// Ambiguous references are an error.
func Find(l Lookup, ref string) (script.Script, error) {
	sc, err := l.Get(ref)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return script.Script{}, err
	}
	all, err := l.List(Filter{})
	if err != nil {
		return script.Script{}, err
	}
	var matches []script.Script
	for _, sc := range all {
		if sc.Name == ref || strings.HasPrefix(sc.ID, ref) {
			matches = append(matches, sc)
		}
	}
	switch len(matches) {
	case 0:
		return script.Script{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return script.Script{}, fmt.Errorf("%q matches %d scripts", ref, len(matches))
	}
}
