package script

import (
	"fmt"
	"sort"
	"time"
)

// Action is the kind of DOM or navigation operation a step performs.
type Action string

const (
	ActionGoto       Action = "goto"
	ActionClick      Action = "click"
	ActionFill       Action = "fill"
	ActionType       Action = "type"
	ActionSelect     Action = "select"
	ActionWait       Action = "wait"
	ActionScreenshot Action = "screenshot"
	ActionHover      Action = "hover"
)

// Actions lists every supported action in a stable order.
var Actions = []Action{
	ActionGoto, ActionClick, ActionFill, ActionType,
	ActionSelect, ActionWait, ActionScreenshot, ActionHover,
}

// Valid reports whether a is one of the supported actions.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// NeedsElement reports whether the action resolves a DOM element from Target.
func (a Action) NeedsElement() bool {
	switch a {
	case ActionClick, ActionFill, ActionType, ActionSelect, ActionHover:
		return true
	}
	return false
}

// Status is the lifecycle state of a stored script.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Step is one atomic recorded or authored action.
type Step struct {
	ID          string `json:"id"`
	Action      Action `json:"action"`
	Target      string `json:"target"` // selector or URL
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order"`
}

// Validate checks that the step can be executed.
func (s Step) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Action.NeedsElement() && s.Target == "" {
		return fmt.Errorf("%s step requires a target selector", s.Action)
	}
	if s.Action == ActionGoto && s.Target == "" {
		return fmt.Errorf("goto step requires a target URL")
	}
	return nil
}

// Script is an ordered, reusable list of steps plus its bookkeeping.
type Script struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	BaseURL         string     `json:"baseUrl"`
	Steps           []Step     `json:"steps"`
	Tags            []string   `json:"tags"`
	Owner           string     `json:"owner,omitempty"`
	Status          Status     `json:"status"`
	ExecutionCount  int        `json:"executionCount"`
	LastExecutedAt  *time.Time `json:"lastExecutedAt,omitempty"`
	ScheduleSeconds int        `json:"scheduleSeconds,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Validate checks the script and each of its steps.
func (s Script) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("script name is required")
	}
	switch s.Status {
	case "", StatusDraft, StatusActive, StatusArchived:
	default:
		return fmt.Errorf("unknown script status %q", s.Status)
	}
	if s.ExecutionCount < 0 {
		return fmt.Errorf("execution count must not be negative")
	}
	seen := make(map[int]bool, len(s.Steps))
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if seen[step.Order] {
			return fmt.Errorf("step %d: duplicate order %d", i+1, step.Order)
		}
		seen[step.Order] = true
	}
	return nil
}

// Sorted returns a copy of the script's steps ordered for replay.
func (s Script) Sorted() []Step {
	steps := make([]Step, len(s.Steps))
	copy(steps, s.Steps)
	SortSteps(steps)
	return steps
}

// HasTag reports whether the script carries tag.
func (s Script) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SortSteps orders steps by Order in place. Equal orders keep their
// relative position.
func SortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}
