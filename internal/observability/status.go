package observability

import (
	"sync"
	"time"
)

type Mode string

const (
	ModeIdle      Mode = "IDLE"
	ModeRecording Mode = "RECORDING"
	ModeRunning   Mode = "RUNNING"
)

// Status is a point-in-time copy of the board.
type Status struct {
	Mode          Mode
	ActiveTask    string
	Step          int
	TotalSteps    int
	LastHeartbeat time.Time
}

// StatusBoard holds what the live dashboard shows. It is owned by the
// command that renders it.
type StatusBoard struct {
	mu     sync.RWMutex
	status Status
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{status: Status{Mode: ModeIdle, LastHeartbeat: time.Now()}}
}

// SetMode updates the mode and task, resetting progress.
func (b *StatusBoard) SetMode(mode Mode, task string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Mode = mode
	b.status.ActiveTask = task
	b.status.Step, b.status.TotalSteps = 0, 0
}

// SetProgress records the current step. It matches the executor's
// progress callback signature.
func (b *StatusBoard) SetProgress(step, total int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.Step = step
	b.status.TotalSteps = total
	if message != "" {
		b.status.ActiveTask = message
	}
}

// Heartbeat updates the last heartbeat time.
func (b *StatusBoard) Heartbeat() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.LastHeartbeat = time.Now()
}

// Snapshot returns a copy of the current status.
func (b *StatusBoard) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}
