// Package scheduler replays active scripts whose schedule interval has
// elapsed and records the outcome of every run.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/store"
)

const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerChat     = "chat"
)

// Store is the slice of store.ScriptStore the scheduler needs.
type Store interface {
	DueScripts() ([]script.Script, error)
	IncrementExecutionCount(id string) error
	SaveExecution(rec store.ExecutionRecord) (int64, error)
}

// Runner replays one script. *executor.Orchestrator satisfies it.
type Runner interface {
	Execute(ctx context.Context, sc script.Script, progress executor.Progress) (executor.Result, error)
}

// Messenger delivers run reports to a chat.
type Messenger interface {
	Send(chatID string, text string) error
}

// Reporter formats a run report for the messenger.
type Reporter func(sc script.Script, res executor.Result) string

type Scheduler struct {
	Store    Store
	Runner   Runner
	Gateway  Messenger
	ChatID   string
	Report   Reporter
	Interval time.Duration
	Journal  *observability.Logger
	Board    *observability.StatusBoard
	Logger   *log.Logger
}

func New(st Store, runner Runner, gateway Messenger, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Scheduler{
		Store:    st,
		Runner:   runner,
		Gateway:  gateway,
		Interval: 30 * time.Second,
		Logger:   logger.WithPrefix("scheduler"),
	}
}

// Start polls until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Logger.Info("task scheduler started", "interval", s.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat()
			s.RunDue(ctx)
		}
	}
}

func (s *Scheduler) heartbeat() {
	if s.Board != nil {
		s.Board.Heartbeat()
	}
	s.Journal.LogHeartbeat()
}

// RunDue replays every due script once, in store order, and returns how
// many were attempted.
func (s *Scheduler) RunDue(ctx context.Context) int {
	due, err := s.Store.DueScripts()
	if err != nil {
		s.Logger.Error("polling scripts failed", "error", err)
		return 0
	}

	ran := 0
	for _, sc := range due {
		if ctx.Err() != nil {
			break
		}
		s.Logger.Info("executing scheduled script", "id", sc.ID, "name", sc.Name)
		s.Journal.Log(observability.Event{
			Type:     observability.EventTypeSchedule,
			ScriptID: sc.ID,
			Data:     map[string]any{"name": sc.Name, "interval_seconds": sc.ScheduleSeconds},
		})

		if s.Board != nil {
			s.Board.SetMode(observability.ModeRunning, sc.Name)
		}
		started := time.Now()
		var progress executor.Progress
		if s.Board != nil {
			progress = s.Board.SetProgress
		}
		res, err := s.Runner.Execute(ctx, sc, progress)
		if s.Board != nil {
			s.Board.SetMode(observability.ModeIdle, "")
		}
		if errors.Is(err, executor.ErrBusy) {
			s.Logger.Warn("executor busy, retrying next poll", "id", sc.ID)
			continue
		}
		if err != nil {
			s.Logger.Error("scheduled execution failed", "id", sc.ID, "error", err)
			continue
		}
		ran++

		if err := Record(s.Store, sc.ID, TriggerSchedule, res, started); err != nil {
			s.Logger.Error("recording execution failed", "id", sc.ID, "error", err)
		}
		s.notify(sc, res)
	}
	return ran
}

func (s *Scheduler) notify(sc script.Script, res executor.Result) {
	if s.Gateway == nil || s.ChatID == "" || s.Report == nil {
		return
	}
	if err := s.Gateway.Send(s.ChatID, s.Report(sc, res)); err != nil {
		s.Logger.Warn("sending report failed", "id", sc.ID, "error", err)
	}
}

// Recorder is the slice of the store Record writes to.
type Recorder interface {
	IncrementExecutionCount(id string) error
	SaveExecution(rec store.ExecutionRecord) (int64, error)
}

// Record bumps the script's run counter and stores the execution. Both
// writes are attempted even when the first fails.
func Record(st Recorder, scriptID, trigger string, res executor.Result, started time.Time) error {
	incErr := st.IncrementExecutionCount(scriptID)
	_, saveErr := st.SaveExecution(store.NewExecutionRecord(scriptID, trigger, res, started))
	return errors.Join(incErr, saveErr)
}
