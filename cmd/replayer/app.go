package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rahul/replayer/internal/browser"
	"github.com/rahul/replayer/internal/capability"
	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/governance"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/scheduler"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/store"
	"github.com/rahul/replayer/pkg/config"
)

// app holds what every command shares: config, loggers and the store.
type app struct {
	cfg     *config.Config
	console *log.Logger
	journal *observability.Logger
	store   *store.ScriptStore
	board   *observability.StatusBoard

	transport *capability.WebSocketTransport
}

func loadApp(cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	console := observability.NewConsole(observability.NewTermWriter(), cfg.Logging.Level)

	st, err := store.NewScriptStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return &app{
		cfg:     cfg,
		console: console,
		journal: observability.NewLogger(console, cfg.Logging.Journal),
		store:   st,
		board:   observability.NewStatusBoard(),
	}, nil
}

func (a *app) Close() error {
	if a.transport != nil {
		a.transport.Close()
	}
	return a.store.Close()
}

// broker returns a capability broker. With the helper disabled it has no
// transport and reports the helper as not installed.
func (a *app) broker() *capability.Broker {
	var t capability.Transport
	if a.cfg.Helper.Enabled && a.cfg.Helper.URL != "" {
		if a.transport == nil {
			a.transport = capability.NewWebSocketTransport(a.cfg.Helper.URL)
		}
		t = a.transport
	}
	return capability.NewBroker(t, capability.Options{
		PingTimeout:    a.cfg.Helper.PingTimeoutDuration(),
		RequestTimeout: a.cfg.Helper.RequestTimeoutDuration(),
	}, a.console)
}

func (a *app) browserOptions() browser.Options {
	return browser.Options{
		Headless:      a.cfg.Browser.Headless,
		NoSandbox:     a.cfg.Browser.NoSandbox,
		ChromePath:    a.cfg.Browser.ChromePath,
		ScreenshotDir: a.cfg.Browser.ScreenshotDir,
		Logger:        a.console,
	}
}

// orchestrator builds the named backend and an orchestrator on top of it.
// Callers close the orchestrator before the backend.
func (a *app) orchestrator(backendName string) (*executor.Orchestrator, browser.Backend, error) {
	if backendName == "" {
		backendName = a.cfg.Browser.Backend
	}
	backend, err := browser.DefaultRegistry().Get(backendName, a.browserOptions())
	if err != nil {
		return nil, nil, err
	}
	engine, err := governance.FromConfig(a.cfg.Policy)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	ex := a.cfg.Execution
	orch := executor.New(backend, executor.Options{
		StepTimeout:      ex.StepTimeoutDuration(),
		InterStepDelay:   ex.InterStepDelayDuration(),
		LoadTimeout:      ex.LoadTimeoutDuration(),
		LoadPollInterval: ex.LoadPollIntervalDuration(),
		AgentTimeout:     ex.AgentTimeoutDuration(),
		Broker:           a.broker(),
		Policy:           governance.StepPolicy{Engine: engine},
		Metrics:          observability.MustNewMetrics(prometheus.DefaultRegisterer),
		Journal:          a.journal,
		Logger:           a.console,
	})
	return orch, backend, nil
}

// runAndRecord executes sc and stores the outcome. Recording failures are
// logged, not returned.
func (a *app) runAndRecord(ctx context.Context, orch *executor.Orchestrator, sc script.Script, trigger string, progress executor.Progress) (executor.Result, error) {
	started := time.Now()
	res, err := orch.Execute(ctx, sc, progress)
	if err != nil {
		return res, err
	}
	if err := scheduler.Record(a.store, sc.ID, trigger, res, started); err != nil {
		a.console.Warn("recording execution failed", "id", sc.ID, "error", err)
	}
	return res, nil
}

// liveStatus redraws the status line until the returned stop func is
// called. It does nothing when stdout is not a terminal.
func (a *app) liveStatus(ctx context.Context, interval time.Duration) func() {
	if !observability.IsTerminal() {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for frame := 0; ; frame++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus(a.board, frame)
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
		fmt.Println()
	}
}
