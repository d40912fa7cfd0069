// Package executor drives a script through an execution context: it opens
// the context, waits for it to load, makes sure the remote step executor is
// present and then dispatches steps one at a time over the message channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rahul/replayer/internal/agent"
	"github.com/rahul/replayer/internal/capability"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/rpc"
	"github.com/rahul/replayer/internal/script"
)

// ExecutionContext is a browsing surface a script is replayed in.
type ExecutionContext interface {
	URL(ctx context.Context) (string, error)
	Ready(ctx context.Context) (bool, error)
	InjectAgent(ctx context.Context) error
	AgentPresent(ctx context.Context) (bool, error)
	Channel() rpc.Channel
	Close() error
}

// Launcher opens execution contexts.
type Launcher interface {
	Open(ctx context.Context, url string) (ExecutionContext, error)
}

// Broker is the part of the capability broker the orchestrator needs.
type Broker interface {
	Detect(ctx context.Context) capability.Status
	CanExecuteCrossContext() bool
	Enable(ctx context.Context, mode capability.Mode, config map[string]any) error
	Disable(ctx context.Context) error
}

// Policy vetoes steps before they are dispatched.
type Policy interface {
	Allow(ctx context.Context, step script.Step) (bool, string)
}

// Metrics observes executions and steps.
type Metrics interface {
	ExecutionStarted()
	ExecutionFinished(outcome string, d time.Duration)
	StepFinished(action, outcome string, d time.Duration)
}

// Progress is called after every transition with the current step number
// (0 before the first step) and the total step count.
type Progress func(current, total int, message string)

// Options configures an Orchestrator. Zero timeouts take their defaults; a
// zero InterStepDelay means no delay.
type Options struct {
	StepTimeout      time.Duration
	InterStepDelay   time.Duration
	LoadTimeout      time.Duration
	LoadPollInterval time.Duration
	AgentTimeout     time.Duration

	Broker  Broker
	Policy  Policy
	Metrics Metrics
	Journal *observability.Logger
	Logger  *log.Logger
}

// DefaultOptions returns the standard time boxes.
func DefaultOptions() Options {
	return Options{
		StepTimeout:      15 * time.Second,
		InterStepDelay:   500 * time.Millisecond,
		LoadTimeout:      15 * time.Second,
		LoadPollInterval: 500 * time.Millisecond,
		AgentTimeout:     5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StepTimeout <= 0 {
		o.StepTimeout = d.StepTimeout
	}
	if o.InterStepDelay < 0 {
		o.InterStepDelay = 0
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = d.LoadTimeout
	}
	if o.LoadPollInterval <= 0 {
		o.LoadPollInterval = d.LoadPollInterval
	}
	if o.AgentTimeout <= 0 {
		o.AgentTimeout = d.AgentTimeout
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Orchestrator runs one execution at a time against contexts opened by its
// Launcher.
type Orchestrator struct {
	launcher Launcher
	opts     Options
	logger   *log.Logger

	mu      sync.Mutex
	state   State
	running bool
	cancel  context.CancelFunc
	current ExecutionContext
}

func New(l Launcher, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		launcher: l,
		opts:     opts,
		logger:   opts.Logger.WithPrefix("executor"),
		state:    StateIdle,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Execute replays sc. Failures are reported in the Result; the error is only
// non-nil when another execution is already running.
func (o *Orchestrator) Execute(ctx context.Context, sc script.Script, progress Progress) (Result, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Result{}, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	prev := o.current
	o.current = nil
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	r := &run{
		o:        o,
		ctx:      runCtx,
		script:   sc,
		steps:    sc.Sorted(),
		sess:     newSession(sc.ID),
		progress: progress,
	}

	if o.opts.Metrics != nil {
		o.opts.Metrics.ExecutionStarted()
	}
	o.opts.Journal.LogExecution(r.sess.id, sc.ID, "start", map[string]any{"name": sc.Name, "steps": len(r.steps)})

	runErr := r.execute(prev)

	// Always de-elevate, even when the caller's context is gone.
	if o.opts.Broker != nil {
		if err := o.opts.Broker.Disable(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("de-elevation failed", "error", err)
		}
	}

	res := r.sess.result(runErr)
	outcome := "success"
	switch {
	case runErr == nil:
		o.setState(StateCompleted)
		r.report(len(r.steps), "Completed")
	case runErr.Kind == KindCancelled:
		outcome = string(runErr.Kind)
		o.setState(StateIdle)
	default:
		outcome = string(runErr.Kind)
		o.setState(StateFailed)
		r.report(runErr.Step, "Failed: "+runErr.Error())
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.ExecutionFinished(outcome, time.Duration(res.DurationMs)*time.Millisecond)
	}
	o.opts.Journal.LogExecution(r.sess.id, sc.ID, "finish", map[string]any{
		"success":     res.Success,
		"error":       res.Error,
		"duration_ms": res.DurationMs,
	})
	o.logger.Info("execution finished", "script", sc.Name, "session", r.sess.id, "success", res.Success, "duration_ms", res.DurationMs)
	return res, nil
}

// Stop cancels the in-flight execution and closes its context.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	ec := o.current
	o.current = nil
	o.state = StateStopping
	// Cancelled under the lock so a context opened concurrently is either
	// seen here or closed by the run before it is published.
	if cancel != nil {
		cancel()
	}
	o.mu.Unlock()

	if ec != nil {
		if err := ec.Close(); err != nil {
			o.logger.Warn("closing execution context", "error", err)
		}
	}
	o.setState(StateIdle)
}

// Close releases the context kept open after the last execution.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	ec := o.current
	o.current = nil
	o.mu.Unlock()
	if ec == nil {
		return nil
	}
	return ec.Close()
}

// run holds the state of one Execute call.
type run struct {
	o        *Orchestrator
	ctx      context.Context
	script   script.Script
	steps    []script.Step
	sess     *session
	progress Progress
}

func (r *run) report(current int, msg string) {
	if r.progress != nil {
		r.progress(current, len(r.steps), msg)
	}
}

func (r *run) cancelled(step int) *Error {
	return newError(KindCancelled, step, context.Cause(r.ctx))
}

func (r *run) execute(prev ExecutionContext) *Error {
	o := r.o
	logger := o.logger.With("session", r.sess.id)

	// Launching
	o.setState(StateLaunching)
	r.report(0, "Launching execution context")
	if prev != nil {
		if err := prev.Close(); err != nil {
			logger.Warn("closing previous context", "error", err)
		}
	}
	r.elevate(logger)

	ec, err := o.launcher.Open(r.ctx, startURL(r.script, r.steps))
	if err != nil {
		if r.ctx.Err() != nil {
			return r.cancelled(0)
		}
		return newError(KindContextUnavailable, 0, err)
	}
	o.mu.Lock()
	if r.ctx.Err() != nil {
		o.mu.Unlock()
		if err := ec.Close(); err != nil {
			logger.Warn("closing execution context", "error", err)
		}
		return r.cancelled(0)
	}
	o.current = ec
	o.mu.Unlock()

	// AwaitingLoad
	o.setState(StateAwaitingLoad)
	r.report(0, "Waiting for page load")
	ready, err := poll(r.ctx, o.opts.LoadTimeout, o.opts.LoadPollInterval, ec.Ready)
	if err != nil {
		return r.cancelled(0)
	}
	if !ready {
		logger.Warn("page not ready, continuing", "timeout", o.opts.LoadTimeout)
		r.sess.logf("Warning: page not ready after %s, continuing", o.opts.LoadTimeout)
	}

	// VerifyingCapability
	o.setState(StateVerifyingCapability)
	r.report(0, "Verifying step executor")
	if err := ec.InjectAgent(r.ctx); err != nil {
		logger.Warn("step executor injection failed", "error", err)
	}
	present, err := poll(r.ctx, o.opts.AgentTimeout, o.opts.LoadPollInterval, ec.AgentPresent)
	if err != nil {
		return r.cancelled(0)
	}
	if !present {
		logger.Warn("step executor not detected, continuing", "timeout", o.opts.AgentTimeout)
		r.sess.logf("Warning: step executor not detected after %s, continuing", o.opts.AgentTimeout)
	}

	// Running
	o.setState(StateRunning)
	return r.runSteps(ec, logger)
}

// elevate asks the broker for an execution session. Lack of capability is
// only a warning.
func (r *run) elevate(logger *log.Logger) {
	b := r.o.opts.Broker
	if b == nil {
		return
	}
	b.Detect(r.ctx)
	if !b.CanExecuteCrossContext() {
		logger.Warn("cross-context execution unavailable, running in baseline mode",
			"kind", KindCapabilityUnavailable)
		r.o.opts.Journal.LogCapability(false, false, "baseline")
		return
	}
	if err := b.Enable(r.ctx, capability.ModeExecution, map[string]any{"url": r.script.BaseURL}); err != nil {
		logger.Warn("elevation refused, running in baseline mode", "kind", KindCapabilityUnavailable, "error", err)
		r.o.opts.Journal.LogCapability(true, false, "baseline")
		return
	}
	r.o.opts.Journal.LogCapability(true, true, string(capability.ModeExecution))
}

func (r *run) runSteps(ec ExecutionContext, logger *log.Logger) *Error {
	o := r.o
	total := len(r.steps)
	current, err := ec.URL(r.ctx)
	if err != nil {
		logger.Debug("current URL unavailable", "error", err)
	}
	sawGoto := false

	for i, step := range r.steps {
		n := i + 1
		if r.ctx.Err() != nil {
			return r.cancelled(n)
		}

		if step.Action == script.ActionGoto && !sawGoto {
			sawGoto = true
			if sameURL(current, step.Target) {
				r.sess.logf("Step %d: skipped goto %s (already loaded)", n, step.Target)
				o.opts.Journal.LogStep(r.sess.id, r.script.ID, n, string(step.Action), step.Target, "skipped", 0)
				if o.opts.Metrics != nil {
					o.opts.Metrics.StepFinished(string(step.Action), "skipped", 0)
				}
				r.report(n, fmt.Sprintf("Step %d/%d: skipped goto", n, total))
				continue
			}
		}

		if o.opts.Policy != nil {
			if ok, reason := o.opts.Policy.Allow(r.ctx, step); !ok {
				r.sess.logf("Step %d: %s %s denied: %s", n, step.Action, step.Target, reason)
				return newError(KindPolicyDenied, n, errors.New(reason))
			}
		}

		r.report(n, fmt.Sprintf("Step %d/%d: %s %s", n, total, step.Action, step.Target))
		started := time.Now()
		resp, stepErr := r.dispatch(ec.Channel(), n, step)
		elapsed := time.Since(started)

		status := "ok"
		if stepErr != nil {
			status = string(stepErr.Kind)
		}
		o.opts.Journal.LogStep(r.sess.id, r.script.ID, n, string(step.Action), step.Target, status, elapsed.Milliseconds())
		if o.opts.Metrics != nil {
			o.opts.Metrics.StepFinished(string(step.Action), status, elapsed)
		}

		if stepErr != nil {
			if stepErr.Kind != KindCancelled {
				r.sess.logf("Step %d: %s %s failed: %v", n, step.Action, step.Target, stepErr.Err)
				logger.Error("step failed", "step", n, "action", step.Action, "target", step.Target, "error", stepErr.Err)
			}
			return stepErr
		}

		if resp.Screenshot != "" {
			r.sess.screenshots = append(r.sess.screenshots, resp.Screenshot)
		}
		r.sess.logf("Step %d: %s %s ok", n, step.Action, step.Target)
		logger.Debug("step done", "step", n, "action", step.Action, "elapsed", elapsed)

		if i < total-1 && o.opts.InterStepDelay > 0 {
			if err := agent.Sleep(r.ctx, o.opts.InterStepDelay); err != nil {
				return r.cancelled(n)
			}
		}
	}
	return nil
}

// dispatch posts one step request and waits for the matching response.
func (r *run) dispatch(ch rpc.Channel, n int, step script.Step) (rpc.Response, *Error) {
	timeout := r.o.opts.StepTimeout
	if step.Action == script.ActionWait {
		timeout += agent.WaitDuration(step)
	}

	req, err := rpc.NewRequest(r.sess.id, n, step)
	if err != nil {
		return rpc.Response{}, newError(KindStepFailed, n, err)
	}
	data, err := rpc.Encode(req)
	if err != nil {
		return rpc.Response{}, newError(KindStepFailed, n, err)
	}

	replies := make(chan rpc.Response, 1)
	unsubscribe := ch.Subscribe(func(msg []byte) {
		decoded, err := rpc.Decode(msg)
		if err != nil {
			return
		}
		resp, ok := decoded.(*rpc.Response)
		if !ok || !resp.Matches(r.sess.id, n) {
			return
		}
		select {
		case replies <- *resp:
		default:
		}
	})
	defer unsubscribe()

	if err := ch.Post(data); err != nil {
		if r.ctx.Err() != nil {
			return rpc.Response{}, r.cancelled(n)
		}
		return rpc.Response{}, newError(KindContextUnavailable, n, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-replies:
		if r.ctx.Err() != nil {
			return rpc.Response{}, r.cancelled(n)
		}
		if resp.Success {
			return resp, nil
		}
		kind := KindStepFailed
		if resp.Reason == rpc.ReasonElementNotFound {
			kind = KindElementNotFound
		}
		return resp, newError(kind, n, errors.New(resp.Error))
	case <-timer.C:
		return rpc.Response{}, newError(KindStepTimeout, n, fmt.Errorf("no response within %s", timeout))
	case <-r.ctx.Done():
		return rpc.Response{}, r.cancelled(n)
	}
}

// poll calls check every interval until it reports true, timeout elapses
// or ctx is done. Check errors count as "not yet".
func poll(ctx context.Context, timeout, interval time.Duration, check func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if ok, err := check(ctx); err == nil && ok {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := agent.Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}

// startURL is where the context is opened: the script's base URL, or the
// first navigation target.
func startURL(sc script.Script, steps []script.Step) string {
	if sc.BaseURL != "" {
		return sc.BaseURL
	}
	for _, s := range steps {
		if s.Action == script.ActionGoto {
			return s.Target
		}
	}
	return "about:blank"
}

func sameURL(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
