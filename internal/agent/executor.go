package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/rahul/replayer/internal/rpc"
)

// Executor answers step requests posted on a channel.
type Executor struct {
	driver Driver
	ch     rpc.Channel
	logger *log.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
}

func NewExecutor(driver Driver, ch rpc.Channel, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{driver: driver, ch: ch, logger: logger.WithPrefix("agent")}
}

// Start subscribes to the channel. Calling Start on a running executor is a
// no-op. The executor stops when ctx is done or Stop is called.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub != nil {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.unsub = e.ch.Subscribe(e.handle)
	e.logger.Debug("listening for step requests")
}

// Running reports whether the executor is subscribed.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsub != nil && e.ctx.Err() == nil
}

func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsub == nil {
		return
	}
	e.unsub()
	e.cancel()
	e.unsub = nil
}

func (e *Executor) handle(data []byte) {
	msg, err := rpc.Decode(data)
	if err != nil {
		e.logger.Warn("ignoring undecodable message", "error", err)
		return
	}
	req, ok := msg.(*rpc.Request)
	if !ok {
		return
	}

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	resp := e.run(ctx, req)
	out, err := rpc.Encode(resp)
	if err != nil {
		e.logger.Error("encode response", "step", req.StepNumber, "error", err)
		return
	}
	if err := e.ch.Post(out); err != nil {
		e.logger.Warn("post response", "step", req.StepNumber, "error", err)
	}
}

func (e *Executor) run(ctx context.Context, req *rpc.Request) rpc.Response {
	resp := rpc.Response{Kind: rpc.KindResult, SessionID: req.SessionID, StepNumber: req.StepNumber}

	step, err := req.Step()
	if err != nil {
		resp.Error = err.Error()
		resp.Reason = rpc.ReasonInvalidStep
		return resp
	}

	e.logger.Debug("performing step", "step", req.StepNumber, "action", step.Action, "target", step.Target)
	ref, err := Perform(ctx, e.driver, step)
	if err != nil {
		resp.Error = err.Error()
		resp.Reason = rpc.ReasonActionFailed
		if errors.Is(err, ErrElementNotFound) {
			resp.Reason = rpc.ReasonElementNotFound
		} else if step.Validate() != nil {
			resp.Reason = rpc.ReasonInvalidStep
		}
		return resp
	}
	resp.Success = true
	resp.Screenshot = ref
	return resp
}
