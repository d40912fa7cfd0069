// Package agent is the remote step executor: it lives next to the target
// execution context, receives one step request at a time over the message
// channel and performs it through a Driver.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/replayer/internal/codec"
	"github.com/rahul/replayer/internal/script"
)

// ErrElementNotFound is returned by drivers when no selector candidate
// matches an element.
var ErrElementNotFound = errors.New("element not found")

// Driver is the capability set a backend must provide to replay steps.
// Element-targeting methods receive the primary selector and are expected
// to try selector.Candidates before giving up with ErrElementNotFound.
type Driver interface {
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Wait(ctx context.Context, d time.Duration) error
	// Screenshot returns an opaque reference to the captured image.
	Screenshot(ctx context.Context, name string) (string, error)
	Hover(ctx context.Context, selector string) error
}

// NotFound wraps ErrElementNotFound with the selector that failed.
func NotFound(selector string) error {
	return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitDuration is the suspension a wait step asks for.
func WaitDuration(step script.Step) time.Duration {
	return time.Duration(codec.WaitMillis(step.Value)) * time.Millisecond
}

// Perform runs a single step against d. The returned reference is only set
// for screenshot steps.
func Perform(ctx context.Context, d Driver, step script.Step) (string, error) {
	if err := step.Validate(); err != nil {
		return "", err
	}
	switch step.Action {
	case script.ActionGoto:
		return "", d.Goto(ctx, step.Target)
	case script.ActionClick:
		return "", d.Click(ctx, step.Target)
	case script.ActionFill:
		return "", d.Fill(ctx, step.Target, step.Value)
	case script.ActionType:
		return "", d.Type(ctx, step.Target, step.Value)
	case script.ActionSelect:
		return "", d.Select(ctx, step.Target, step.Value)
	case script.ActionWait:
		return "", d.Wait(ctx, WaitDuration(step))
	case script.ActionScreenshot:
		name := step.Target
		if name == "" {
			name = fmt.Sprintf("step-%d", step.Order)
		}
		return d.Screenshot(ctx, name)
	case script.ActionHover:
		return "", d.Hover(ctx, step.Target)
	}
	return "", fmt.Errorf("unsupported action %q", step.Action)
}
