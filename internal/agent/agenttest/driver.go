// Package agenttest provides an in-memory Driver for tests.
package agenttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rahul/replayer/internal/agent"
	"github.com/rahul/replayer/internal/selector"
)

// Call records one driver invocation.
type Call struct {
	Method   string
	Selector string // the candidate that matched, or the URL for Goto
	Value    string
}

// Driver simulates a page with a fixed set of matching selectors.
type Driver struct {
	mu       sync.Mutex
	url      string
	present  map[string]bool
	values   map[string]string
	calls    []Call
	shots    int
	Delay    time.Duration // added to every element action
	FailWith error         // returned by every action when set
}

// NewDriver starts at url with the given selectors resolvable.
func NewDriver(url string, selectors ...string) *Driver {
	d := &Driver{url: url, present: map[string]bool{}, values: map[string]string{}}
	for _, s := range selectors {
		d.present[s] = true
	}
	return d
}

func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Calls returns a copy of the recorded invocations.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Value returns the last value written to the element matched by sel.
func (d *Driver) Value(sel string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[sel]
}

func (d *Driver) find(ctx context.Context, sel string) (string, error) {
	if err := agent.Sleep(ctx, d.Delay); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailWith != nil {
		return "", d.FailWith
	}
	for _, c := range selector.Candidates(sel) {
		if d.present[c] {
			return c, nil
		}
	}
	return "", agent.NotFound(sel)
}

func (d *Driver) record(c Call) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
}

func (d *Driver) Goto(ctx context.Context, url string) error {
	d.mu.Lock()
	d.url = url
	d.calls = append(d.calls, Call{Method: "goto", Selector: url})
	d.mu.Unlock()
	return nil
}

func (d *Driver) Click(ctx context.Context, sel string) error {
	m, err := d.find(ctx, sel)
	if err != nil {
		return err
	}
	d.record(Call{Method: "click", Selector: m})
	return nil
}

func (d *Driver) fill(ctx context.Context, method, sel, value string) error {
	m, err := d.find(ctx, sel)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.values[m] = value
	d.mu.Unlock()
	d.record(Call{Method: method, Selector: m, Value: value})
	return nil
}

func (d *Driver) Fill(ctx context.Context, sel, value string) error {
	return d.fill(ctx, "fill", sel, value)
}

func (d *Driver) Type(ctx context.Context, sel, value string) error {
	return d.fill(ctx, "type", sel, value)
}

func (d *Driver) Select(ctx context.Context, sel, value string) error {
	return d.fill(ctx, "select", sel, value)
}

func (d *Driver) Wait(ctx context.Context, dur time.Duration) error {
	d.record(Call{Method: "wait", Value: dur.String()})
	return agent.Sleep(ctx, dur)
}

func (d *Driver) Screenshot(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	d.shots++
	ref := fmt.Sprintf("mem://%s-%d.png", name, d.shots)
	d.calls = append(d.calls, Call{Method: "screenshot", Value: ref})
	d.mu.Unlock()
	return ref, nil
}

func (d *Driver) Hover(ctx context.Context, sel string) error {
	m, err := d.find(ctx, sel)
	if err != nil {
		return err
	}
	d.record(Call{Method: "hover", Selector: m})
	return nil
}
