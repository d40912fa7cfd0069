package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/store"
)

func TestFormatReport(t *testing.T) {
	sc := script.Script{Name: "login_flow"}

	ok := FormatReport(sc, executor.Result{
		Success:     true,
		DurationMs:  2500,
		Output:      "Step 1: skipped goto https://a.example (already loaded)\nStep 2: click #go ok",
		Screenshots: []string{"/tmp/a.png"},
	})
	assert.True(t, strings.HasPrefix(ok, `✅ *login\_flow* passed in 2.5s`))
	assert.Contains(t, ok, "Step 2: click #go ok")
	assert.Contains(t, ok, "1 screenshot(s) saved")

	failed := FormatReport(sc, executor.Result{
		Error:      "element not found: #go",
		ErrorKind:  executor.KindElementNotFound,
		FailedStep: 2,
		DurationMs: 40,
	})
	assert.Contains(t, failed, "failed at step 2 (ElementNotFound)")
	assert.Contains(t, failed, "element not found: #go")
	assert.NotContains(t, failed, "```")
}

func TestFormatReportTruncatesOutput(t *testing.T) {
	long := strings.Repeat("x", maxReportOutput+500)
	out := FormatReport(script.Script{Name: "big"}, executor.Result{Success: true, Output: long})
	assert.Less(t, len(out), maxReportOutput+200)
	assert.Contains(t, out, "…")
}

type fakeScripts struct {
	scripts []script.Script
}

func (f *fakeScripts) List(flt store.Filter) ([]script.Script, error) {
	var out []script.Script
	for _, sc := range f.scripts {
		if flt.Tag == "" || sc.HasTag(flt.Tag) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (f *fakeScripts) Get(id string) (script.Script, error) {
	for _, sc := range f.scripts {
		if sc.ID == id {
			return sc, nil
		}
	}
	return script.Script{}, store.ErrNotFound
}

func newCommands() (*Commands, *[]string) {
	var ran []string
	c := &Commands{
		Scripts: &fakeScripts{scripts: []script.Script{
			{ID: "aaaa1111-0000", Name: "Login", Status: script.StatusActive, Tags: []string{"auth"}},
			{ID: "bbbb2222-0000", Name: "Checkout", Status: script.StatusDraft},
			{ID: "bbbb3333-0000", Name: "Search", Status: script.StatusDraft},
		}},
		Run: func(ctx context.Context, sc script.Script) (executor.Result, error) {
			ran = append(ran, sc.ID)
			if sc.Name == "Search" {
				return executor.Result{}, executor.ErrBusy
			}
			return executor.Result{Success: true, DurationMs: 10}, nil
		},
	}
	return c, &ran
}

func TestCommands(t *testing.T) {
	c, ran := newCommands()
	ctx := context.Background()

	list := c.Handle(ctx, "1", "/list")
	assert.Contains(t, list, "aaaa1111  Login  [active] 0 steps")
	assert.Contains(t, list, "Checkout")

	tagged := c.Handle(ctx, "1", "/list@replayer_bot auth")
	assert.Contains(t, tagged, "Login")
	assert.NotContains(t, tagged, "Checkout")

	assert.Contains(t, c.Handle(ctx, "1", "/run Login"), "passed in 10ms")
	assert.Contains(t, c.Handle(ctx, "1", "/run aaaa1111-0000"), "passed")
	assert.Contains(t, c.Handle(ctx, "1", "/run bbbb2"), "Checkout")
	assert.Contains(t, c.Handle(ctx, "1", "/run bbbb"), "matches 2 scripts")
	assert.Contains(t, c.Handle(ctx, "1", "/run Search"), "another script is running")
	assert.Contains(t, c.Handle(ctx, "1", "/run nope"), "script not found")
	assert.Equal(t, "usage: /run <id or name>", c.Handle(ctx, "1", "/run"))
	assert.Equal(t, []string{"aaaa1111-0000", "aaaa1111-0000", "bbbb2222-0000", "bbbb3333-0000"}, *ran)

	assert.Equal(t, helpText, c.Handle(ctx, "1", "/help"))
	assert.Contains(t, c.Handle(ctx, "1", "/fly"), "unknown command /fly")
	assert.Empty(t, c.Handle(ctx, "1", "hello there"))
	assert.Empty(t, c.Handle(ctx, "1", "   "))
}
