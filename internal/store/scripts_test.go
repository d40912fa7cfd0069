package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/replayer/internal/codec"
	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/script"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*ScriptStore, *clock) {
	t.Helper()
	s, err := NewScriptStore(filepath.Join(t.TempDir(), "nested", "replayer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func loginScript() script.Script {
	return script.Script{
		Name:    "Login",
		BaseURL: "https://app.example/login",
		Tags:    []string{"auth", "smoke"},
		Owner:   "qa",
		Steps: []script.Step{
			{Action: script.ActionClick, Target: "#submit", Order: 2},
			{Action: script.ActionGoto, Target: "https://app.example/login", Order: 0},
			{Action: script.ActionFill, Target: "#email", Value: "a@b.c", Order: 1},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	s, c := newTestStore(t)

	id, err := s.Create(loginScript())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Login", got.Name)
	assert.Equal(t, script.StatusDraft, got.Status)
	assert.Equal(t, []string{"auth", "smoke"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(c.t))
	assert.Nil(t, got.LastExecutedAt)

	require.Len(t, got.Steps, 3)
	for i, step := range got.Steps {
		assert.Equal(t, i, step.Order)
		assert.NotEmpty(t, step.ID)
	}
	assert.Equal(t, script.ActionGoto, got.Steps[0].Action)
	assert.Equal(t, script.ActionClick, got.Steps[2].Action)

	code, err := s.Code(id)
	require.NoError(t, err)
	assert.Equal(t, codec.EncodeScript(got), code)
}

func TestCreateRejectsInvalidScripts(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Create(script.Script{})
	assert.ErrorContains(t, err, "name is required")

	_, err = s.Create(script.Script{
		Name:  "broken",
		Steps: []script.Step{{Action: script.ActionClick}},
	})
	assert.ErrorContains(t, err, "requires a target")
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Code("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.IncrementExecutionCount("nope"), ErrNotFound)
}

func TestListFilters(t *testing.T) {
	s, c := newTestStore(t)

	login := loginScript()
	loginID, err := s.Create(login)
	require.NoError(t, err)

	c.advance(time.Minute)
	checkout := script.Script{Name: "Checkout", Tags: []string{"smoke"}, Owner: "ops", Status: script.StatusActive}
	checkoutID, err := s.Create(checkout)
	require.NoError(t, err)

	all, err := s.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, checkoutID, all[0].ID, "most recently updated first")

	byTag, err := s.List(Filter{Tag: "auth"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, loginID, byTag[0].ID)

	byOwner, err := s.List(Filter{Owner: "ops"})
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	assert.Equal(t, checkoutID, byOwner[0].ID)

	byStatus, err := s.List(Filter{Status: script.StatusActive, Tag: "smoke"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "Checkout", byStatus[0].Name)

	none, err := s.List(Filter{Tag: "missing"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdate(t *testing.T) {
	s, c := newTestStore(t)

	id, err := s.Create(loginScript())
	require.NoError(t, err)
	c.advance(time.Hour)

	name := "Login v2"
	status := script.StatusActive
	steps := []script.Step{{Action: script.ActionGoto, Target: "https://app.example/", Order: 0}}
	updated, err := s.Update(id, Patch{Name: &name, Status: &status, Steps: &steps})
	require.NoError(t, err)
	assert.Equal(t, "Login v2", updated.Name)
	assert.True(t, updated.UpdatedAt.Equal(c.t))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Login v2", got.Name)
	assert.Equal(t, script.StatusActive, got.Status)
	assert.Equal(t, "qa", got.Owner, "untouched fields survive")
	require.Len(t, got.Steps, 1)
	assert.NotEmpty(t, got.Steps[0].ID)

	code, err := s.Code(id)
	require.NoError(t, err)
	assert.Contains(t, code, "https://app.example/")
	assert.NotContains(t, code, "#submit")

	bad := script.Status("deleted")
	_, err = s.Update(id, Patch{Status: &bad})
	assert.ErrorContains(t, err, "unknown script status")

	_, err = s.Update("nope", Patch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesHistory(t *testing.T) {
	s, c := newTestStore(t)

	id, err := s.Create(loginScript())
	require.NoError(t, err)
	_, err = s.SaveExecution(ExecutionRecord{ScriptID: id, Success: true, StartedAt: c.t})
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(id), ErrNotFound)

	runs, err := s.ListExecutions(id, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestIncrementExecutionCount(t *testing.T) {
	s, c := newTestStore(t)

	id, err := s.Create(loginScript())
	require.NoError(t, err)

	require.NoError(t, s.IncrementExecutionCount(id))
	c.advance(time.Minute)
	require.NoError(t, s.IncrementExecutionCount(id))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ExecutionCount)
	require.NotNil(t, got.LastExecutedAt)
	assert.True(t, got.LastExecutedAt.Equal(c.t))
}

func TestDueScripts(t *testing.T) {
	s, c := newTestStore(t)

	scheduled := loginScript()
	scheduled.Status = script.StatusActive
	scheduled.ScheduleSeconds = 60
	dueID, err := s.Create(scheduled)
	require.NoError(t, err)

	draft := loginScript()
	draft.Name = "Draft"
	draft.ScheduleSeconds = 60
	_, err = s.Create(draft)
	require.NoError(t, err)

	manual := loginScript()
	manual.Name = "Manual"
	manual.Status = script.StatusActive
	_, err = s.Create(manual)
	require.NoError(t, err)

	due, err := s.DueScripts()
	require.NoError(t, err)
	require.Len(t, due, 1, "never run scripts are due at once")
	assert.Equal(t, dueID, due[0].ID)

	require.NoError(t, s.IncrementExecutionCount(dueID))
	c.advance(30 * time.Second)
	due, err = s.DueScripts()
	require.NoError(t, err)
	assert.Empty(t, due)

	c.advance(30 * time.Second)
	due, err = s.DueScripts()
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestExecutions(t *testing.T) {
	s, c := newTestStore(t)

	id, err := s.Create(loginScript())
	require.NoError(t, err)

	start := c.t
	ok := executor.Result{Success: true, Output: "Step 1: goto ok", DurationMs: 120, SessionID: "s-1", Screenshots: []string{"/tmp/a.png"}}
	_, err = s.SaveExecution(NewExecutionRecord(id, "schedule", ok, start))
	require.NoError(t, err)

	failed := executor.Result{
		Error:      "element not found: #submit",
		ErrorKind:  executor.KindElementNotFound,
		FailedStep: 3,
		SessionID:  "s-2",
	}
	recID, err := s.SaveExecution(NewExecutionRecord(id, "", failed, start.Add(time.Minute)))
	require.NoError(t, err)
	assert.Positive(t, recID)

	runs, err := s.ListExecutions(id, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	latest := runs[0]
	assert.Equal(t, recID, latest.ID)
	assert.False(t, latest.Success)
	assert.Equal(t, executor.KindElementNotFound, latest.ErrorKind)
	assert.Equal(t, 3, latest.FailedStep)
	assert.Equal(t, "manual", latest.Trigger)
	assert.Empty(t, latest.Screenshots)

	first := runs[1]
	assert.True(t, first.Success)
	assert.Equal(t, "schedule", first.Trigger)
	assert.Equal(t, "s-1", first.SessionID)
	assert.Equal(t, []string{"/tmp/a.png"}, first.Screenshots)
	assert.Equal(t, int64(120), first.DurationMs)
	assert.True(t, first.StartedAt.Equal(start))

	limited, err := s.ListExecutions(id, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, recID, limited[0].ID)
}

func TestFind(t *testing.T) {
	s, _ := newTestStore(t)

	loginID, err := s.Create(loginScript())
	require.NoError(t, err)
	other := loginScript()
	other.Name = "Signup"
	_, err = s.Create(other)
	require.NoError(t, err)

	got, err := Find(s, loginID)
	require.NoError(t, err)
	assert.Equal(t, loginID, got.ID)

	got, err = Find(s, loginID[:8])
	require.NoError(t, err)
	assert.Equal(t, "Login", got.Name)

	got, err = Find(s, "Signup")
	require.NoError(t, err)
	assert.Equal(t, "Signup", got.Name)

	_, err = Find(s, "Checkout")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Find(s, "")
	assert.ErrorContains(t, err, "matches 2 scripts")
}
