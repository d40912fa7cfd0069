package agent_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/replayer/internal/agent"
	"github.com/rahul/replayer/internal/agent/agenttest"
	"github.com/rahul/replayer/internal/rpc"
	"github.com/rahul/replayer/internal/script"
)

func quietLogger() *log.Logger { return log.New(io.Discard) }

type responses struct {
	mu   sync.Mutex
	list []rpc.Response
}

func (r *responses) listen(ch rpc.Channel) func() {
	return ch.Subscribe(func(data []byte) {
		msg, err := rpc.Decode(data)
		if err != nil {
			return
		}
		if resp, ok := msg.(*rpc.Response); ok {
			r.mu.Lock()
			r.list = append(r.list, *resp)
			r.mu.Unlock()
		}
	})
}

func (r *responses) all() []rpc.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rpc.Response(nil), r.list...)
}

func post(t *testing.T, ch rpc.Channel, n int, step script.Step) {
	t.Helper()
	req, err := rpc.NewRequest("sess-1", n, step)
	require.NoError(t, err)
	data, err := rpc.Encode(req)
	require.NoError(t, err)
	require.NoError(t, ch.Post(data))
}

func TestExecutorAnswersEachRequest(t *testing.T) {
	bus := rpc.NewBus()
	driver := agenttest.NewDriver("https://x/login", "#user", "#submit")
	exec := agent.NewExecutor(driver, bus, quietLogger())
	exec.Start(context.Background())
	defer exec.Stop()
	require.True(t, exec.Running())

	var got responses
	defer got.listen(bus)()

	post(t, bus, 1, script.Step{Action: script.ActionFill, Target: "#user", Value: "admin"})
	post(t, bus, 2, script.Step{Action: script.ActionClick, Target: "#missing"})
	post(t, bus, 3, script.Step{Action: script.ActionScreenshot})

	require.Eventually(t, func() bool { return len(got.all()) == 3 }, time.Second, 5*time.Millisecond)
	all := got.all()

	assert.True(t, all[0].Success)
	assert.True(t, all[0].Matches("sess-1", 1))
	assert.Equal(t, "admin", driver.Value("#user"))

	assert.False(t, all[1].Success)
	assert.Equal(t, rpc.ReasonElementNotFound, all[1].Reason)
	assert.Contains(t, all[1].Error, "#missing")

	assert.True(t, all[2].Success)
	assert.Equal(t, "mem://step-0-1.png", all[2].Screenshot)
}

func TestExecutorUsesAlternateSelectors(t *testing.T) {
	driver := agenttest.NewDriver("about:blank", `[name="q"]`)
	_, err := agent.Perform(context.Background(), driver, script.Step{Action: script.ActionHover, Target: "#q"})
	require.NoError(t, err)
	assert.Equal(t, []agenttest.Call{{Method: "hover", Selector: `[name="q"]`}}, driver.Calls())
}

func TestExecutorRejectsInvalidStep(t *testing.T) {
	bus := rpc.NewBus()
	exec := agent.NewExecutor(agenttest.NewDriver("about:blank"), bus, quietLogger())
	exec.Start(context.Background())
	defer exec.Stop()

	var got responses
	defer got.listen(bus)()

	require.NoError(t, bus.Post([]byte(`{"kind":"step","sessionId":"s","stepNumber":1,"code":"{not json"}`)))
	post(t, bus, 2, script.Step{Action: script.ActionClick})

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, time.Second, 5*time.Millisecond)
	for _, r := range got.all() {
		assert.False(t, r.Success)
		assert.Equal(t, rpc.ReasonInvalidStep, r.Reason)
	}
}

func TestExecutorStopIgnoresLaterRequests(t *testing.T) {
	bus := rpc.NewBus()
	driver := agenttest.NewDriver("about:blank", "#a")
	exec := agent.NewExecutor(driver, bus, quietLogger())
	exec.Start(context.Background())
	exec.Stop()
	assert.False(t, exec.Running())

	post(t, bus, 1, script.Step{Action: script.ActionClick, Target: "#a"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, driver.Calls())
}

func TestPerformWaitDefaultsAndCancels(t *testing.T) {
	driver := agenttest.NewDriver("about:blank")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := agent.Perform(ctx, driver, script.Step{Action: script.ActionWait})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "1s", driver.Calls()[0].Value)
}
