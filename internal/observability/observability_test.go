package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "journal.jsonl")
	l := NewLogger(Discard(), path)

	l.LogExecution("sess-1", "script-1", "launching", nil)
	l.LogStep("sess-1", "script-1", 2, "fill", "#user", "ok", 12)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var evt Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		events = append(events, evt)
	}
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeExecution, events[0].Type)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.Equal(t, EventTypeStep, events[1].Type)
	assert.Equal(t, "#user", events[1].Data.(map[string]any)["target"])
	assert.False(t, events[1].Timestamp.IsZero())
}

func TestJournalRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	l := NewLogger(Discard(), path)
	l.maxSize = 64

	for i := 0; i < 5; i++ {
		l.LogHeartbeat()
	}

	_, err := os.Stat(path + ".old")
	assert.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(256))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.LogHeartbeat() })
	assert.NotNil(t, l.Console())
}

func TestConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, "warn")
	c.Info("hidden")
	c.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "key=value")
}

func TestStatusBoard(t *testing.T) {
	b := NewStatusBoard()
	b.SetMode(ModeRunning, "checkout flow")
	b.SetProgress(2, 4, "")

	s := b.Snapshot()
	assert.Equal(t, ModeRunning, s.Mode)
	assert.Equal(t, "checkout flow", s.ActiveTask)
	assert.Equal(t, 2, s.Step)

	line := FormatStatus(s, 1, s.LastHeartbeat.Add(time.Second))
	assert.Contains(t, line, "HEALTHY")
	assert.Contains(t, line, "2/4")
	assert.Contains(t, line, radarFrames[1])

	stale := FormatStatus(s, 0, s.LastHeartbeat.Add(2*time.Minute))
	assert.Contains(t, stale, "OFFLINE")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, strings.Repeat("▒", 10), ProgressBar(0, 0, 10))
	assert.Equal(t, strings.Repeat("█", 5)+strings.Repeat("▒", 5), ProgressBar(1, 2, 10))
	assert.Equal(t, strings.Repeat("█", 10), ProgressBar(7, 3, 10))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	again := MustNewMetrics(reg)

	m.ExecutionStarted()
	m.StepFinished("click", "ok", 20*time.Millisecond)
	again.StepFinished("click", "ok", 10*time.Millisecond)
	m.ExecutionFinished("success", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps.WithLabelValues("click", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "replayer_executor_steps_total")
}
