package observability

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// EventType defines the category of the journal event.
type EventType string

const (
	EventTypeExecution  EventType = "execution"
	EventTypeStep       EventType = "step"
	EventTypeCapability EventType = "capability"
	EventTypeRecording  EventType = "recording"
	EventTypeSchedule   EventType = "schedule"
	EventTypeHeartbeat  EventType = "heartbeat"
)

// Event represents a structured journal entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	ScriptID  string    `json:"script_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConsole builds the operational logger. Level is one of debug, info,
// warn or error; anything else means info.
func NewConsole(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
	switch strings.ToLower(level) {
	case "debug", "trace":
		logger.SetLevel(log.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

// Discard returns a console logger that writes nowhere.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// Logger writes the execution journal: one JSON event per line, mirrored
// to the console logger at debug level.
type Logger struct {
	console     *log.Logger
	journalPath string
	maxSize     int64
	mu          sync.Mutex
}

// NewLogger journals to journalPath; an empty path keeps events on the
// console only.
func NewLogger(console *log.Logger, journalPath string) *Logger {
	if console == nil {
		console = Discard()
	}
	return &Logger{
		console:     console,
		journalPath: journalPath,
		maxSize:     10 * 1024 * 1024, // 10MB
	}
}

// Console returns the operational logger backing the journal.
func (l *Logger) Console() *log.Logger {
	if l == nil {
		return Discard()
	}
	return l.console
}

// Log records evt. A nil Logger drops it.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		l.console.Error("failed to marshal event", "type", evt.Type, "error", err)
		return
	}
	l.console.Debug(string(evt.Type), "session", evt.SessionID, "data", evt.Data)

	if l.journalPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.journalPath), 0755); err != nil {
		l.console.Warn("failed to create journal directory", "error", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.journalPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotate()
	}

	f, err := os.OpenFile(l.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.console.Warn("failed to open journal", "path", l.journalPath, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.console.Warn("failed to write journal", "error", err)
	}
}

func (l *Logger) rotate() {
	// keep one .old file
	oldPath := l.journalPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.journalPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogExecution(sessionID, scriptID, phase string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["phase"] = phase
	l.Log(Event{Type: EventTypeExecution, SessionID: sessionID, ScriptID: scriptID, Data: data})
}

func (l *Logger) LogStep(sessionID, scriptID string, stepNumber int, action, target, status string, durationMs int64) {
	l.Log(Event{
		Type:      EventTypeStep,
		SessionID: sessionID,
		ScriptID:  scriptID,
		Data: map[string]any{
			"step":        stepNumber,
			"action":      action,
			"target":      target,
			"status":      status,
			"duration_ms": durationMs,
		},
	})
}

func (l *Logger) LogCapability(installed, enabled bool, mode string) {
	l.Log(Event{
		Type: EventTypeCapability,
		Data: map[string]any{
			"installed": installed,
			"enabled":   enabled,
			"mode":      mode,
		},
	})
}

func (l *Logger) LogRecording(phase string, events int) {
	l.Log(Event{
		Type: EventTypeRecording,
		Data: map[string]any{"phase": phase, "events": events},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}
