// Package recorder captures user interactions in a browsing context and
// turns them into an ordered step list.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/replayer/internal/capability"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/selector"
)

var (
	ErrAlreadyRecording = errors.New("recorder: already recording")
	ErrNotRecording     = errors.New("recorder: not recording")
)

// EventKind is the kind of a captured interaction.
type EventKind string

const (
	KindClick      EventKind = "click"
	KindFill       EventKind = "fill"
	KindNavigate   EventKind = "navigate"
	KindTabOpened  EventKind = "tab_opened"
	KindWait       EventKind = "wait"
	KindScreenshot EventKind = "screenshot"
)

// RawEvent is what an EventSource reports. Element is nil for navigations.
type RawEvent struct {
	Kind      EventKind
	Element   *selector.Descriptor
	Value     string
	URL       string
	Timestamp time.Time
}

// RecordedEvent is a captured interaction with its resolved selector.
type RecordedEvent struct {
	Kind        EventKind `json:"kind"`
	Selector    string    `json:"selector,omitempty"`
	Value       string    `json:"value,omitempty"`
	ContextURL  string    `json:"contextUrl,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description,omitempty"`
	tag         string
}

// Scope tells an EventSource how far to listen.
type Scope struct {
	// CrossContext also observes other tabs and frames.
	CrossContext bool
}

// EventSource attaches capture listeners to a browsing context.
type EventSource interface {
	Attach(ctx context.Context, scope Scope, fn func(RawEvent)) (detach func() error, err error)
}

// Broker is the part of the capability broker the recorder needs.
type Broker interface {
	Detect(ctx context.Context) capability.Status
	CanRecordCrossTab() bool
	Enable(ctx context.Context, mode capability.Mode, config map[string]any) error
	Disable(ctx context.Context) error
}

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

type Options struct {
	Broker  Broker
	Journal *observability.Logger
	Logger  *log.Logger
}

// Recorder buffers interactions between Start and Stop.
type Recorder struct {
	source  EventSource
	broker  Broker
	journal *observability.Logger
	logger  *log.Logger
	strip   *bluemonday.Policy
	now     func() time.Time

	mu     sync.Mutex
	state  State
	events []RecordedEvent
	detach func() error
	scope  Scope
}

func New(source EventSource, opts Options) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		source:  source,
		broker:  opts.Broker,
		journal: opts.Journal,
		logger:  logger.WithPrefix("recorder"),
		strip:   bluemonday.StrictPolicy(),
		now:     time.Now,
		state:   StateIdle,
	}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Scope reports how the current or last recording listened.
func (r *Recorder) Scope() Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

// Start clears the buffer and attaches the capture listeners. When the
// broker allows it, the recording is elevated to observe other contexts.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.events = nil
	r.mu.Unlock()

	scope := Scope{}
	if r.broker != nil {
		r.broker.Detect(ctx)
		if r.broker.CanRecordCrossTab() {
			if err := r.broker.Enable(ctx, capability.ModeRecording, nil); err != nil {
				r.logger.Warn("elevation refused, recording current context only", "error", err)
			} else {
				scope.CrossContext = true
			}
		} else {
			r.logger.Warn("helper unavailable, recording current context only")
		}
	}

	// The state flips before attaching so that no early event is lost.
	r.mu.Lock()
	r.state = StateRecording
	r.scope = scope
	r.mu.Unlock()

	detach, err := r.source.Attach(ctx, scope, r.capture)
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		r.release(ctx)
		return fmt.Errorf("attach listeners: %w", err)
	}

	r.mu.Lock()
	r.detach = detach
	r.mu.Unlock()

	r.journal.LogRecording("start", 0)
	r.logger.Info("recording started", "cross_context", scope.CrossContext)
	return nil
}

func (r *Recorder) capture(raw RawEvent) {
	evt := r.convert(raw)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return
	}
	r.events = append(r.events, evt)
}

func (r *Recorder) convert(raw RawEvent) RecordedEvent {
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	evt := RecordedEvent{Kind: raw.Kind, Value: raw.Value, ContextURL: raw.URL, Timestamp: ts}
	if raw.Element != nil {
		evt.Selector = selector.Resolve(raw.Element)
		evt.tag = strings.ToLower(raw.Element.Tag())
	}
	evt.Description = r.describe(evt, raw.Element)
	return evt
}

func (r *Recorder) describe(evt RecordedEvent, el *selector.Descriptor) string {
	label := ""
	if el != nil {
		label = strings.Join(strings.Fields(r.strip.Sanitize(el.Text)), " ")
		if runes := []rune(label); len(runes) > 60 {
			label = string(runes[:57]) + "..."
		}
	}
	if label == "" {
		label = evt.Selector
	}
	switch evt.Kind {
	case KindClick:
		return fmt.Sprintf("Click %q", label)
	case KindFill:
		return fmt.Sprintf("Set %s", label)
	case KindNavigate:
		return "Navigate to " + evt.ContextURL
	case KindTabOpened:
		return "Open " + evt.ContextURL
	}
	return ""
}

func (r *Recorder) insert(evt RecordedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return ErrNotRecording
	}
	r.events = append(r.events, evt)
	return nil
}

// InsertWait appends a manual wait of ms milliseconds.
func (r *Recorder) InsertWait(ms int) error {
	if ms <= 0 {
		ms = 1000
	}
	return r.insert(RecordedEvent{
		Kind:        KindWait,
		Value:       strconv.Itoa(ms),
		Timestamp:   r.now(),
		Description: fmt.Sprintf("Wait %dms", ms),
	})
}

// InsertScreenshot appends a manual screenshot.
func (r *Recorder) InsertScreenshot() error {
	r.mu.Lock()
	name := fmt.Sprintf("screenshot-%d", len(r.events))
	r.mu.Unlock()
	return r.insert(RecordedEvent{
		Kind:        KindScreenshot,
		Selector:    name,
		Timestamp:   r.now(),
		Description: "Take screenshot",
	})
}

// Events returns a copy of the buffer.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

// Stop detaches the listeners, releases elevation and converts the buffer
// into steps, one per event, emitting each through emit when it is set.
func (r *Recorder) Stop(ctx context.Context, emit func(script.Step)) ([]script.Step, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = StateIdle
	detach := r.detach
	r.detach = nil
	events := append([]RecordedEvent(nil), r.events...)
	r.mu.Unlock()

	if detach != nil {
		if err := detach(); err != nil {
			r.logger.Warn("detaching listeners", "error", err)
		}
	}
	r.release(ctx)

	steps := make([]script.Step, 0, len(events))
	for i, evt := range events {
		step := ToStep(evt, i)
		if emit != nil {
			emit(step)
		}
		steps = append(steps, step)
	}
	r.journal.LogRecording("stop", len(steps))
	r.logger.Info("recording stopped", "steps", len(steps))
	return steps, nil
}

func (r *Recorder) release(ctx context.Context) {
	if r.broker == nil {
		return
	}
	if err := r.broker.Disable(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("de-elevation failed", "error", err)
	}
}

// ToStep converts a recorded event into the step at position order.
func ToStep(evt RecordedEvent, order int) script.Step {
	step := script.Step{
		ID:          uuid.NewString(),
		Target:      evt.Selector,
		Value:       evt.Value,
		Description: evt.Description,
		Order:       order,
	}
	switch evt.Kind {
	case KindClick:
		step.Action = script.ActionClick
	case KindFill:
		step.Action = script.ActionFill
		if evt.tag == "select" {
			step.Action = script.ActionSelect
		}
	case KindNavigate, KindTabOpened:
		step.Action = script.ActionGoto
		step.Target = evt.ContextURL
		step.Value = ""
	case KindWait:
		step.Action = script.ActionWait
	case KindScreenshot:
		step.Action = script.ActionScreenshot
	}
	return step
}
