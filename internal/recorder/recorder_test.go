package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/replayer/internal/capability"
	"github.com/rahul/replayer/internal/observability"
	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/internal/selector"
)

type fakeSource struct {
	mu       sync.Mutex
	fn       func(RawEvent)
	scope    Scope
	detached bool
	fail     error
}

func (s *fakeSource) Attach(ctx context.Context, scope Scope, fn func(RawEvent)) (func() error, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	s.mu.Lock()
	s.fn, s.scope = fn, scope
	s.mu.Unlock()
	return func() error {
		s.mu.Lock()
		s.detached = true
		s.mu.Unlock()
		return nil
	}, nil
}

func (s *fakeSource) emit(e RawEvent) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(e)
}

func newRecorder(src EventSource, b Broker) *Recorder {
	return New(src, Options{Broker: b, Logger: observability.Discard()})
}

func helperBroker(enabled bool) *capability.Broker {
	tr := capability.TransportFunc(func(ctx context.Context, action string, payload any) (json.RawMessage, error) {
		if action == capability.ActionPing {
			if enabled {
				return json.RawMessage(`{"enabled":true}`), nil
			}
			return nil, errors.New("no helper")
		}
		return nil, nil
	})
	return capability.NewBroker(tr, capability.Options{}, observability.Discard())
}

func TestRecordingProducesOrderedSteps(t *testing.T) {
	src := &fakeSource{}
	r := newRecorder(src, nil)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StateRecording, r.State())

	src.emit(RawEvent{Kind: KindNavigate, URL: "https://shop.example/login"})
	src.emit(RawEvent{Kind: KindFill, Value: "admin", Element: &selector.Descriptor{TagName: "input", ElementID: "user"}})
	require.NoError(t, r.InsertWait(250))
	src.emit(RawEvent{Kind: KindClick, Element: &selector.Descriptor{TagName: "button", ClassList: []string{"btn", "primary"}, Text: "<b>Sign in</b>"}})
	src.emit(RawEvent{Kind: KindFill, Value: "EU", Element: &selector.Descriptor{TagName: "SELECT", Attrs: map[string]string{"name": "region"}}})
	require.NoError(t, r.InsertScreenshot())

	var emitted []script.Step
	steps, err := r.Stop(ctx, func(s script.Step) { emitted = append(emitted, s) })
	require.NoError(t, err)
	assert.Equal(t, steps, emitted)
	assert.True(t, src.detached)
	assert.Equal(t, StateIdle, r.State())

	require.Len(t, steps, 6)
	want := []struct {
		action script.Action
		target string
		value  string
	}{
		{script.ActionGoto, "https://shop.example/login", ""},
		{script.ActionFill, "#user", "admin"},
		{script.ActionWait, "", "250"},
		{script.ActionClick, ".btn", ""},
		{script.ActionSelect, `[name="region"]`, "EU"},
		{script.ActionScreenshot, "screenshot-5", ""},
	}
	for i, w := range want {
		assert.Equal(t, i, steps[i].Order)
		assert.Equal(t, w.action, steps[i].Action, "step %d", i)
		assert.Equal(t, w.target, steps[i].Target, "step %d", i)
		assert.Equal(t, w.value, steps[i].Value, "step %d", i)
		assert.NotEmpty(t, steps[i].ID)
		assert.NoError(t, steps[i].Validate())
	}
	assert.Equal(t, `Click "Sign in"`, steps[3].Description)
}

func TestEventsAfterStopAreIgnored(t *testing.T) {
	src := &fakeSource{}
	r := newRecorder(src, nil)
	require.NoError(t, r.Start(context.Background()))
	_, err := r.Stop(context.Background(), nil)
	require.NoError(t, err)

	src.emit(RawEvent{Kind: KindClick, Element: &selector.Descriptor{TagName: "a"}})
	assert.Empty(t, r.Events())
	assert.ErrorIs(t, r.InsertWait(100), ErrNotRecording)
	_, err = r.Stop(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStartClearsBuffer(t *testing.T) {
	src := &fakeSource{}
	r := newRecorder(src, nil)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	assert.ErrorIs(t, r.Start(ctx), ErrAlreadyRecording)
	require.NoError(t, r.InsertWait(0))
	assert.Equal(t, "1000", r.Events()[0].Value)
	_, err := r.Stop(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx))
	assert.Empty(t, r.Events())
}

func TestCaptureOrderIsPreservedUnderConcurrency(t *testing.T) {
	src := &fakeSource{}
	r := newRecorder(src, nil)
	require.NoError(t, r.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.emit(RawEvent{Kind: KindClick, Element: &selector.Descriptor{TagName: "li", Index: 2}})
		}()
	}
	wg.Wait()

	steps, err := r.Stop(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, steps, 50)
	for i, s := range steps {
		assert.Equal(t, i, s.Order)
	}
}

func TestElevation(t *testing.T) {
	t.Run("helper enabled", func(t *testing.T) {
		b := helperBroker(true)
		src := &fakeSource{}
		r := newRecorder(src, b)

		require.NoError(t, r.Start(context.Background()))
		assert.True(t, src.scope.CrossContext)
		assert.Equal(t, capability.ModeRecording, b.Elevated())

		_, err := r.Stop(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, capability.Mode(""), b.Elevated())
	})

	t.Run("helper missing", func(t *testing.T) {
		b := helperBroker(false)
		src := &fakeSource{}
		r := newRecorder(src, b)

		require.NoError(t, r.Start(context.Background()))
		assert.False(t, src.scope.CrossContext)
		assert.Equal(t, capability.Mode(""), b.Elevated())
	})

	t.Run("attach failure releases elevation", func(t *testing.T) {
		b := helperBroker(true)
		r := newRecorder(&fakeSource{fail: errors.New("target closed")}, b)

		err := r.Start(context.Background())
		assert.ErrorContains(t, err, "target closed")
		assert.Equal(t, StateIdle, r.State())
		assert.Equal(t, capability.Mode(""), b.Elevated())
	})
}

func TestDescriptionIsSanitized(t *testing.T) {
	r := newRecorder(&fakeSource{}, nil)
	r.now = func() time.Time { return time.Unix(0, 0) }

	evt := r.convert(RawEvent{Kind: KindClick, Element: &selector.Descriptor{
		TagName: "a",
		Text:    `<script>alert(1)</script>Go   to ` + strings.Repeat("x", 80),
	}})
	assert.NotContains(t, evt.Description, "<script>")
	assert.NotContains(t, evt.Description, "alert")
	assert.True(t, strings.HasPrefix(evt.Description, `Click "Go to xxx`))
	assert.Equal(t, time.Unix(0, 0), evt.Timestamp)
}

func TestDescriptionTruncatesOnRunes(t *testing.T) {
	r := newRecorder(&fakeSource{}, nil)

	evt := r.convert(RawEvent{Kind: KindClick, Element: &selector.Descriptor{
		TagName: "button",
		Text:    strings.Repeat("é", 70),
	}})
	assert.True(t, utf8.ValidString(evt.Description))
	assert.Equal(t, `Click "`+strings.Repeat("é", 57)+`..."`, evt.Description)
}

func TestFillEventsKeepTheirKind(t *testing.T) {
	src := &fakeSource{}
	r := newRecorder(src, nil)
	require.NoError(t, r.Start(context.Background()))

	src.emit(RawEvent{Kind: KindFill, Value: "admin", Element: &selector.Descriptor{TagName: "input", ElementID: "user"}})
	events := r.Events()
	require.Len(t, events, 1)

	data, err := json.Marshal(events[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"fill"`)
}

func TestSuggestName(t *testing.T) {
	page := `<html><head><title>Checkout | Example Shop</title></head><body>
<article><h1>Checkout</h1><p>` + strings.Repeat("Review your basket before paying. ", 30) + `</p></article></body></html>`

	assert.Contains(t, SuggestName(page, "https://shop.example/checkout"), "Checkout")
	assert.Equal(t, "shop.example/cart", SuggestName("", "https://shop.example/cart/"))
	assert.Equal(t, "Untitled recording", SuggestName("", ""))
}
