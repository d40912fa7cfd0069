package browser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rahul/replayer/internal/agent"
	"github.com/rahul/replayer/internal/recorder"
	"github.com/rahul/replayer/internal/selector"
)

//go:embed js/agent.js
var agentJS string

//go:embed js/capture.js
var captureJS string

const (
	captureBinding = "__replayerCapture"
	agentPresentJS = `typeof window.__replayerAgent === "object"`
	readyStateJS   = `document.readyState === "complete"`
)

// performResult is what window.__replayerAgent.perform returns.
type performResult struct {
	OK      bool   `json:"ok"`
	Matched string `json:"matched"`
	Error   string `json:"error"`
}

// err maps an in-page failure to a driver error.
func (r performResult) err(sel string) error {
	if r.OK {
		return nil
	}
	if r.Error == "not_found" {
		return agent.NotFound(sel)
	}
	return fmt.Errorf("%s: %s", sel, r.Error)
}

// performExpression builds the expression that performs action on the first
// candidate of sel, installing the agent first if a navigation dropped it.
func performExpression(action, sel, value string) (string, error) {
	a, err := json.Marshal(action)
	if err != nil {
		return "", err
	}
	c, err := json.Marshal(selector.Candidates(sel))
	if err != nil {
		return "", err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(function(){ if (!window.__replayerAgent) { %s } return window.__replayerAgent.perform(%s, %s, %s); })()",
		agentJS, a, c, v), nil
}

// capturePayload is the JSON the capture script sends through the binding.
type capturePayload struct {
	Kind    string               `json:"kind"`
	Element *selector.Descriptor `json:"element"`
	Value   string               `json:"value"`
	URL     string               `json:"url"`
}

func parseCapture(payload string) (recorder.RawEvent, error) {
	var p capturePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return recorder.RawEvent{}, fmt.Errorf("decode capture payload: %w", err)
	}
	kind := recorder.EventKind(p.Kind)
	if kind != recorder.KindClick && kind != recorder.KindFill {
		return recorder.RawEvent{}, fmt.Errorf("unexpected capture kind %q", p.Kind)
	}
	if p.Element == nil {
		return recorder.RawEvent{}, fmt.Errorf("capture %s without element", p.Kind)
	}
	return recorder.RawEvent{
		Kind:      kind,
		Element:   p.Element,
		Value:     p.Value,
		URL:       p.URL,
		Timestamp: time.Now(),
	}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// saveScreenshot writes buf under dir and returns the file path, which
// serves as the screenshot reference.
func saveScreenshot(dir, name string, buf []byte) (string, error) {
	if dir == "" {
		dir = "screenshots"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	safe := unsafeName.ReplaceAllString(filepath.Base(name), "_")
	if safe == "" || safe == "." || safe == "_" {
		safe = "screenshot"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", safe, time.Now().UnixNano()))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
