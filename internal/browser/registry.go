// Package browser provides the execution backends: a chromedp launcher that
// drives Chrome over CDP with an injected DOM helper, and a go-rod launcher
// that uses native element automation.
package browser

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/rahul/replayer/internal/executor"
)

// Options configures a backend.
type Options struct {
	Headless      bool
	NoSandbox     bool
	ChromePath    string
	ScreenshotDir string
	// ActionTimeout bounds a single browser action.
	ActionTimeout time.Duration
	Logger        *log.Logger
}

func (o Options) withDefaults() Options {
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Backend opens execution contexts and owns the browser process behind them.
type Backend interface {
	executor.Launcher
	Name() string
	Close() error
}

// Factory builds a backend.
type Factory func(opts Options) Backend

// Registry manages the set of available backends.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry knows the chromedp and rod backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(BackendChromedp, func(o Options) Backend { return NewCDPLauncher(o) })
	r.Register(BackendRod, func(o Options) Backend { return NewRodLauncher(o) })
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get builds the backend registered under name.
func (r *Registry) Get(name string, opts Options) (Backend, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown browser backend %q (known: %v)", name, r.Names())
	}
	return f(opts), nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
