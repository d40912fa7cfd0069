// Package capability negotiates with the optional privileged helper (a
// browser extension bridge) that lifts same-origin restrictions. Without the
// helper every caller keeps working in baseline, single-context mode.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gobwas/glob"
)

// ErrCapabilityUnavailable is returned when elevation is requested without
// an installed and enabled helper.
var ErrCapabilityUnavailable = errors.New("capability unavailable: helper not installed or not enabled")

// Mode is the purpose of an elevated session.
type Mode string

const (
	ModeRecording Mode = "recording"
	ModeExecution Mode = "execution"
)

// Protocol action names.
const (
	ActionPing                = "ping"
	ActionEnable              = "enable"
	ActionDisable             = "disable"
	ActionGetConfig           = "getConfig"
	ActionAddToWhitelist      = "addToWhitelist"
	ActionRemoveFromWhitelist = "removeFromWhitelist"
)

// Status is the last known state of the helper.
type Status struct {
	Installed             bool   `json:"installed"`
	Enabled               bool   `json:"enabled"`
	CanAccessCrossContext bool   `json:"canAccessCrossContext"`
	Version               string `json:"version,omitempty"`
}

// HelperConfig is the helper's reported configuration.
type HelperConfig struct {
	Enabled   bool     `json:"enabled"`
	Mode      Mode     `json:"mode,omitempty"`
	Whitelist []string `json:"whitelist"`
	Version   string   `json:"version,omitempty"`
}

type pingReply struct {
	Enabled bool   `json:"enabled"`
	Version string `json:"version"`
}

type whitelistReply struct {
	Whitelist []string `json:"whitelist"`
}

// Options tunes request time boxes.
type Options struct {
	PingTimeout    time.Duration
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingTimeout <= 0 {
		o.PingTimeout = time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	return o
}

// Broker detects, elevates and de-elevates the helper. A Broker with a nil
// transport behaves as if no helper were installed.
type Broker struct {
	transport Transport
	opts      Options
	logger    *log.Logger

	mu        sync.RWMutex
	status    Status
	elevated  Mode
	whitelist []string
	globs     []glob.Glob
}

func NewBroker(t Transport, opts Options, logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{transport: t, opts: opts.withDefaults(), logger: logger.WithPrefix("capability")}
}

func (b *Broker) call(ctx context.Context, timeout time.Duration, action string, payload any) (json.RawMessage, error) {
	if b.transport == nil {
		return nil, ErrCapabilityUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.transport.Call(ctx, action, payload)
}

// Detect pings the helper and refreshes Status. Failure is not an error:
// it leaves the broker in baseline mode.
func (b *Broker) Detect(ctx context.Context) Status {
	data, err := b.call(ctx, b.opts.PingTimeout, ActionPing, nil)
	if err != nil {
		b.logger.Warn("helper not detected, continuing in baseline mode", "error", err)
		b.setStatus(Status{})
		return b.Status()
	}

	var reply pingReply
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			b.logger.Warn("unreadable ping reply, continuing in baseline mode", "error", err)
			b.setStatus(Status{})
			return b.Status()
		}
	}
	b.setStatus(Status{Installed: true, Enabled: reply.Enabled, Version: reply.Version})
	b.logger.Debug("helper detected", "enabled", reply.Enabled, "version", reply.Version)
	return b.Status()
}

func (b *Broker) setStatus(s Status) {
	s.CanAccessCrossContext = s.Installed && s.Enabled
	b.mu.Lock()
	b.status = s
	if !s.Installed {
		b.elevated = ""
	}
	b.mu.Unlock()
}

// Status returns the last detected state.
func (b *Broker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// CanRecordCrossTab reports whether recording may observe other contexts.
func (b *Broker) CanRecordCrossTab() bool {
	s := b.Status()
	return s.Installed && s.Enabled
}

// CanExecuteCrossContext reports whether execution may act across origins.
func (b *Broker) CanExecuteCrossContext() bool {
	s := b.Status()
	return s.Installed && s.Enabled
}

// Elevated returns the active elevation mode, or "" in baseline mode.
func (b *Broker) Elevated() Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.elevated
}

// Enable requests an elevated session for mode.
func (b *Broker) Enable(ctx context.Context, mode Mode, config map[string]any) error {
	if !b.CanExecuteCrossContext() {
		return ErrCapabilityUnavailable
	}
	payload := map[string]any{"mode": mode, "config": config}
	if _, err := b.call(ctx, b.opts.RequestTimeout, ActionEnable, payload); err != nil {
		return fmt.Errorf("enable %s: %w", mode, err)
	}
	b.mu.Lock()
	b.elevated = mode
	b.mu.Unlock()
	b.logger.Info("elevated session started", "mode", mode)
	return nil
}

// Disable ends the elevated session. It is a no-op in baseline mode so that
// callers can de-elevate unconditionally.
func (b *Broker) Disable(ctx context.Context) error {
	b.mu.Lock()
	mode := b.elevated
	b.elevated = ""
	b.mu.Unlock()
	if mode == "" {
		return nil
	}
	if _, err := b.call(ctx, b.opts.RequestTimeout, ActionDisable, nil); err != nil {
		return fmt.Errorf("disable %s: %w", mode, err)
	}
	b.logger.Info("elevated session ended", "mode", mode)
	return nil
}

// GetConfig fetches the helper configuration and caches its whitelist.
func (b *Broker) GetConfig(ctx context.Context) (HelperConfig, error) {
	data, err := b.call(ctx, b.opts.RequestTimeout, ActionGetConfig, nil)
	if err != nil {
		return HelperConfig{}, fmt.Errorf("get config: %w", err)
	}
	var cfg HelperConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return HelperConfig{}, fmt.Errorf("decode helper config: %w", err)
	}
	b.setWhitelist(cfg.Whitelist)
	return cfg, nil
}

// AddToWhitelist asks the helper to grant elevated access to url (a glob
// pattern such as https://*.example.com/*).
func (b *Broker) AddToWhitelist(ctx context.Context, url string) ([]string, error) {
	return b.updateWhitelist(ctx, ActionAddToWhitelist, url)
}

// RemoveFromWhitelist revokes a previously granted pattern.
func (b *Broker) RemoveFromWhitelist(ctx context.Context, url string) ([]string, error) {
	return b.updateWhitelist(ctx, ActionRemoveFromWhitelist, url)
}

func (b *Broker) updateWhitelist(ctx context.Context, action, url string) ([]string, error) {
	if _, err := glob.Compile(url); err != nil {
		return nil, fmt.Errorf("invalid whitelist pattern %q: %w", url, err)
	}
	data, err := b.call(ctx, b.opts.RequestTimeout, action, map[string]string{"url": url})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	var reply whitelistReply
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("decode whitelist: %w", err)
		}
	}
	b.setWhitelist(reply.Whitelist)
	return reply.Whitelist, nil
}

func (b *Broker) setWhitelist(patterns []string) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			b.logger.Warn("skipping invalid whitelist pattern", "pattern", p, "error", err)
			continue
		}
		globs = append(globs, g)
	}
	b.mu.Lock()
	b.whitelist = append([]string(nil), patterns...)
	b.globs = globs
	b.mu.Unlock()
}

// Whitelist returns the cached whitelist patterns.
func (b *Broker) Whitelist() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.whitelist...)
}

// Allows reports whether url falls under the cached whitelist. An empty
// whitelist places no restriction.
func (b *Broker) Allows(url string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.globs) == 0 {
		return true
	}
	for _, g := range b.globs {
		if g.Match(url) {
			return true
		}
	}
	return false
}
