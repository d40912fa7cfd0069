package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                `json:"app" yaml:"app"`
	Browser   BrowserConfig            `json:"browser" yaml:"browser"`
	Execution ExecutionConfig          `json:"execution" yaml:"execution"`
	Helper    HelperConfig             `json:"helper" yaml:"helper"`
	Store     StoreConfig              `json:"store" yaml:"store"`
	Logging   LoggingConfig            `json:"logging" yaml:"logging"`
	Gateways  map[string]GatewayConfig `json:"gateways" yaml:"gateways"`
	Policy    PolicyConfig             `json:"policy" yaml:"policy"`
	Schedule  ScheduleConfig           `json:"schedule" yaml:"schedule"`
	Metrics   MetricsConfig            `json:"metrics" yaml:"metrics"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	Workspace string `json:"workspace" yaml:"workspace"`
}

type BrowserConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // chromedp or rod
	Headless      bool   `json:"headless" yaml:"headless"`
	NoSandbox     bool   `json:"no_sandbox" yaml:"no_sandbox"`
	ChromePath    string `json:"chrome_path,omitempty" yaml:"chrome_path,omitempty"`
	ScreenshotDir string `json:"screenshot_dir" yaml:"screenshot_dir"`
}

// ExecutionConfig holds the orchestrator time boxes as Go duration strings.
type ExecutionConfig struct {
	StepTimeout      string `json:"step_timeout" yaml:"step_timeout"`
	InterStepDelay   string `json:"inter_step_delay" yaml:"inter_step_delay"`
	LoadTimeout      string `json:"load_timeout" yaml:"load_timeout"`
	LoadPollInterval string `json:"load_poll_interval" yaml:"load_poll_interval"`
	AgentTimeout     string `json:"agent_timeout" yaml:"agent_timeout"`
}

type HelperConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	URL            string `json:"url" yaml:"url"`
	PingTimeout    string `json:"ping_timeout" yaml:"ping_timeout"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
}

type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

type LoggingConfig struct {
	Level   string `json:"level" yaml:"level"`
	Journal string `json:"journal" yaml:"journal"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	ChatID  int64  `json:"chat_id" yaml:"chat_id"`
}

type PolicyConfig struct {
	DenyActions []string `json:"deny_actions" yaml:"deny_actions"`
	DenyTargets []string `json:"deny_targets" yaml:"deny_targets"`
	AllowURLs   []string `json:"allow_urls" yaml:"allow_urls"`
}

type ScheduleConfig struct {
	PollInterval string `json:"poll_interval" yaml:"poll_interval"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	workspace := filepath.Join(home, ".replayer")
	return &Config{
		App: AppConfig{Name: "replayer", Workspace: workspace},
		Browser: BrowserConfig{
			Backend:       "chromedp",
			Headless:      true,
			ScreenshotDir: filepath.Join(workspace, "screenshots"),
		},
		Execution: ExecutionConfig{
			StepTimeout:      "15s",
			InterStepDelay:   "500ms",
			LoadTimeout:      "15s",
			LoadPollInterval: "500ms",
			AgentTimeout:     "5s",
		},
		Helper: HelperConfig{
			URL:            "ws://127.0.0.1:9223/helper",
			PingTimeout:    "1s",
			RequestTimeout: "5s",
		},
		Store:    StoreConfig{Path: filepath.Join(workspace, "replayer.db")},
		Logging:  LoggingConfig{Level: "info", Journal: filepath.Join(workspace, "journal.jsonl")},
		Gateways: map[string]GatewayConfig{},
		Schedule: ScheduleConfig{PollInterval: "30s"},
	}
}

// LoadConfig reads path as YAML, or JSON when the extension is .json, on top
// of Default. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and malformed durations.
func (c *Config) Validate() error {
	switch c.Browser.Backend {
	case "", "chromedp", "rod":
	default:
		return fmt.Errorf("unknown browser backend %q", c.Browser.Backend)
	}
	for name, v := range map[string]string{
		"execution.step_timeout":       c.Execution.StepTimeout,
		"execution.inter_step_delay":   c.Execution.InterStepDelay,
		"execution.load_timeout":       c.Execution.LoadTimeout,
		"execution.load_poll_interval": c.Execution.LoadPollInterval,
		"execution.agent_timeout":      c.Execution.AgentTimeout,
		"helper.ping_timeout":          c.Helper.PingTimeout,
		"helper.request_timeout":       c.Helper.RequestTimeout,
		"schedule.poll_interval":       c.Schedule.PollInterval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// Duration parses s, returning fallback when s is empty, malformed or not
// positive.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (e ExecutionConfig) StepTimeoutDuration() time.Duration {
	return Duration(e.StepTimeout, 15*time.Second)
}

// InterStepDelayDuration allows an explicit zero delay.
func (e ExecutionConfig) InterStepDelayDuration() time.Duration {
	if strings.TrimSpace(e.InterStepDelay) == "0" || e.InterStepDelay == "0s" {
		return 0
	}
	return Duration(e.InterStepDelay, 500*time.Millisecond)
}

func (e ExecutionConfig) LoadTimeoutDuration() time.Duration {
	return Duration(e.LoadTimeout, 15*time.Second)
}

func (e ExecutionConfig) LoadPollIntervalDuration() time.Duration {
	return Duration(e.LoadPollInterval, 500*time.Millisecond)
}

func (e ExecutionConfig) AgentTimeoutDuration() time.Duration {
	return Duration(e.AgentTimeout, 5*time.Second)
}

func (h HelperConfig) PingTimeoutDuration() time.Duration {
	return Duration(h.PingTimeout, time.Second)
}

func (h HelperConfig) RequestTimeoutDuration() time.Duration {
	return Duration(h.RequestTimeout, 5*time.Second)
}

func (s ScheduleConfig) PollIntervalDuration() time.Duration {
	return Duration(s.PollInterval, 30*time.Second)
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}
