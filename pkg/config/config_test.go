package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "chromedp", cfg.Browser.Backend)
	assert.Equal(t, 15*time.Second, cfg.Execution.StepTimeoutDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.Execution.InterStepDelayDuration())
	assert.Equal(t, time.Second, cfg.Helper.PingTimeoutDuration())
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser:
  backend: rod
  headless: false
execution:
  step_timeout: 3s
  inter_step_delay: "0"
gateways:
  telegram:
    token: abc
    enabled: true
    chat_id: 42
policy:
  deny_actions: [hover]
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "rod", cfg.Browser.Backend)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 3*time.Second, cfg.Execution.StepTimeoutDuration())
	assert.Equal(t, time.Duration(0), cfg.Execution.InterStepDelayDuration())
	assert.Equal(t, 15*time.Second, cfg.Execution.LoadTimeoutDuration())
	assert.Equal(t, []string{"hover"}, cfg.Policy.DenyActions)

	tg, ok := cfg.GetTelegramConfig()
	require.True(t, ok)
	assert.Equal(t, int64(42), tg.ChatID)
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replayer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"store":{"path":"/tmp/x.db"},"helper":{"enabled":true}}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
	assert.True(t, cfg.Helper.Enabled)
	_, ok := cfg.GetTelegramConfig()
	assert.False(t, ok)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"backend.yaml":  "browser:\n  backend: selenium\n",
		"duration.yaml": "execution:\n  step_timeout: soon\n",
		"syntax.json":   "{",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestDurationFallback(t *testing.T) {
	assert.Equal(t, time.Second, Duration("", time.Second))
	assert.Equal(t, time.Second, Duration("-3s", time.Second))
	assert.Equal(t, 2*time.Minute, Duration("2m", time.Second))
}
