package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/replayer/internal/recorder"
	"github.com/rahul/replayer/internal/store"
)

const loginCode = `test('Login', async ({ page }) => {
  // Navigate to login
  await page.goto('https://app.example/login');
  // Fill email
  await page.fill('#email', 'a@b.c');
  await page.hover('#menu');
  // Click submit
  await page.click('#submit');
});
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "store:\n  path: " + filepath.Join(dir, "replayer.db") + "\n" +
		"logging:\n  level: error\n  journal: " + filepath.Join(dir, "journal.jsonl") + "\n"
	path := filepath.Join(dir, "replayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func runCLI(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScriptLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, loginCode, "import", "-", "--name", "Login", "--tag", "auth")
	require.NoError(t, err)
	assert.Contains(t, out, `imported "Login" as`)
	assert.Contains(t, out, "(3 steps)")

	out, err = runCLI(t, cfg, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Login")
	assert.Contains(t, out, "draft")

	out, err = runCLI(t, cfg, "", "list", "--tag", "billing")
	require.NoError(t, err)
	assert.NotContains(t, out, "Login")

	out, err = runCLI(t, cfg, "", "export", "Login")
	require.NoError(t, err)
	assert.Contains(t, out, "test('Login', async ({ page }) => {")
	assert.Contains(t, out, "await page.goto('https://app.example/login');")
	assert.Contains(t, out, "await page.click('#submit');")
	assert.NotContains(t, out, "hover")

	exported := filepath.Join(t.TempDir(), "login.test.js")
	_, err = runCLI(t, cfg, "", "export", "Login", "-o", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), "await page.fill('#email', 'a@b.c');")

	_, err = runCLI(t, cfg, "", "schedule", "Login")
	assert.ErrorContains(t, err, "--every")

	out, err = runCLI(t, cfg, "", "schedule", "Login", "--every", "15m")
	require.NoError(t, err)
	assert.Contains(t, out, `"Login" runs every 15m0s`)

	out, err = runCLI(t, cfg, "", "show", "Login")
	require.NoError(t, err)
	assert.Contains(t, out, "status: active  runs: 0  tags: auth")
	assert.Contains(t, out, "await page.goto")

	out, err = runCLI(t, cfg, "", "schedule", "Login", "--off")
	require.NoError(t, err)
	assert.Contains(t, out, "no longer scheduled")

	out, err = runCLI(t, cfg, "", "delete", "Login")
	require.NoError(t, err)
	assert.Contains(t, out, `deleted "Login"`)

	_, err = runCLI(t, cfg, "", "export", "Login")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImportRejectsEmptyInput(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "// nothing here\n", "import", "-")
	assert.ErrorContains(t, err, "no recognised steps")
}

func TestImportNamesFromFile(t *testing.T) {
	cfg := writeConfig(t)
	file := filepath.Join(t.TempDir(), "checkout.js")
	require.NoError(t, os.WriteFile(file, []byte(loginCode), 0644))

	out, err := runCLI(t, cfg, "", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, `imported "checkout" as`)
}

func TestHelperStatusWithoutHelper(t *testing.T) {
	cfg := writeConfig(t)
	out, err := runCLI(t, cfg, "", "helper", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "installed: false")

	_, err = runCLI(t, cfg, "", "helper", "whitelist", "add", "https://*.example.com/*")
	assert.ErrorContains(t, err, "capability unavailable")
}

type idleSource struct{}

func (idleSource) Attach(ctx context.Context, scope recorder.Scope, fn func(recorder.RawEvent)) (func() error, error) {
	return func() error { return nil }, nil
}

func TestHandleRecordInput(t *testing.T) {
	rec := recorder.New(idleSource{}, recorder.Options{})
	require.NoError(t, rec.Start(context.Background()))

	var out bytes.Buffer
	assert.False(t, handleRecordInput(rec, "w 250", &out))
	assert.False(t, handleRecordInput(rec, "S", &out))
	assert.False(t, handleRecordInput(rec, "w soon", &out))
	assert.False(t, handleRecordInput(rec, "dance", &out))
	assert.False(t, handleRecordInput(rec, "", &out))
	assert.True(t, handleRecordInput(rec, "q", &out))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, recorder.KindWait, events[0].Kind)
	assert.Equal(t, "250", events[0].Value)
	assert.Equal(t, recorder.KindScreenshot, events[1].Kind)
	assert.Contains(t, out.String(), `bad wait "soon"`)
	assert.Contains(t, out.String(), recordHelp)
}
