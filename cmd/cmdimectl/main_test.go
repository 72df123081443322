package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdime/internal/config"
	"cmdime/internal/eventtap"
	"cmdime/internal/focus"
	"cmdime/internal/inputsource"
	"cmdime/internal/journal"
	"cmdime/internal/runtime"
	"cmdime/internal/settings"
)

type env struct {
	dir      string
	tap      *eventtap.Simulated
	switcher *inputsource.Recording
}

// setupEnv points the CLI at a temporary config directory and simulated
// devices.
func setupEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		dir:      t.TempDir(),
		tap:      eventtap.NewSimulated(64),
		switcher: inputsource.NewRecording(settings.SourceAlphanumeric, settings.SourceHiragana),
	}
	t.Setenv(config.EnvConfigDir, e.dir)
	t.Setenv("CMD_IME_LOG_LEVEL", "error")
	t.Setenv("CMD_IME_SWITCH_BACKEND", "none")

	controllerOptions = func() runtime.Options {
		return runtime.Options{
			Tap:      e.tap,
			Switcher: e.switcher,
			Focus:    focus.NewStatic(focus.App{Name: "Notes", BundleID: "com.apple.Notes"}),
		}
	}
	t.Cleanup(func() {
		controllerOptions = func() runtime.Options { return runtime.Options{} }
	})
	return e
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	configPath, logLevel = "", ""
	settingsPretty, excludeName, excludeDisabled, mapDisabled = false, "", false, false
	journalLimit, journalRevisions, journalJSON = 20, false, false
	monitorMetricsAddr = ""

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := run(t, "", args...)
	require.NoError(t, err, stderr)
	return out
}

func TestSettingsPath(t *testing.T) {
	e := setupEnv(t)
	out := mustRun(t, "settings", "path")
	assert.Equal(t, filepath.Join(e.dir, settings.FileName), strings.TrimSpace(out))
}

func TestSettingsGetSet(t *testing.T) {
	e := setupEnv(t)

	assert.Equal(t, "{}\n", mustRun(t, "settings", "get"))

	mustRun(t, "settings", "set", `{"layout":"dvorak"}`)
	assert.Equal(t, `{"layout":"dvorak"}`+"\n", mustRun(t, "settings", "get"))

	data, err := os.ReadFile(filepath.Join(e.dir, settings.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "dvorak")
}

func TestSettingsGetPretty(t *testing.T) {
	setupEnv(t)
	mustRun(t, "settings", "set", `{"a":1,"b":true}`)

	out := mustRun(t, "settings", "get", "--pretty")
	assert.Contains(t, out, "\n  \"a\": 1,\n")
}

func TestSettingsSetInvalidLeavesFile(t *testing.T) {
	e := setupEnv(t)
	mustRun(t, "settings", "set", `{"keep":true}`)
	path := filepath.Join(e.dir, settings.FileName)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, _, err = run(t, "", "settings", "set", `{"mappings":"nope"}`)
	require.Error(t, err)
	assert.ErrorIs(t, err, settings.ErrInvalid)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSettingsSetFromFileAndStdin(t *testing.T) {
	setupEnv(t)

	src := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"from":"file"}`), 0o600))
	mustRun(t, "settings", "set", "@"+src)
	assert.Equal(t, `{"from":"file"}`+"\n", mustRun(t, "settings", "get"))

	_, stderr, err := run(t, `{"from":"stdin"}`, "settings", "set", "-")
	require.NoError(t, err, stderr)
	assert.Equal(t, `{"from":"stdin"}`+"\n", mustRun(t, "settings", "get"))

	_, _, err = run(t, "", "settings", "set", "@"+filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSettingsReload(t *testing.T) {
	e := setupEnv(t)

	_, _, err := run(t, "", "settings", "reload")
	assert.ErrorIs(t, err, settings.ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(e.dir, settings.FileName), []byte(`{"x":2}`), 0o600))
	assert.Equal(t, `{"x":2}`+"\n", mustRun(t, "settings", "reload"))
}

func TestExcludeAddRemove(t *testing.T) {
	setupEnv(t)

	mustRun(t, "settings", "exclude", "add", "com.apple.Terminal", "--name", "Terminal")
	mustRun(t, "settings", "exclude", "add", "com.googlecode.iterm2", "--disabled")

	var doc struct {
		ExcludedApps []settings.AppInfo `json:"excluded_apps"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "settings", "get")), &doc))
	assert.Equal(t, []settings.AppInfo{
		{Name: "Terminal", BundleID: "com.apple.Terminal", Enabled: true},
		{Name: "com.googlecode.iterm2", BundleID: "com.googlecode.iterm2", Enabled: false},
	}, doc.ExcludedApps)

	mustRun(t, "settings", "exclude", "rm", "com.apple.Terminal")
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "settings", "get")), &doc))
	assert.Len(t, doc.ExcludedApps, 1)

	_, _, err := run(t, "", "settings", "exclude", "remove", "com.apple.Terminal")
	assert.ErrorContains(t, err, "not excluded")
}

func TestSettingsMap(t *testing.T) {
	setupEnv(t)

	mustRun(t, "settings", "map", "Command_R", "com.example.Kana")

	var doc struct {
		Mappings []settings.KeyMapping `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "settings", "get")), &doc))
	assert.Equal(t, []settings.KeyMapping{
		{InputKey: "Command_L", OutputSource: settings.SourceAlphanumeric, Enabled: true},
		{InputKey: "Command_R", OutputSource: "com.example.Kana", Enabled: true},
	}, doc.Mappings)

	_, _, err := run(t, "", "settings", "map", "Option_L", "x")
	assert.ErrorContains(t, err, "unknown input key")
}

func TestJournal(t *testing.T) {
	setupEnv(t)

	_, stderr, err := run(t, "", "journal")
	require.NoError(t, err)
	assert.Contains(t, stderr, "No journal yet")

	mustRun(t, "settings", "set", `{"v":1}`)

	var revs []journal.Revision
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "journal", "--revisions", "--json")), &revs))
	require.Len(t, revs, 1)
	assert.Equal(t, journal.OriginUpdate, revs[0].Origin)
	assert.Equal(t, `{"v":1}`, revs[0].Document)

	out := mustRun(t, "journal")
	assert.Contains(t, out, "TIME")
	assert.Contains(t, out, "RESULT")
}

func TestConfigInitAndShow(t *testing.T) {
	e := setupEnv(t)

	out := mustRun(t, "config", "init")
	assert.Contains(t, out, "Created")
	assert.FileExists(t, filepath.Join(e.dir, "config.toml"))

	out = mustRun(t, "config", "init")
	assert.Contains(t, out, "Already exists")

	out = mustRun(t, "config", "show")
	assert.Contains(t, out, "max_tap_ms = 500")
}

func TestDoctor(t *testing.T) {
	e := setupEnv(t)

	out := mustRun(t, "doctor")
	assert.Contains(t, out, "Keyboard tap:    ok")
	assert.Contains(t, out, "Installed:       2 source(s)")
	assert.Contains(t, out, "Frontmost app:   ok   Notes (com.apple.Notes)")
	assert.Contains(t, out, "Mapping:         Command_L -> "+settings.SourceAlphanumeric+" [on]")
	assert.Contains(t, out, filepath.Join(e.dir, settings.FileName))
}

func TestMonitor(t *testing.T) {
	e := setupEnv(t)
	require.NoError(t, setup(rootCmd, nil))
	monitorCmd.SetErr(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor(ctx, monitorCmd) }()

	require.Eventually(t, e.tap.Running, time.Second, 5*time.Millisecond)
	e.tap.Tap(eventtap.KeyCommandRight)
	assert.Eventually(t, func() bool {
		return slices.Equal(e.switcher.Selected(), []string{settings.SourceHiragana})
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.False(t, e.tap.Running())
}

func TestMonitorPermissionDenied(t *testing.T) {
	e := setupEnv(t)
	require.NoError(t, setup(rootCmd, nil))
	e.tap.FailStart(eventtap.ErrPermissionDenied)
	monitorCmd.SetErr(io.Discard)

	err := monitor(context.Background(), monitorCmd)
	assert.ErrorIs(t, err, eventtap.ErrPermissionDenied)
}
