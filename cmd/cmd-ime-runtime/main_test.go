package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmdime/internal/config"
	"cmdime/internal/eventtap"
	"cmdime/internal/focus"
	"cmdime/internal/inputsource"
	"cmdime/internal/logging"
	"cmdime/internal/runtime"
	"cmdime/internal/settings"
)

type fixture struct {
	cfg      *config.Config
	tap      *eventtap.Simulated
	switcher *inputsource.Recording
}

// withController swaps the process controller for one backed by simulated
// devices and a temporary settings directory.
func withController(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Settings.Dir = filepath.Join(dir, "cmd-ime")
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	cfg.Switch.RetryMaxMs = 0

	f := &fixture{
		cfg:      cfg,
		tap:      eventtap.NewSimulated(64),
		switcher: inputsource.NewRecording(),
	}
	newController = func() *runtime.Controller {
		return runtime.New(runtime.Options{
			Config:   cfg,
			Logger:   logging.Discard(),
			Tap:      f.tap,
			Switcher: f.switcher,
			Focus:    focus.NewStatic(focus.App{Name: "Notes", BundleID: "com.apple.Notes"}),
		})
	}
	ctl, ctlOnce = nil, sync.Once{}

	t.Cleanup(func() {
		if ctl != nil {
			ctl.Shutdown()
		}
		ctl, ctlOnce = nil, sync.Once{}
		newController = defaultController
	})
	return f
}

// getSettings calls the exported getter and frees the result the way the
// host does.
func getSettings(t *testing.T) (string, bool) {
	t.Helper()
	p := cmd_ime_get_settings_json()
	if p == nil {
		return "", false
	}
	defer cmd_ime_free_c_string(p)
	s, ok := goStringArg(p)
	require.True(t, ok)
	return s, true
}

func updateSettings(s string) bool {
	cs := newOwnedCString(s)
	defer cs.release()
	return bool(cmd_ime_update_settings_json(cs.p))
}

func TestScenario(t *testing.T) {
	withController(t)

	require.True(t, bool(cmd_ime_initialize()))

	got, ok := getSettings(t)
	require.True(t, ok)
	assert.Equal(t, "{}", got)

	require.True(t, updateSettings(`{"layout":"dvorak"}`))

	got, ok = getSettings(t)
	require.True(t, ok)
	assert.Equal(t, `{"layout":"dvorak"}`, got)
}

func TestGetBeforeInitializeReturnsNull(t *testing.T) {
	withController(t)

	_, ok := getSettings(t)
	assert.False(t, ok)
	assert.False(t, updateSettings(`{"a":1}`))
	assert.False(t, bool(cmd_ime_reload_settings_from_disk()))
	assert.False(t, bool(cmd_ime_start_monitoring()))
}

func TestInvalidUpdateLeavesSettingsIdentical(t *testing.T) {
	withController(t)
	require.True(t, bool(cmd_ime_initialize()))
	require.True(t, updateSettings(`{"launch_at_startup":false,"note":"keep"}`))

	before, _ := getSettings(t)
	for _, bad := range []string{`{"a":`, `[]`, `"text"`, `{"mappings":"x"}`, ``} {
		assert.False(t, updateSettings(bad), bad)
		after, ok := getSettings(t)
		require.True(t, ok)
		assert.Equal(t, before, after, bad)
	}
}

func TestUpdateWithNullPointer(t *testing.T) {
	withController(t)
	require.True(t, bool(cmd_ime_initialize()))

	assert.False(t, bool(cmd_ime_update_settings_json(nil)))
	got, _ := getSettings(t)
	assert.Equal(t, "{}", got)
}

func TestRoundTrip(t *testing.T) {
	withController(t)
	require.True(t, bool(cmd_ime_initialize()))
	require.True(t, updateSettings(`{"check_updates_on_startup":false,"excluded_apps":[{"name":"Terminal","bundle_id":"com.apple.Terminal","enabled":true}]}`))

	first, _ := getSettings(t)
	require.True(t, updateSettings(first))
	second, _ := getSettings(t)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.Equal(t, a, b)
}

func TestReloadFromDisk(t *testing.T) {
	f := withController(t)
	require.True(t, bool(cmd_ime_initialize()))

	assert.False(t, bool(cmd_ime_reload_settings_from_disk()), "no file written yet")

	path := filepath.Join(f.cfg.Settings.Dir, settings.FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600))
	require.True(t, bool(cmd_ime_reload_settings_from_disk()))

	got, _ := getSettings(t)
	assert.Equal(t, `{"theme":"dark"}`, got)
}

func TestMonitoringLifecycle(t *testing.T) {
	f := withController(t)
	require.True(t, bool(cmd_ime_initialize()))

	cmd_ime_stop_monitoring()
	assert.False(t, f.tap.Running())

	require.True(t, bool(cmd_ime_start_monitoring()))
	assert.False(t, bool(cmd_ime_start_monitoring()))

	f.tap.Tap(eventtap.KeyCommandRight)
	assert.Eventually(t, func() bool {
		return slices.Equal(f.switcher.Selected(), []string{settings.SourceHiragana})
	}, time.Second, 5*time.Millisecond)

	cmd_ime_stop_monitoring()
	cmd_ime_stop_monitoring()
	assert.False(t, f.tap.Running())
}

func TestFreeNullIsNoOp(t *testing.T) {
	cmd_ime_free_c_string(nil)
}

func TestOwnedCString(t *testing.T) {
	cs := newOwnedCString("héllo")
	s, ok := goStringArg(cs.p)
	require.True(t, ok)
	assert.Equal(t, "héllo", s)

	p := cs.detach()
	assert.Nil(t, cs.p)
	cs.release()
	freeCString(p)

	_, ok = goStringArg(nil)
	assert.False(t, ok)
}
