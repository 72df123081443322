package settings

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestEmptyDocument(t *testing.T) {
	doc := Empty()
	if got := doc.String(); got != "{}" {
		t.Errorf("Empty().String() = %q, want {}", got)
	}
	if doc.Len() != 0 {
		t.Errorf("Len = %d", doc.Len())
	}

	var zero Document
	if got := zero.String(); got != "{}" {
		t.Errorf("zero Document String() = %q, want {}", got)
	}
}

func TestParseCompactOutput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"layout":"dvorak"}`, `{"layout":"dvorak"}`},
		{` { "b": 1, "a": true } `, `{"a":true,"b":1}`},
		{`{"n":1.50,"big":12345678901234567890}`, `{"big":12345678901234567890,"n":1.50}`},
		{`{"html":"<a&b>"}`, `{"html":"<a&b>"}`},
		{`{"nested":{"z":[1,2],"y":null}}`, `{"nested":{"y":null,"z":[1,2]}}`},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			doc, err := ParseString(tc.in)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got := doc.String(); got != tc.want {
				t.Errorf("String() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ``},
		{"garbage", `not json`},
		{"truncated", `{"layout":`},
		{"trailing", `{} {}`},
		{"array", `[]`},
		{"string", `"x"`},
		{"null", `null`},
		{"mappings not array", `{"mappings":"x"}`},
		{"mapping missing field", `{"mappings":[{"input_key":"Command_L","enabled":true}]}`},
		{"mapping wrong type", `{"mappings":[{"input_key":"Command_L","output_source":"x","enabled":"yes"}]}`},
		{"empty input key", `{"mappings":[{"input_key":"","output_source":"x","enabled":true}]}`},
		{"launch not bool", `{"launch_at_startup":1}`},
		{"excluded missing bundle", `{"excluded_apps":[{"name":"x","enabled":true}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseString(tc.in)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalid", tc.in, err)
			}
		})
	}
}

func TestParseAcceptsFullDocument(t *testing.T) {
	in := `{
		"launch_at_startup": false,
		"check_updates_on_startup": true,
		"mappings": [
			{"input_key": "Command_L", "output_source": "roman", "enabled": true},
			{"input_key": "Command_R", "output_source": "hiragana", "enabled": false}
		],
		"excluded_apps": [
			{"name": "Terminal", "bundle_id": "com.apple.Terminal", "enabled": true}
		],
		"theme": "dark"
	}`

	doc, err := ParseString(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	v := doc.View()
	if v.LaunchAtStartup {
		t.Error("launch_at_startup should be false")
	}
	if len(v.Mappings) != 2 || v.Mappings[1].Enabled {
		t.Errorf("unexpected mappings: %+v", v.Mappings)
	}
	if len(v.ExcludedApps) != 1 || v.ExcludedApps[0].BundleID != "com.apple.Terminal" {
		t.Errorf("unexpected excluded apps: %+v", v.ExcludedApps)
	}
	if !doc.Has("theme") {
		t.Error("unknown key should be preserved")
	}
}

func TestViewDefaults(t *testing.T) {
	v := Empty().View()

	if !v.LaunchAtStartup || !v.CheckUpdatesOnStartup {
		t.Error("flags should default to true")
	}
	if len(v.Mappings) != 2 {
		t.Fatalf("expected 2 default mappings, got %d", len(v.Mappings))
	}
	if v.Mappings[0].InputKey != InputKeyCommandLeft || v.Mappings[0].OutputSource != SourceAlphanumeric {
		t.Errorf("unexpected first mapping %+v", v.Mappings[0])
	}
	if v.Mappings[1].InputKey != InputKeyCommandRight || v.Mappings[1].OutputSource != SourceHiragana {
		t.Errorf("unexpected second mapping %+v", v.Mappings[1])
	}
	if len(v.ExcludedApps) != 0 {
		t.Errorf("expected no excluded apps, got %+v", v.ExcludedApps)
	}
}

func TestViewExplicitEmptyMappings(t *testing.T) {
	doc, err := ParseString(`{"mappings":[]}`)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.View().Mappings; len(got) != 0 {
		t.Errorf("explicit empty mappings should stay empty, got %+v", got)
	}
}

func TestEqual(t *testing.T) {
	a, _ := ParseString(`{"a":1,"b":[true]}`)
	b, _ := ParseString(`{"b":[true],"a":1}`)
	c, _ := ParseString(`{"a":2,"b":[true]}`)

	if !a.Equal(b) {
		t.Error("documents with same content should be equal")
	}
	if a.Equal(c) {
		t.Error("documents with different values should differ")
	}
	if !Empty().Equal(Document{}) {
		t.Error("empty and zero documents should be equal")
	}
}

func TestExcludedAppEdits(t *testing.T) {
	doc, err := ParseString(`{"layout":"dvorak"}`)
	if err != nil {
		t.Fatal(err)
	}

	added, err := doc.WithExcludedApp(AppInfo{Name: "Terminal", BundleID: "com.apple.Terminal", Enabled: true})
	if err != nil {
		t.Fatalf("WithExcludedApp: %v", err)
	}
	if doc.Has("excluded_apps") {
		t.Error("original document was mutated")
	}

	replaced, err := added.WithExcludedApp(AppInfo{Name: "Term", BundleID: "com.apple.Terminal", Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	apps := replaced.View().ExcludedApps
	if len(apps) != 1 || apps[0].Name != "Term" || apps[0].Enabled {
		t.Errorf("expected replaced entry, got %+v", apps)
	}

	removed, err := replaced.WithoutExcludedApp("com.apple.Terminal")
	if err != nil {
		t.Fatal(err)
	}
	if got := removed.String(); got != `{"excluded_apps":[],"layout":"dvorak"}` {
		t.Errorf("unexpected document %s", got)
	}

	if _, err := doc.WithExcludedApp(AppInfo{Name: "bad"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty bundle id should be rejected, got %v", err)
	}
}

func TestWithMappings(t *testing.T) {
	doc, err := Empty().WithMappings([]KeyMapping{{InputKey: "Command_R", OutputSource: "x", Enabled: true}})
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.String(); got != `{"mappings":[{"enabled":true,"input_key":"Command_R","output_source":"x"}]}` {
		t.Errorf("unexpected document %s", got)
	}

	cleared, err := doc.WithMappings(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := cleared.String(); got != `{"mappings":[]}` {
		t.Errorf("unexpected document %s", got)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"))
	if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
	if s.Exists() {
		t.Error("Exists should be false")
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cmd-ime")
	s := NewStore(dir)

	doc, err := ParseString(`{"layout":"dvorak","launch_at_startup":false}`)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if s.Path() != filepath.Join(dir, FileName) {
		t.Errorf("Path = %q", s.Path())
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"layout\": \"dvorak\"") {
		t.Errorf("file should be indented, got:\n%s", data)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Equal(doc) {
		t.Errorf("loaded %s, want %s", loaded, doc)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(s.Path())
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("settings file mode = %o, want 600", perm)
		}
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".settings.json-*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestStoreLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := os.WriteFile(s.Path(), []byte(`{"mappings":`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load error = %v, want ErrInvalid", err)
	}
}

func TestStoreSaveLocked(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.lockTimeout = 50 * time.Millisecond

	other := NewStore(dir)
	if err := other.lock.Lock(); err != nil {
		t.Fatalf("take lock: %v", err)
	}
	defer other.lock.Unlock()

	if err := s.Save(Empty()); !errors.Is(err, ErrLocked) {
		t.Errorf("Save error = %v, want ErrLocked", err)
	}
	if s.Exists() {
		t.Error("file should not be written while locked")
	}
}

func TestWatcherFiresOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Save(Empty()); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 4)
	w := NewWatcher(s, func() { fired <- struct{}{} })
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	other := NewStore(dir)
	doc, _ := ParseString(`{"layout":"colemak"}`)
	if err := other.Save(doc); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	s := NewStore(t.TempDir())
	w := NewWatcher(s, func() {})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
