package settings

import (
	"encoding/json"
	"slices"
)

// Input keys understood by the dispatcher.
const (
	InputKeyCommandLeft  = "Command_L"
	InputKeyCommandRight = "Command_R"
)

// Well-known macOS Kotoeri input sources.
const (
	SourceAlphanumeric = "com.apple.inputmethod.Kotoeri.RomajiTyping.Roman"
	SourceHiragana     = "com.apple.inputmethod.Kotoeri.RomajiTyping.Japanese"
)

// KeyMapping maps a modifier tap to an input source.
type KeyMapping struct {
	InputKey     string `json:"input_key"`
	OutputSource string `json:"output_source"`
	Enabled      bool   `json:"enabled"`
}

// AppInfo names an application whose input should be left alone.
type AppInfo struct {
	Name     string `json:"name"`
	BundleID string `json:"bundle_id"`
	Enabled  bool   `json:"enabled"`
}

// View is the typed reading of the keys the runtime understands, with
// defaults filled in for absent keys.
type View struct {
	LaunchAtStartup       bool
	CheckUpdatesOnStartup bool
	Mappings              []KeyMapping
	ExcludedApps          []AppInfo
}

// DefaultMappings returns Command_L → alphanumeric and Command_R → hiragana.
func DefaultMappings() []KeyMapping {
	return []KeyMapping{
		{InputKey: InputKeyCommandLeft, OutputSource: SourceAlphanumeric, Enabled: true},
		{InputKey: InputKeyCommandRight, OutputSource: SourceHiragana, Enabled: true},
	}
}

// DefaultView is the view of the empty document.
func DefaultView() View {
	return View{
		LaunchAtStartup:       true,
		CheckUpdatesOnStartup: true,
		Mappings:              DefaultMappings(),
		ExcludedApps:          []AppInfo{},
	}
}

// View decodes the known keys. The document was validated on construction,
// so decoding cannot fail on shape; a failure falls back to defaults.
func (d Document) View() View {
	v := DefaultView()

	data, err := d.MarshalJSON()
	if err != nil {
		return v
	}

	var raw struct {
		LaunchAtStartup       *bool         `json:"launch_at_startup"`
		CheckUpdatesOnStartup *bool         `json:"check_updates_on_startup"`
		Mappings              *[]KeyMapping `json:"mappings"`
		ExcludedApps          *[]AppInfo    `json:"excluded_apps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return v
	}

	if raw.LaunchAtStartup != nil {
		v.LaunchAtStartup = *raw.LaunchAtStartup
	}
	if raw.CheckUpdatesOnStartup != nil {
		v.CheckUpdatesOnStartup = *raw.CheckUpdatesOnStartup
	}
	if raw.Mappings != nil {
		v.Mappings = *raw.Mappings
	}
	if raw.ExcludedApps != nil {
		v.ExcludedApps = *raw.ExcludedApps
	}
	return v
}

// WithExcludedApp returns a copy with app added to excluded_apps, replacing
// any entry with the same bundle id.
func (d Document) WithExcludedApp(app AppInfo) (Document, error) {
	apps := slices.DeleteFunc(slices.Clone(d.View().ExcludedApps), func(a AppInfo) bool {
		return a.BundleID == app.BundleID
	})
	return d.with("excluded_apps", append(apps, app))
}

// WithoutExcludedApp returns a copy with bundleID removed from excluded_apps.
func (d Document) WithoutExcludedApp(bundleID string) (Document, error) {
	apps := slices.DeleteFunc(slices.Clone(d.View().ExcludedApps), func(a AppInfo) bool {
		return a.BundleID == bundleID
	})
	if apps == nil {
		apps = []AppInfo{}
	}
	return d.with("excluded_apps", apps)
}

// WithMappings returns a copy with mappings replaced.
func (d Document) WithMappings(mappings []KeyMapping) (Document, error) {
	if mappings == nil {
		mappings = []KeyMapping{}
	}
	return d.with("mappings", mappings)
}
