package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Load reads the config file at path, applies env overrides and validates.
// A missing file yields the defaults. An empty path means ConfigPath().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// Save writes cfg to path in the format implied by its extension (TOML by default).
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadOrCreate loads the config at path, writing the defaults first if the
// file does not exist. The bool reports whether a file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Loader keeps the config current while the file is edited. An edit that
// fails to load is reported to OnError and the last good config stays.
type Loader struct {
	path string

	mu       sync.Mutex
	current  *Config
	onChange []func(*Config)
	onError  func(error)

	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{path: path, done: make(chan struct{})}
}

// Load reads the file once and makes the result current.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) Config() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// OnChange and OnError must be registered before Watch.
func (l *Loader) OnChange(cb func(*Config)) { l.onChange = append(l.onChange, cb) }
func (l *Loader) OnError(cb func(error))     { l.onError = cb }

// Watch follows the config directory; editors replace the file instead of
// writing it in place.
func (l *Loader) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(l.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	l.fsw = fsw
	go l.loop()
	return nil
}

func (l *Loader) loop() {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	name := filepath.Base(l.path)
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, l.reload)
		case err, ok := <-l.fsw.Errors:
			if !ok {
				return
			}
			l.fail(err)
		}
	}
}

func (l *Loader) reload() {
	select {
	case <-l.done:
		return
	default:
	}
	cfg, err := l.Load()
	if err != nil {
		l.fail(fmt.Errorf("reload config: %w", err))
		return
	}
	for _, cb := range l.onChange {
		cb(cfg)
	}
}

func (l *Loader) fail(err error) {
	if l.onError != nil {
		l.onError(err)
	}
}

// Close stops watching. Safe to call more than once.
func (l *Loader) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		if l.fsw != nil {
			err = l.fsw.Close()
		}
	})
	return err
}
