// Package runtime is the cmd-ime runtime controller: it owns the settings
// document, persists it, and drives keyboard monitoring and input source
// switching.
//
// The bool-returning methods mirror the C boundary exactly and never panic
// on misuse. The *E variants return the underlying error for Go callers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"cmdime/internal/config"
	"cmdime/internal/eventtap"
	"cmdime/internal/focus"
	"cmdime/internal/health"
	"cmdime/internal/inputsource"
	"cmdime/internal/journal"
	"cmdime/internal/logging"
	"cmdime/internal/metrics"
	"cmdime/internal/settings"
)

var (
	// ErrNotInitialized is returned by operations called before Initialize.
	ErrNotInitialized = errors.New("runtime not initialized")

	// ErrAlreadyMonitoring is returned by StartMonitoring while monitoring.
	ErrAlreadyMonitoring = errors.New("monitoring already active")
)

// Options wires the controller's collaborators. Nil fields get platform
// defaults built from Config.
type Options struct {
	Config   *config.Config
	Logger   *logging.Logger
	Store    *settings.Store
	Tap      eventtap.Tap
	Switcher inputsource.Switcher
	Focus    focus.Provider
	Metrics  *metrics.Metrics
	Journal  *journal.Store
}

// Controller is the process-wide runtime.
type Controller struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *settings.Store
	tap      eventtap.Tap
	switcher inputsource.Switcher
	focus    focus.Provider
	metrics  *metrics.Metrics
	health   *health.Checker

	stateMu     sync.Mutex
	initialized bool
	doc         settings.Document
	watcher     *settings.Watcher
	ownJournal  bool

	journal atomic.Pointer[journal.Store]
	table   atomic.Pointer[dispatchTable]
	maxTap  atomic.Int64

	monitorMu  sync.Mutex
	monitoring atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New builds an uninitialized controller.
func New(opts Options) *Controller {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("runtime")

	store := opts.Store
	if store == nil {
		store = settings.NewStore(cfg.SettingsDir())
	}

	tap := opts.Tap
	if tap == nil {
		tap = eventtap.New(cfg.Monitor.QueueSize)
	}

	sw := opts.Switcher
	if sw == nil {
		var err error
		sw, err = inputsource.New(cfg.Switch.Backend)
		if err != nil {
			log.Warn("input source backend unavailable, switching disabled",
				"backend", cfg.Switch.Backend, "error", err)
			sw = inputsource.None{}
		}
	}
	sw = inputsource.WithRetry(sw, time.Duration(cfg.Switch.RetryMaxMs)*time.Millisecond)

	fp := opts.Focus
	if fp == nil {
		fp = focus.New()
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	c := &Controller{
		cfg:      cfg,
		log:      log,
		store:    store,
		tap:      tap,
		switcher: sw,
		focus:    fp,
		metrics:  m,
		health:   health.NewChecker(),
		doc:      settings.Empty(),
	}
	if opts.Journal != nil {
		c.journal.Store(opts.Journal)
	}
	c.table.Store(compileTable(c.doc.View(), nil))
	c.maxTap.Store(int64(time.Duration(cfg.Monitor.MaxTapMs) * time.Millisecond))
	c.registerChecks()
	m.Handle("/healthz", c.health.Handler())
	m.Handle("/readyz", c.health.ReadinessHandler())
	return c
}

func (c *Controller) registerChecks() {
	c.health.RegisterFunc("settings", true, health.PingCheck("settings directory", func(ctx context.Context) error {
		_, err := os.Stat(c.store.Dir())
		return err
	}))
	c.health.RegisterFunc("journal", false, func(ctx context.Context) health.CheckResult {
		j := c.journal.Load()
		if j == nil {
			return health.CheckResult{Status: health.StatusHealthy, Message: "journal off"}
		}
		return health.PingCheck("journal", j.Ping)(ctx)
	})
	c.health.RegisterFunc("monitoring", false, health.FlagCheck("event tap engaged", "event tap not engaged", c.monitoring.Load))
}

// Initialize prepares the settings store and loads settings. It is
// idempotent.
func (c *Controller) Initialize() bool {
	if err := c.InitializeE(); err != nil {
		c.log.Error("initialize failed", "error", err)
		return false
	}
	return true
}

// InitializeE is Initialize returning the cause of failure.
func (c *Controller) InitializeE() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.initialized {
		return nil
	}

	if err := c.store.Prepare(); err != nil {
		return err
	}

	doc, err := c.store.Load()
	switch {
	case err == nil:
		c.log.Info("settings loaded", "path", c.store.Path(), "keys", doc.Len())
	case errors.Is(err, settings.ErrNotFound):
		doc = settings.Empty()
		c.log.Info("no settings file, using defaults", "path", c.store.Path())
	default:
		doc = settings.Empty()
		c.log.Warn("settings file unreadable, using defaults", "path", c.store.Path(), "error", err)
	}

	c.doc = doc
	c.applyLocked()
	c.openJournalLocked()

	if c.cfg.Settings.Watch {
		w := settings.NewWatcher(c.store, c.onSettingsFileChanged)
		if err := w.Start(); err != nil {
			c.log.Warn("settings watch disabled", "error", err)
		} else {
			c.watcher = w
		}
	}

	c.initialized = true
	c.health.SetReady(true)
	return nil
}

// openJournalLocked opens the journal unless one was injected. Failure is
// logged and the runtime continues without it.
func (c *Controller) openJournalLocked() {
	if c.journal.Load() != nil || !c.cfg.Journal.Enabled {
		return
	}

	j, err := journal.Open(c.cfg.JournalPath())
	if err != nil {
		c.log.Warn("journal disabled", "path", c.cfg.JournalPath(), "error", err)
		return
	}
	if days := c.cfg.Journal.RetentionDays; days > 0 {
		before := time.Now().AddDate(0, 0, -days)
		if n, err := j.Prune(context.Background(), before); err != nil {
			c.log.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			c.log.Debug("journal pruned", "removed", n)
		}
	}
	c.journal.Store(j)
	c.ownJournal = true
}

// applyLocked recompiles the dispatch table from the current document.
func (c *Controller) applyLocked() {
	c.table.Store(compileTable(c.doc.View(), c.log))
}

// SettingsJSON returns the current settings as compact JSON.
func (c *Controller) SettingsJSON() (string, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if !c.initialized {
		return "", ErrNotInitialized
	}
	return c.doc.String(), nil
}

// Settings returns a copy of the current document.
func (c *Controller) Settings() (settings.Document, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if !c.initialized {
		return settings.Document{}, ErrNotInitialized
	}
	return c.doc, nil
}

// UpdateSettingsJSON validates, persists and then adopts raw as the
// settings. On any failure memory and disk are left unchanged.
func (c *Controller) UpdateSettingsJSON(raw string) bool {
	if err := c.UpdateSettingsE(raw); err != nil {
		c.log.Warn("settings update rejected", "error", err)
		return false
	}
	return true
}

// UpdateSettingsE is UpdateSettingsJSON returning the cause of failure.
func (c *Controller) UpdateSettingsE(raw string) error {
	if !c.isInitialized() {
		return ErrNotInitialized
	}
	doc, err := settings.ParseString(raw)
	if err != nil {
		c.metrics.RecordSettingsUpdate(journal.OriginUpdate, false)
		return err
	}
	return c.replace(doc, journal.OriginUpdate)
}

// UpdateSettings adopts doc, persisting it first.
func (c *Controller) UpdateSettings(doc settings.Document) error {
	return c.replace(doc, journal.OriginUpdate)
}

func (c *Controller) replace(doc settings.Document, origin string) error {
	c.stateMu.Lock()
	if !c.initialized {
		c.stateMu.Unlock()
		return ErrNotInitialized
	}
	// Held across the write so that disk and memory change together.
	if err := c.store.Save(doc); err != nil {
		c.stateMu.Unlock()
		c.metrics.RecordSettingsUpdate(origin, false)
		return fmt.Errorf("persist settings: %w", err)
	}
	c.doc = doc
	c.applyLocked()
	c.stateMu.Unlock()

	c.metrics.RecordSettingsUpdate(origin, true)
	c.recordRevision(doc, origin)
	c.log.Info("settings updated", "origin", origin, "keys", doc.Len())
	return nil
}

// ReloadSettingsFromDisk replaces the in-memory settings with the stored
// file. It returns false, leaving memory unchanged, when the file is
// missing or invalid.
func (c *Controller) ReloadSettingsFromDisk() bool {
	if err := c.ReloadSettingsE(); err != nil {
		c.log.Warn("settings reload failed", "error", err)
		return false
	}
	return true
}

// ReloadSettingsE is ReloadSettingsFromDisk returning the cause of failure.
func (c *Controller) ReloadSettingsE() error {
	c.stateMu.Lock()
	if !c.initialized {
		c.stateMu.Unlock()
		return ErrNotInitialized
	}

	// Read under the lock so a concurrent update cannot land between the
	// read and the swap.
	doc, err := c.store.Load()
	if err != nil {
		c.stateMu.Unlock()
		c.metrics.RecordSettingsUpdate(journal.OriginReload, false)
		return err
	}
	changed := !c.doc.Equal(doc)
	c.doc = doc
	c.applyLocked()
	c.stateMu.Unlock()

	c.metrics.RecordSettingsUpdate(journal.OriginReload, true)
	if changed {
		c.recordRevision(doc, journal.OriginReload)
		c.log.Info("settings reloaded", "path", c.store.Path(), "keys", doc.Len())
	}
	return nil
}

func (c *Controller) onSettingsFileChanged() {
	defer logging.Recover(c.log, "settings watch", nil)
	if err := c.ReloadSettingsE(); err != nil {
		c.log.Warn("reload after settings file change failed", "error", err)
	}
}

func (c *Controller) recordRevision(doc settings.Document, origin string) {
	j := c.journal.Load()
	if j == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := j.RecordRevision(ctx, journal.Revision{Origin: origin, Document: doc.String()}); err != nil {
		c.log.Warn("journal revision failed", "error", err)
	}
}

func (c *Controller) isInitialized() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.initialized
}

// StartMonitoring engages the keyboard tap. It returns false when not
// initialized, already monitoring, or when the OS refuses the tap.
func (c *Controller) StartMonitoring() bool {
	if err := c.StartMonitoringE(); err != nil {
		if errors.Is(err, ErrAlreadyMonitoring) {
			c.log.Debug("start monitoring ignored", "error", err)
		} else {
			c.log.Error("start monitoring failed", "error", err)
		}
		return false
	}
	return true
}

// StartMonitoringE is StartMonitoring returning the cause of failure.
func (c *Controller) StartMonitoringE() error {
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()

	if !c.isInitialized() {
		return ErrNotInitialized
	}
	if c.monitoring.Load() {
		return ErrAlreadyMonitoring
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.tap.Start(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("start event tap: %w", err)
	}

	c.cancel = cancel
	c.monitoring.Store(true)
	c.metrics.SetMonitoring(true)

	c.wg.Add(1)
	go c.dispatch(ctx, events)

	c.log.Info("monitoring started")
	return nil
}

// StopMonitoring disengages the tap. It is a no-op when not monitoring.
func (c *Controller) StopMonitoring() {
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()

	if !c.monitoring.Load() {
		return
	}
	c.stopLocked()
	c.log.Info("monitoring stopped")
}

// stopLocked tears the monitoring session down. monitorMu must be held.
func (c *Controller) stopLocked() {
	c.cancel()
	if err := c.tap.Stop(); err != nil {
		c.log.Warn("stop event tap", "error", err)
	}
	c.wg.Wait()

	c.cancel = nil
	c.monitoring.Store(false)
	c.metrics.SetMonitoring(false)
}

// ApplyConfig takes the parts of a reloaded config that can change while
// running. Only the tap window qualifies; the dispatch worker picks it up on
// the next event.
func (c *Controller) ApplyConfig(next *config.Config) {
	if next == nil || next.Monitor.MaxTapMs <= 0 {
		return
	}
	d := time.Duration(next.Monitor.MaxTapMs) * time.Millisecond
	if prev := time.Duration(c.maxTap.Swap(int64(d))); prev != d {
		c.log.Info("tap window changed", "from", prev, "to", d)
	}
}

// MaxTapDuration is the longest press still counted as a tap.
func (c *Controller) MaxTapDuration() time.Duration {
	return time.Duration(c.maxTap.Load())
}

// tapClosed runs when the tap ends its stream on its own, e.g. the last
// keyboard went away or the system revoked the tap. ctx is the session's
// context; if it is already cancelled, StopMonitoring got there first.
func (c *Controller) tapClosed(ctx context.Context) {
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()

	if ctx.Err() != nil || !c.monitoring.Load() {
		return
	}
	c.stopLocked()
	c.log.Warn("event tap closed, monitoring stopped")
}

// IsMonitoring reports whether the tap is engaged.
func (c *Controller) IsMonitoring() bool {
	return c.monitoring.Load()
}

// SettingsPath returns the settings file location.
func (c *Controller) SettingsPath() string {
	return c.store.Path()
}

// Metrics returns the controller's collectors.
func (c *Controller) Metrics() *metrics.Metrics {
	return c.metrics
}

// Journal returns the activity journal, or nil when disabled.
func (c *Controller) Journal() *journal.Store {
	return c.journal.Load()
}

// Tap returns the keyboard tap.
func (c *Controller) Tap() eventtap.Tap {
	return c.tap
}

// Health returns the component checker served on /healthz.
func (c *Controller) Health() *health.Checker {
	return c.health
}

// Switcher returns the input source switcher.
func (c *Controller) Switcher() inputsource.Switcher {
	return c.switcher
}

// Shutdown stops monitoring and the settings watcher and closes a journal
// the controller opened. The controller stays usable for settings calls.
func (c *Controller) Shutdown() {
	c.StopMonitoring()

	c.stateMu.Lock()
	w := c.watcher
	c.watcher = nil
	own := c.ownJournal
	c.ownJournal = false
	c.stateMu.Unlock()

	if w != nil {
		if err := w.Stop(); err != nil {
			c.log.Warn("stop settings watcher", "error", err)
		}
	}
	if own {
		if j := c.journal.Swap(nil); j != nil {
			if err := j.Close(); err != nil {
				c.log.Warn("close journal", "error", err)
			}
		}
	}
}
