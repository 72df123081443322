// Package inputsource selects the active keyboard input source.
//
// Backends:
//   - tis:  macOS Text Input Sources (Carbon)
//   - ibus: IBus global engine over D-Bus (Linux)
//   - none: accepts nothing, for headless runs
//
// Source identifiers are backend specific, e.g.
// "com.apple.inputmethod.Kotoeri.RomajiTyping.Japanese" for TIS or "mozc-jp"
// for IBus.
package inputsource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

var (
	// ErrSourceNotFound is returned when no installed source has the id.
	ErrSourceNotFound = errors.New("input source not found")

	// ErrNotAvailable is returned when the backend cannot be used here.
	ErrNotAvailable = errors.New("input source backend not available")
)

// Switcher selects input sources.
type Switcher interface {
	// Select makes id the active input source.
	Select(ctx context.Context, id string) error

	// Current returns the id of the active input source.
	Current(ctx context.Context) (string, error)
}

// Lister is implemented by switchers that can enumerate enabled sources.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Backend names accepted by New.
const (
	BackendAuto = "auto"
	BackendTIS  = "tis"
	BackendIBus = "ibus"
	BackendNone = "none"
)

// New returns the switcher for backend. "auto" and "" pick the platform
// default.
func New(backend string) (Switcher, error) {
	switch backend {
	case "", BackendAuto:
		if runtime.GOOS == "darwin" {
			return newTIS()
		}
		if runtime.GOOS == "linux" {
			return newIBus()
		}
		return nil, fmt.Errorf("%w: no backend for %s", ErrNotAvailable, runtime.GOOS)
	case BackendTIS:
		return newTIS()
	case BackendIBus:
		return newIBus()
	case BackendNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown input source backend %q", backend)
	}
}

// None is a Switcher that is never available.
type None struct{}

func (None) Select(ctx context.Context, id string) error { return ErrNotAvailable }

func (None) Current(ctx context.Context) (string, error) { return "", ErrNotAvailable }

// Recording is an in-memory Switcher. It knows a fixed set of sources and
// remembers every successful selection.
type Recording struct {
	mu       sync.Mutex
	known    map[string]bool
	current  string
	selected []string
	failures int
	failErr  error
}

// NewRecording creates a switcher that knows the given source ids. With no
// ids, every id is accepted.
func NewRecording(ids ...string) *Recording {
	r := &Recording{}
	if len(ids) > 0 {
		r.known = make(map[string]bool, len(ids))
		for _, id := range ids {
			r.known[id] = true
		}
	}
	return r
}

// FailNext makes the next n Select calls fail with err.
func (r *Recording) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
	r.failErr = err
}

// Select implements Switcher.
func (r *Recording) Select(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures > 0 {
		r.failures--
		return r.failErr
	}
	if r.known != nil && !r.known[id] {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	r.current = id
	r.selected = append(r.selected, id)
	return nil
}

// Current implements Switcher.
func (r *Recording) Current(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

// List implements Lister.
func (r *Recording) List(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	return ids, nil
}

// Selected returns a copy of every successful selection, oldest first.
func (r *Recording) Selected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.selected...)
}
