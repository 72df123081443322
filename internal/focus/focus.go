// Package focus reports which application is frontmost, so that switching
// can be suppressed in excluded apps.
package focus

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknown is returned when the frontmost application cannot be
// determined.
var ErrUnknown = errors.New("frontmost application unknown")

// App identifies an application.
type App struct {
	Name string
	// BundleID is the macOS bundle identifier, or the X11 WM_CLASS class
	// on Linux.
	BundleID string
	PID      int
}

// Provider looks up the frontmost application.
type Provider interface {
	Frontmost(ctx context.Context) (App, error)
}

// New returns the platform provider.
func New() Provider {
	return newPlatformProvider()
}

// Static is a Provider with a settable answer.
type Static struct {
	mu  sync.Mutex
	app App
	err error
}

// NewStatic returns a provider that reports app.
func NewStatic(app App) *Static {
	return &Static{app: app}
}

// Set changes the reported app and clears any error.
func (s *Static) Set(app App) {
	s.mu.Lock()
	s.app = app
	s.err = nil
	s.mu.Unlock()
}

// Fail makes Frontmost return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Frontmost implements Provider.
func (s *Static) Frontmost(ctx context.Context) (App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return App{}, s.err
	}
	return s.app, nil
}
