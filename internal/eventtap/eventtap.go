// Package eventtap observes OS keyboard events for modifier taps.
//
// A Tap delivers a stream of Events from the OS-level input facility:
//   - macOS: CGEventTap on a private run loop thread (requires the Input
//     Monitoring / Accessibility permission)
//   - Linux: /dev/input/event* (requires the input group or root)
//   - elsewhere: not available
//
// Events are observed, never consumed or modified. Key codes use the macOS
// virtual key code space; other platforms translate into it. Keys other
// than the modifiers of interest are reported as KeyOther.
//
// The OS callback only enqueues. When the consumer falls behind, events are
// dropped and counted rather than blocking the OS input path.
package eventtap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Key codes (macOS virtual key codes).
const (
	KeyCommandRight uint16 = 0x36
	KeyCommandLeft  uint16 = 0x37
	KeyShiftLeft    uint16 = 0x38
	KeyOptionLeft   uint16 = 0x3A
	KeyControlLeft  uint16 = 0x3B
	KeyShiftRight   uint16 = 0x3C
	KeyOptionRight  uint16 = 0x3D
	KeyControlRight uint16 = 0x3E

	// KeyOther stands for any key this package does not name.
	KeyOther uint16 = 0xFFFF
)

// Kind is the type of an observed event.
type Kind int

const (
	// KindFlagsChanged is a modifier press or release.
	KindFlagsChanged Kind = iota
	// KindKeyDown is a non-modifier key press.
	KindKeyDown
)

func (k Kind) String() string {
	switch k {
	case KindFlagsChanged:
		return "flags_changed"
	case KindKeyDown:
		return "key_down"
	default:
		return "unknown"
	}
}

// Event is one observed keyboard event.
type Event struct {
	Kind    Kind
	KeyCode uint16
	// Down is true when a modifier went down. Always true for KindKeyDown.
	Down bool
	Time time.Time
}

// Tap is an OS keyboard observation facility.
type Tap interface {
	// Start engages the facility and returns the event stream. The channel
	// is closed after Stop or when ctx is cancelled.
	Start(ctx context.Context) (<-chan Event, error)

	// Stop disengages the facility. It is a no-op when not running.
	Stop() error

	// Available reports whether the facility can be engaged, with a reason.
	Available() (bool, string)

	// Dropped returns the number of events discarded because the consumer
	// was not keeping up.
	Dropped() uint64
}

var (
	// ErrNotAvailable is returned when the platform has no usable facility.
	ErrNotAvailable = errors.New("keyboard monitoring not available on this platform")

	// ErrPermissionDenied is returned when the OS refuses access.
	ErrPermissionDenied = errors.New("insufficient permissions for keyboard monitoring")

	// ErrAlreadyRunning is returned when Start is called while running.
	ErrAlreadyRunning = errors.New("event tap already running")
)

// DefaultBufferSize is the event queue length used when none is given.
const DefaultBufferSize = 64

// New returns the Tap for the current platform.
func New(bufferSize int) Tap {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return newPlatformTap(bufferSize)
}

// stream is the event queue shared by all implementations.
type stream struct {
	mu      sync.Mutex
	ch      chan Event
	size    int
	running bool
	dropped atomic.Uint64
}

// open creates a fresh channel and marks the stream running.
func (s *stream) open() (chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyRunning
	}
	s.ch = make(chan Event, s.size)
	s.running = true
	return s.ch, nil
}

// emit enqueues ev without blocking. It reports false if ev was dropped.
func (s *stream) emit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// close closes the channel. It reports false if the stream was not running.
func (s *stream) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	close(s.ch)
	s.running = false
	return true
}

func (s *stream) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Dropped returns the number of events discarded.
func (s *stream) Dropped() uint64 {
	return s.dropped.Load()
}
