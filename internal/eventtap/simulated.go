package eventtap

import (
	"context"
	"sync"
	"time"
)

// Simulated is a Tap driven by method calls instead of the OS. Tests inject
// it through runtime.Options.
type Simulated struct {
	stream

	mu       sync.Mutex
	startErr error
	cancel   context.CancelFunc
	done     chan struct{}
	now      func() time.Time
}

// NewSimulated creates a simulated tap with the given queue length.
func NewSimulated(bufferSize int) *Simulated {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &Simulated{now: time.Now}
	s.size = bufferSize
	return s
}

// FailStart makes subsequent Start calls return err (nil to clear).
func (s *Simulated) FailStart(err error) {
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
}

// Start implements Tap.
func (s *Simulated) Start(ctx context.Context) (<-chan Event, error) {
	s.mu.Lock()
	err := s.startErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch, err := s.open()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		<-ctx.Done()
		s.close()
	}()

	return ch, nil
}

// Stop implements Tap.
func (s *Simulated) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Hangup ends the event stream the way the OS does when the tap is revoked
// or the last device disappears. Stop is still safe afterwards.
func (s *Simulated) Hangup() {
	s.close()
}

// Available implements Tap.
func (s *Simulated) Available() (bool, string) {
	return true, "simulated tap"
}

// Running reports whether the tap is engaged.
func (s *Simulated) Running() bool {
	return s.isRunning()
}

// Emit delivers ev as if it came from the OS. It reports whether the event
// was queued.
func (s *Simulated) Emit(ev Event) bool {
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	return s.emit(ev)
}

// Tap simulates a solo press and release of a modifier.
func (s *Simulated) Tap(key uint16) {
	s.Emit(Event{Kind: KindFlagsChanged, KeyCode: key, Down: true})
	s.Emit(Event{Kind: KindFlagsChanged, KeyCode: key, Down: false})
}

// Chord simulates holding modifier while pressing another key.
func (s *Simulated) Chord(modifier uint16) {
	s.Emit(Event{Kind: KindFlagsChanged, KeyCode: modifier, Down: true})
	s.Emit(Event{Kind: KindKeyDown, KeyCode: KeyOther, Down: true})
	s.Emit(Event{Kind: KindFlagsChanged, KeyCode: modifier, Down: false})
}
