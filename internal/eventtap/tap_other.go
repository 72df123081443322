//go:build !darwin && !linux

package eventtap

import "context"

type unsupportedTap struct {
	stream
}

func newPlatformTap(bufferSize int) Tap {
	t := &unsupportedTap{}
	t.size = bufferSize
	return t
}

func (t *unsupportedTap) Start(ctx context.Context) (<-chan Event, error) {
	return nil, ErrNotAvailable
}

func (t *unsupportedTap) Stop() error { return nil }

func (t *unsupportedTap) Available() (bool, string) {
	return false, "keyboard monitoring is not supported on this platform"
}
