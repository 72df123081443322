//go:build !darwin && !linux

package focus

import "context"

type unknownProvider struct{}

func newPlatformProvider() Provider {
	return unknownProvider{}
}

func (unknownProvider) Frontmost(ctx context.Context) (App, error) {
	return App{}, ErrUnknown
}
