//go:build !darwin

package inputsource

import "fmt"

func newTIS() (Switcher, error) {
	return nil, fmt.Errorf("%w: Text Input Sources require macOS", ErrNotAvailable)
}
