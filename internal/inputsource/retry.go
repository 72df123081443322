package inputsource

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying wraps a Switcher and retries transient Select failures with
// exponential backoff. ErrSourceNotFound and ErrNotAvailable are permanent.
type Retrying struct {
	next    Switcher
	maxWait time.Duration
	initial time.Duration
}

// WithRetry wraps s. A maxWait of zero disables retries.
func WithRetry(s Switcher, maxWait time.Duration) *Retrying {
	return &Retrying{next: s, maxWait: maxWait, initial: 10 * time.Millisecond}
}

// Select implements Switcher.
func (r *Retrying) Select(ctx context.Context, id string) error {
	if r.maxWait <= 0 {
		return r.next.Select(ctx, id)
	}

	op := func() error {
		err := r.next.Select(ctx, id)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSourceNotFound) || errors.Is(err, ErrNotAvailable) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.maxWait / 2
	b.MaxElapsedTime = r.maxWait

	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Current implements Switcher.
func (r *Retrying) Current(ctx context.Context) (string, error) {
	return r.next.Current(ctx)
}

// List implements Lister when the wrapped switcher does.
func (r *Retrying) List(ctx context.Context) ([]string, error) {
	if l, ok := r.next.(Lister); ok {
		return l.List(ctx)
	}
	return nil, ErrNotAvailable
}

// Unwrap returns the wrapped switcher.
func (r *Retrying) Unwrap() Switcher {
	return r.next
}
