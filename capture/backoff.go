package capture

import (
	"context"
	"time"
)

// Backoff centralizes the exponential-backoff policy used by both the CDX
// index query and the raw snapshot fetch: start at one second, double on
// every failure, cap at one hour.
type Backoff struct {
	next time.Duration
	max  time.Duration
}

// NewBackoff returns a Backoff starting at 1s and capped at 3600s.
func NewBackoff() *Backoff {
	return &Backoff{next: time.Second, max: time.Hour}
}

// Wait sleeps for the current backoff duration (or until ctx is done,
// whichever comes first) and then doubles the duration for next time.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.next)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return nil
}

// Reset returns the backoff to its initial 1s state.
func (b *Backoff) Reset() {
	b.next = time.Second
}

// Current returns the duration that the next Wait call will sleep for.
func (b *Backoff) Current() time.Duration {
	return b.next
}
