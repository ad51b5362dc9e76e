package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff is a jittered exponential delay for reconnect loops (broker links, store pools).
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	floor    time.Duration
	ceiling  time.Duration
	factor   float64
	next     time.Duration
	attempts int
}

func NewBackoff(floor, ceiling time.Duration, factor float64) *Backoff {
	if factor < 1 {
		factor = 1
	}
	return &Backoff{
		floor:   floor,
		ceiling: ceiling,
		factor:  factor,
		next:    floor,
	}
}

// Next returns the delay for the current attempt (±20% jitter, never below the floor)
// and grows the base delay for the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(b.next))
	delay := max(b.next+jitter, b.floor)

	b.next = min(time.Duration(float64(b.next)*b.factor), b.ceiling)

	return delay
}

// Wait sleeps for Next() or until ctx is done, returning ctx.Err() in the latter case
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	delay := b.Next()
	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-t.C:
		return delay, nil
	}
}

// Reset is called once the guarded operation succeeds
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = b.floor
	b.attempts = 0
}

// Attempts counts Next calls since the last Reset
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
