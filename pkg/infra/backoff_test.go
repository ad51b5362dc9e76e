package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	t.Run("grows within jitter bounds and caps at max", func(t *testing.T) {
		b := NewBackoff(100*time.Millisecond, 400*time.Millisecond, 2.0)

		first := b.Next()
		assert.GreaterOrEqual(t, first, 100*time.Millisecond)
		assert.LessOrEqual(t, first, 120*time.Millisecond)

		second := b.Next()
		assert.GreaterOrEqual(t, second, 160*time.Millisecond)
		assert.LessOrEqual(t, second, 240*time.Millisecond)

		for range 5 {
			assert.LessOrEqual(t, b.Next(), 480*time.Millisecond)
		}
		assert.Equal(t, 7, b.Attempts())
	})

	t.Run("reset returns to the minimum delay", func(t *testing.T) {
		b := NewBackoff(50*time.Millisecond, time.Second, 3.0)
		b.Next()
		b.Next()
		b.Reset()

		assert.Equal(t, 0, b.Attempts())
		assert.LessOrEqual(t, b.Next(), 60*time.Millisecond)
	})
}

func TestBackoffWait(t *testing.T) {
	t.Run("returns after the delay", func(t *testing.T) {
		b := NewBackoff(time.Millisecond, 5*time.Millisecond, 2.0)
		delay, err := b.Wait(context.Background())
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, delay, time.Millisecond)
	})

	t.Run("stops early on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		b := NewBackoff(time.Hour, time.Hour, 2.0)
		_, err := b.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
