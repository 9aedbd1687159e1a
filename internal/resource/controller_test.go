package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilController(t *testing.T) {
	var c *Controller

	assert.NoError(t, c.AcquireBackground(context.Background()))
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()

	assert.NoError(t, c.AcquireIO(context.Background(), 1<<20))
	assert.True(t, c.TryAcquireIO(1<<20))

	assert.True(t, c.TryAcquireMapping())
	c.ReleaseMapping()

	var wg sync.WaitGroup
	wg.Add(1)
	c.Go(func() { wg.Done() })
	wg.Wait()
}

func TestBackgroundSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	require.True(t, c.TryAcquireBackground())
	require.True(t, c.TryAcquireBackground())
	assert.False(t, c.TryAcquireBackground(), "pool is full")

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())

	c.ReleaseBackground()
	c.ReleaseBackground()
}

func TestGoBoundsConcurrency(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	var (
		wg      sync.WaitGroup
		running atomic.Int32
		peak    atomic.Int32
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		c.Go(func() {
			defer wg.Done()

			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAcquireIO(t *testing.T) {
	t.Run("no limiter", func(t *testing.T) {
		c := NewController(Config{})
		assert.NoError(t, c.AcquireIO(context.Background(), 1<<30))
	})

	t.Run("splits oversized requests", func(t *testing.T) {
		c := NewController(Config{IOLimitBytesPerSec: 50_000})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Larger than the burst; a bare WaitN would reject this outright.
		require.NoError(t, c.AcquireIO(ctx, 75_000))
	})

	t.Run("canceled context", func(t *testing.T) {
		c := NewController(Config{IOLimitBytesPerSec: 10})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, c.AcquireIO(ctx, 100))
	})

	t.Run("try", func(t *testing.T) {
		c := NewController(Config{IOLimitBytesPerSec: 1000})

		assert.True(t, c.TryAcquireIO(100))
		assert.False(t, c.TryAcquireIO(10_000), "exceeds burst")
	})
}

func TestMappingSlots(t *testing.T) {
	c := NewController(Config{MaxMappedFiles: 1})

	require.True(t, c.TryAcquireMapping())
	assert.False(t, c.TryAcquireMapping())

	c.ReleaseMapping()
	assert.True(t, c.TryAcquireMapping())
}
