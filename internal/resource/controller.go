package resource

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the limits a Controller enforces.
type Config struct {
	// MaxBackgroundWorkers caps concurrently running scheduled tasks.
	// If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec throttles bytes written through the environment.
	// If 0, writes are unthrottled.
	IOLimitBytesPerSec int64

	// MaxMappedFiles caps concurrently open memory mappings.
	// If 0, mappings are unbudgeted.
	MaxMappedFiles int64
}

// Controller hands out worker slots, IO tokens and mapping slots.
type Controller struct {
	bgSem     *semaphore.Weighted
	mapSem    *semaphore.Weighted
	ioLimiter *rate.Limiter
	ioBurst   int
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.MaxMappedFiles > 0 {
		c.mapSem = semaphore.NewWeighted(cfg.MaxMappedFiles)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
		c.ioBurst = int(cfg.IOLimitBytesPerSec)
	}

	return c
}

// Go runs task on the background pool and returns immediately. The task
// waits for a free slot in its own goroutine, so submission never blocks
// the caller; nothing orders one submission against another.
func (c *Controller) Go(task func()) {
	if c == nil {
		go task()
		return
	}
	go func() {
		_ = c.bgSem.Acquire(context.Background(), 1)
		defer c.bgSem.Release(1)
		task()
	}()
}

// AcquireBackground reserves a worker slot, blocking while all slots are
// busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground returns a worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO blocks until the throughput limit admits the given number of
// bytes. Requests larger than the limiter's burst are admitted in burst
// sized installments rather than rejected.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return nil
	}
	for bytes > 0 {
		n := bytes
		if n > c.ioBurst {
			n = c.ioBurst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryAcquireIO admits bytes only if the limiter can cover them right now.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return true
	}
	if bytes > c.ioBurst {
		return false
	}
	return c.ioLimiter.AllowN(time.Now(), bytes)
}

// TryAcquireMapping reserves a memory mapping slot without blocking.
func (c *Controller) TryAcquireMapping() bool {
	if c == nil || c.mapSem == nil {
		return true
	}
	return c.mapSem.TryAcquire(1)
}

// ReleaseMapping returns a memory mapping slot.
func (c *Controller) ReleaseMapping() {
	if c == nil || c.mapSem == nil {
		return
	}
	c.mapSem.Release(1)
}
