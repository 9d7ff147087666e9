// Package ratelimit implements the token-bucket SpeedLimiter from
// spec.md §4.2, grounded on project-tachyon's BandwidthManager
// (internal/core/bandwidth.go): golang.org/x/time/rate gives zero-overhead
// bypass when disabled and a burst-capable token bucket when enabled.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter is one token bucket: capacity = configured bytes/sec, refill =
// capacity per second, burst = capacity (at most a 1s burst). SetLimit(0)
// disables it with zero overhead on the hot path.
type Limiter struct {
	r       *rate.Limiter
	enabled atomic.Bool
}

// Unlimited returns a Limiter whose Acquire is always a no-op.
func Unlimited() *Limiter {
	return &Limiter{r: rate.NewLimiter(rate.Inf, 0)}
}

// New returns a Limiter capped at bytesPerSec. bytesPerSec <= 0 means
// unlimited.
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return Unlimited()
	}
	l := &Limiter{r: rate.NewLimiter(rate.Limit(bytesPerSec), int(clampBurst(bytesPerSec)))}
	l.enabled.Store(true)
	return l
}

// SetLimit changes the cap. Takes effect on the next Acquire (spec.md
// §4.2: "changing a limit takes effect on the next acquire").
func (l *Limiter) SetLimit(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		l.enabled.Store(false)
		l.r.SetLimit(rate.Inf)
		return
	}
	l.enabled.Store(true)
	l.r.SetLimit(rate.Limit(bytesPerSec))
	l.r.SetBurst(int(clampBurst(bytesPerSec)))
}

func clampBurst(bytesPerSec int64) int64 {
	const maxInt = int64(^uint(0) >> 1)
	if bytesPerSec > maxInt {
		return maxInt
	}
	return bytesPerSec
}

// Acquire suspends until n tokens (bytes) are available. The granularity
// is one network read's worth of bytes, per spec.md §4.2.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if !l.enabled.Load() {
		return nil
	}
	if n <= 0 {
		return nil
	}
	burst := l.r.Burst()
	if burst > 0 && n > burst {
		// WaitN rejects requests larger than the burst size outright;
		// split into burst-sized chunks so large reads still throttle
		// instead of erroring.
		for n > burst {
			if err := l.r.WaitN(ctx, burst); err != nil {
				return err
			}
			n -= burst
		}
	}
	return l.r.WaitN(ctx, n)
}

// Composite acquires from a per-task limiter and a global limiter before a
// write, global first per spec.md §4.2's documented (but not required)
// convention — the two are independent token buckets, so either order is
// correct, but a fixed order avoids the appearance of a lock-ordering bug
// under review.
type Composite struct {
	Global *Limiter
	Task   *Limiter
}

func (c Composite) Acquire(ctx context.Context, n int) error {
	if c.Global != nil {
		if err := c.Global.Acquire(ctx, n); err != nil {
			return err
		}
	}
	if c.Task != nil {
		if err := c.Task.Acquire(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
