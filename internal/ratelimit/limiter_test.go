package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimited_AcquireNeverBlocks(t *testing.T) {
	l := Unlimited()
	start := time.Now()
	err := l.Acquire(context.Background(), 10<<20)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestNew_ZeroOrNegativeMeansUnlimited(t *testing.T) {
	for _, bps := range []int64{0, -1} {
		l := New(bps)
		start := time.Now()
		err := l.Acquire(context.Background(), 10<<20)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestLimiter_SetLimitThrottles(t *testing.T) {
	l := New(10) // 10 bytes/sec, burst 10
	ctx := context.Background()

	// First acquire within burst should be immediate.
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, 10))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// Bucket is now empty; next acquire of 10 more bytes needs ~1s refill.
	start = time.Now()
	require.NoError(t, l.Acquire(ctx, 10))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiter_AcquireLargerThanBurstSplits(t *testing.T) {
	l := New(5) // burst = 5
	ctx := context.Background()

	start := time.Now()
	err := l.Acquire(ctx, 20) // 4x burst: should split into WaitN(5) calls
	require.NoError(t, err)
	// Roughly 3 extra refill waits of ~1s each since the first 5 are free.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestLimiter_AcquireRespectsContextCancellation(t *testing.T) {
	l := New(1) // 1 byte/sec, burst 1
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Acquire(ctx, 1)) // drain the burst
	cancel()

	err := l.Acquire(ctx, 1)
	assert.Error(t, err)
}

func TestComposite_AcquireChecksBothLimiters(t *testing.T) {
	c := Composite{Global: Unlimited(), Task: Unlimited()}
	err := c.Acquire(context.Background(), 1024)
	assert.NoError(t, err)
}

func TestComposite_NilLimitersAreSkipped(t *testing.T) {
	c := Composite{}
	err := c.Acquire(context.Background(), 1024)
	assert.NoError(t, err)
}
