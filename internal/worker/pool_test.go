package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolLimitsInFlight(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	var inFlight, peak atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
		}))
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestPoolUnbounded(t *testing.T) {
	t.Parallel()

	p := NewPool(0)
	release := make(chan struct{})
	var started atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			started.Add(1)
			<-release
		}))
	}
	require.Eventually(t, func() bool { return started.Load() == 5 }, time.Second, time.Millisecond)
	close(release)
	p.Wait()
}

func TestPoolSubmitCanceled(t *testing.T) {
	t.Parallel()

	p := NewPool(1)
	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) { t.Error("should not run") })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	p.Wait()
}
