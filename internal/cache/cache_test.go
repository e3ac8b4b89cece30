package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-dispatch/internal/clock"
)

type gatedFactory struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func newGatedFactory() *gatedFactory {
	return &gatedFactory{gate: make(chan struct{})}
}

func (f *gatedFactory) fn(context.Context) (string, error) {
	n := f.calls.Add(1)
	<-f.gate
	if f.err != nil {
		return "", f.err
	}
	return "value-" + string(rune('0'+n)), nil
}

func TestAcquireSharesInFlightRefresh(t *testing.T) {
	t.Parallel()

	f := newGatedFactory()
	c := New(time.Hour, f.fn)

	const callers = 16
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Acquire(context.Background())
			assert.NoError(t, err)
			results <- v
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(results)

	for v := range results {
		assert.Equal(t, "value-1", v)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAcquireFailureReachesEveryWaiterAndLeavesCacheEmpty(t *testing.T) {
	t.Parallel()

	boom := errors.New("browser crashed")
	f := newGatedFactory()
	f.err = boom
	c := New(time.Hour, f.fn, WithName("session"))

	const callers = 4
	errs := make(chan error, callers)
	for range callers {
		go func() {
			_, err := c.Acquire(context.Background())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)

	for range callers {
		err := <-errs
		require.ErrorIs(t, err, ErrRefresh)
		require.ErrorIs(t, err, boom)
		var rerr *RefreshError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "session", rerr.Cache)
	}

	f.err = nil
	v, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "value-2", v)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestAcquireRefreshesAfterTTL(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Unix(1700000000, 0))
	var calls atomic.Int32
	c := New(time.Minute, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	}, WithClock(clk))

	v, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	clk.Advance(59 * time.Second)
	v, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	clk.Advance(time.Second)
	v, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)

	v, err = c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReleaseForcesRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := New(time.Hour, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)
	c.Release()
	v, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestReleaseDuringRefreshIsIgnored(t *testing.T) {
	t.Parallel()

	f := newGatedFactory()
	c := New(time.Hour, f.fn)

	done := make(chan string, 1)
	go func() {
		v, err := c.Acquire(context.Background())
		assert.NoError(t, err)
		done <- v
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Release()
	close(f.gate)
	require.Equal(t, "value-1", <-done)

	v, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "value-1", v)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAcquireCanceledWaiterDoesNotAbortRefresh(t *testing.T) {
	t.Parallel()

	f := newGatedFactory()
	c := New(time.Hour, f.fn)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(f.gate)
	v, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "value-1", v)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestAcquireRecoversFactoryPanic(t *testing.T) {
	t.Parallel()

	c := New(time.Hour, func(context.Context) (string, error) {
		panic("nil template")
	})
	_, err := c.Acquire(context.Background())
	require.ErrorIs(t, err, ErrRefresh)
	require.ErrorContains(t, err, "nil template")
}
