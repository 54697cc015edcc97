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
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestGetOrRefresh_CachesUntilExpiry(t *testing.T) {
	clk := newFakeClock()
	c := New[string](clk.Now)

	var calls atomic.Int32
	fetch := func(_ context.Context) (string, time.Time, error) {
		n := calls.Add(1)
		return "v" + string(rune('0'+n)), clk.Now().Add(time.Minute), nil
	}

	v, err := c.GetOrRefresh(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = c.GetOrRefresh(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(time.Minute)

	v, err = c.GetOrRefresh(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrRefresh_FetchErrorNotCached(t *testing.T) {
	c := New[int](nil)

	boom := errors.New("boom")
	_, err := c.GetOrRefresh(context.Background(), "k", func(context.Context) (int, time.Time, error) {
		return 0, time.Time{}, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestRefresh_ReplacesValue(t *testing.T) {
	clk := newFakeClock()
	c := New[string](clk.Now)

	_, err := c.Refresh(context.Background(), "k", func(context.Context) (string, time.Time, error) {
		return "old", clk.Now().Add(time.Hour), nil
	})
	require.NoError(t, err)

	_, err = c.Refresh(context.Background(), "k", func(context.Context) (string, time.Time, error) {
		return "new", clk.Now().Add(time.Hour), nil
	})
	require.NoError(t, err)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestInvalidate(t *testing.T) {
	c := New[string](nil)

	_, err := c.Refresh(context.Background(), "k", func(context.Context) (string, time.Time, error) {
		return "v", time.Now().Add(time.Hour), nil
	})
	require.NoError(t, err)

	c.Invalidate("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestGetOrRefresh_ConcurrentCallersShareValue(t *testing.T) {
	c := New[string](nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, time.Time, error) {
		calls.Add(1)
		<-release

		return "shared", time.Now().Add(time.Hour), nil
	}

	const workers = 8

	var wg sync.WaitGroup

	results := make([]string, workers)
	for i := range workers {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			v, err := c.GetOrRefresh(context.Background(), "k", fetch)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "shared", v)
	}

	// Late arrivals may trigger a second refresh; that is wasted work, not an error.
	assert.LessOrEqual(t, calls.Load(), int32(workers))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestRefresh_CallerCancelDoesNotFailSharedFetch(t *testing.T) {
	c := New[string](nil)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, time.Time, error) {
		started <- struct{}{}
		<-release

		if err := ctx.Err(); err != nil {
			return "", time.Time{}, err
		}

		return "fresh", time.Now().Add(time.Hour), nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	type result struct {
		v   string
		err error
	}

	first := make(chan result, 1)
	go func() {
		v, err := c.Refresh(ctx, "k", fetch)
		first <- result{v, err}
	}()

	<-started

	second := make(chan result, 1)
	go func() {
		v, err := c.GetOrRefresh(context.Background(), "k", fetch)
		second <- result{v, err}
	}()

	cancel()
	close(release)

	for _, ch := range []chan result{first, second} {
		res := <-ch
		require.NoError(t, res.err)
		assert.Equal(t, "fresh", res.v)
	}

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)
}
