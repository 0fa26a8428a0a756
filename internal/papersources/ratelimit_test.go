package papersources

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// blockQueue occupies q with a task that runs until the returned release
// func is called. Tasks run one at a time, so anything submitted afterwards
// waits in the heap.
func blockQueue(t *testing.T, q *RequestQueue) (release func(), done <-chan error) {
	t.Helper()

	started := make(chan struct{})
	gate := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(context.Background(), 0, func(context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking task never started")
	}

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }, errCh
}

func TestNewRequestQueue(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		q := NewRequestQueue("defaults", QueueConfig{})

		require.NotNil(t, q)
		assert.Equal(t, "defaults", q.Name())
		assert.Equal(t, DefaultRequestsPerWindow, q.RateLimit())
		assert.Equal(t, DefaultWindow, q.window)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("uses custom config", func(t *testing.T) {
		q := NewRequestQueue("custom", QueueConfig{
			RequestsPerWindow: 10,
			Window:            2 * time.Second,
			RequestDelay:      -1,
		})

		assert.Equal(t, 10, q.RateLimit())
		assert.Equal(t, 2*time.Second, q.window)
	})
}

func TestRequestQueue_Do(t *testing.T) {
	t.Run("returns task result", func(t *testing.T) {
		q := NewRequestQueue("result", QueueConfig{RequestDelay: -1})

		var ran atomic.Bool
		err := q.Do(context.Background(), 0, func(context.Context) error {
			ran.Store(true)
			return nil
		})

		require.NoError(t, err)
		assert.True(t, ran.Load())
	})

	t.Run("failing task fails only its caller", func(t *testing.T) {
		q := NewRequestQueue("failing", QueueConfig{RequestDelay: -1})
		boom := errors.New("boom")

		err := q.Do(context.Background(), 0, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)

		err = q.Do(context.Background(), 0, func(context.Context) error { return nil })
		assert.NoError(t, err)
	})

	t.Run("recovers panicking task", func(t *testing.T) {
		q := NewRequestQueue("panicking", QueueConfig{RequestDelay: -1})

		err := q.Do(context.Background(), 0, func(context.Context) error { panic("kaboom") })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")

		err = q.Do(context.Background(), 0, func(context.Context) error { return nil })
		assert.NoError(t, err)
	})

	t.Run("nil queue runs task directly", func(t *testing.T) {
		var q *RequestQueue

		var ran bool
		err := q.Do(context.Background(), 0, func(context.Context) error {
			ran = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("returns immediately for cancelled context", func(t *testing.T) {
		q := NewRequestQueue("precancelled", QueueConfig{RequestDelay: -1})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var ran atomic.Bool
		err := q.Do(ctx, 0, func(context.Context) error {
			ran.Store(true)
			return nil
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ran.Load())
	})
}

func TestEnqueue(t *testing.T) {
	q := NewRequestQueue("enqueue", QueueConfig{RequestDelay: -1})

	t.Run("returns task value", func(t *testing.T) {
		v, err := Enqueue(context.Background(), q, 0, func(context.Context) (string, error) {
			return "pmid-42", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "pmid-42", v)
	})

	t.Run("returns zero value on error", func(t *testing.T) {
		v, err := Enqueue(context.Background(), q, 0, func(context.Context) (int, error) {
			return 7, errors.New("failed")
		})

		require.Error(t, err)
		assert.Equal(t, 0, v)
	})
}

func TestRequestQueue_WindowCeiling(t *testing.T) {
	const window = 300 * time.Millisecond
	q := NewRequestQueue("ceiling", QueueConfig{
		RequestsPerWindow: 3,
		Window:            window,
		RequestDelay:      -1,
	})

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), 0, func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	// The first three start within the first window, the fourth waits for the next.
	assert.Less(t, starts[2].Sub(starts[0]), window)
	assert.GreaterOrEqual(t, starts[3].Sub(starts[0]), window-20*time.Millisecond)
}

func TestRequestQueue_RequestDelay(t *testing.T) {
	q := NewRequestQueue("spacing", QueueConfig{
		RequestsPerWindow: 10,
		Window:            time.Second,
		RequestDelay:      50 * time.Millisecond,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Do(context.Background(), 0, func(context.Context) error { return nil }))
	}

	// Three starts need at least two gaps.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRequestQueue_Priority(t *testing.T) {
	q := NewRequestQueue("priority", QueueConfig{
		RequestsPerWindow: 100,
		Window:            time.Second,
		RequestDelay:      -1,
	})
	release, blockerDone := blockQueue(t, q)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	var wg sync.WaitGroup
	submit := func(name string, priority int) {
		wg.Add(1)
		want := q.Len() + 1
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Do(context.Background(), priority, record(name)))
		}()
		// Wait until queued so submission order is fixed.
		require.Eventually(t, func() bool { return q.Len() == want }, time.Second, time.Millisecond)
	}

	submit("low-first", 1)
	submit("low-second", 1)
	submit("high", 5)
	submit("lowest", 0)

	release()
	require.NoError(t, <-blockerDone)
	wg.Wait()

	assert.Equal(t, []string{"high", "low-first", "low-second", "lowest"}, order)
}

func TestRequestQueue_Isolation(t *testing.T) {
	slow := NewRequestQueue("slow", QueueConfig{
		RequestsPerWindow: 1,
		Window:            2 * time.Second,
		RequestDelay:      -1,
	})
	fast := NewRequestQueue("fast", QueueConfig{
		RequestsPerWindow: 10,
		Window:            time.Second,
		RequestDelay:      -1,
	})

	// Exhaust the slow queue's window and park a second task behind it.
	require.NoError(t, slow.Do(context.Background(), 0, func(context.Context) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = slow.Do(ctx, 0, func(context.Context) error { return nil })
	}()
	require.Eventually(t, func() bool { return slow.Len() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, fast.Do(context.Background(), 0, func(context.Context) error { return nil }))
	assert.Less(t, time.Since(start), 200*time.Millisecond, "fast queue must not wait for the slow one")
}

func TestRequestQueue_ClearQueue(t *testing.T) {
	q := NewRequestQueue("clear", QueueConfig{
		RequestsPerWindow: 100,
		Window:            time.Second,
		RequestDelay:      -1,
	})
	release, blockerDone := blockQueue(t, q)

	var ran atomic.Int32
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- q.Do(context.Background(), 0, func(context.Context) error {
				ran.Add(1)
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 2, q.ClearQueue())
	assert.Equal(t, 0, q.Len())

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errs, domain.ErrQueueCleared)
	}

	// The task already running is unaffected.
	release()
	assert.NoError(t, <-blockerDone)
	assert.Equal(t, int32(0), ran.Load())

	// The queue keeps working after a clear.
	assert.NoError(t, q.Do(context.Background(), 0, func(context.Context) error { return nil }))
	assert.Equal(t, 0, q.ClearQueue())
}

func TestRequestQueue_SetRateLimit(t *testing.T) {
	t.Run("raises the ceiling", func(t *testing.T) {
		q := NewRequestQueue("raise", QueueConfig{
			RequestsPerWindow: 1,
			Window:            time.Second,
			RequestDelay:      -1,
		})
		q.SetRateLimit(3)
		assert.Equal(t, 3, q.RateLimit())

		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, q.Do(context.Background(), 0, func(context.Context) error { return nil }))
		}
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("clamps to one", func(t *testing.T) {
		q := NewRequestQueue("clamp", QueueConfig{})
		q.SetRateLimit(0)
		assert.Equal(t, 1, q.RateLimit())
	})
}

func TestRequestQueue_CancelWhileQueued(t *testing.T) {
	q := NewRequestQueue("cancel", QueueConfig{
		RequestsPerWindow: 100,
		Window:            time.Second,
		RequestDelay:      -1,
	})
	release, blockerDone := blockQueue(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(ctx, 0, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	release()
	require.NoError(t, <-blockerDone)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	// Give the processor a moment in case it was going to run the task.
	require.NoError(t, q.Do(context.Background(), 0, func(context.Context) error { return nil }))
	assert.False(t, ran.Load(), "cancelled task must be skipped")
}

func TestRequestQueue_Metrics(t *testing.T) {
	metrics := observability.NewMetrics("test_request_queue")
	q := NewRequestQueue("pubmed", QueueConfig{RequestDelay: -1}, WithQueueMetrics(metrics))

	require.NoError(t, q.Do(context.Background(), 0, func(context.Context) error { return nil }))

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.QueueWait))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.QueueDepth.WithLabelValues("pubmed")))
}
