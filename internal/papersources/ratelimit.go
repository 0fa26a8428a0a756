package papersources

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// Default request queue settings.
const (
	DefaultRequestsPerWindow = 3
	DefaultWindow            = time.Second
	DefaultRequestDelay      = 100 * time.Millisecond
)

// QueueConfig configures a RequestQueue.
type QueueConfig struct {
	// RequestsPerWindow is the ceiling of task starts per window.
	RequestsPerWindow int

	// Window is the duration of the rolling window.
	Window time.Duration

	// RequestDelay is the minimum spacing between consecutive task starts.
	// A negative value disables spacing.
	RequestDelay time.Duration
}

func (c *QueueConfig) applyDefaults() {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = DefaultRequestsPerWindow
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.RequestDelay == 0 {
		c.RequestDelay = DefaultRequestDelay
	}
}

// QueueOption customizes a RequestQueue.
type QueueOption func(*RequestQueue)

// WithQueueLogger sets the logger used for queue diagnostics.
func WithQueueLogger(logger zerolog.Logger) QueueOption {
	return func(q *RequestQueue) {
		q.logger = logger
	}
}

// WithQueueMetrics sets the metrics sink for queue depth and wait time.
func WithQueueMetrics(m *observability.Metrics) QueueOption {
	return func(q *RequestQueue) {
		q.metrics = m
	}
}

// RequestQueue throttles work sent to one external backend.
//
// At most RequestsPerWindow tasks start per Window; excess tasks wait in a
// priority queue. Higher priority runs first, equal priorities run in
// submission order. Tasks run one at a time, and consecutive starts are
// spaced by at least RequestDelay.
//
// One queue should exist per backend for the lifetime of the process; the
// ceiling is a property of the backend, not of any single caller. It is safe
// for concurrent use.
type RequestQueue struct {
	name string

	mu           sync.Mutex
	tasks        taskHeap
	seq          uint64
	processing   bool
	maxPerWindow int
	window       time.Duration
	windowStart  time.Time
	windowCount  int

	spacing *rate.Limiter
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewRequestQueue creates a queue for the named backend.
func NewRequestQueue(name string, cfg QueueConfig, opts ...QueueOption) *RequestQueue {
	cfg.applyDefaults()

	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}

	q := &RequestQueue{
		name:         name,
		maxPerWindow: cfg.RequestsPerWindow,
		window:       cfg.Window,
		spacing:      rate.NewLimiter(limit, 1),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the backend name this queue throttles.
func (q *RequestQueue) Name() string {
	return q.name
}

// Do runs task once the queue permits it and returns the task's error.
//
// If ctx is cancelled while the task is still queued, Do returns ctx.Err()
// and the task is skipped without consuming window budget. A nil queue runs
// the task immediately.
func (q *RequestQueue) Do(ctx context.Context, priority int, task func(context.Context) error) error {
	if q == nil {
		return task(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &queuedTask{
		ctx:        ctx,
		run:        task,
		priority:   priority,
		done:       make(chan error, 1),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.seq++
	t.seq = q.seq
	heap.Push(&q.tasks, t)
	q.reportDepthLocked()
	if !q.processing {
		q.processing = true
		go q.process()
	}
	q.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue runs task through q and returns its value. It is the typed
// counterpart of RequestQueue.Do.
func Enqueue[T any](ctx context.Context, q *RequestQueue, priority int, task func(context.Context) (T, error)) (T, error) {
	out := make(chan T, 1)
	err := q.Do(ctx, priority, func(ctx context.Context) error {
		v, err := task(ctx)
		if err != nil {
			return err
		}
		out <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-out, nil
}

// SetRateLimit changes the per-window ceiling. It applies from the next
// window evaluation; tasks already started are unaffected.
func (q *RequestQueue) SetRateLimit(requestsPerWindow int) {
	if requestsPerWindow < 1 {
		requestsPerWindow = 1
	}
	q.mu.Lock()
	q.maxPerWindow = requestsPerWindow
	q.mu.Unlock()

	q.logger.Info().
		Str("queue", q.name).
		Int("requests_per_window", requestsPerWindow).
		Msg("rate limit updated")
}

// RateLimit returns the current per-window ceiling.
func (q *RequestQueue) RateLimit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxPerWindow
}

// ClearQueue fails every task that has not started yet with
// domain.ErrQueueCleared and returns how many were discarded.
// It is meant for teardown.
func (q *RequestQueue) ClearQueue() int {
	q.mu.Lock()
	pending := q.tasks
	q.tasks = nil
	q.reportDepthLocked()
	q.mu.Unlock()

	for _, t := range pending {
		t.done <- domain.ErrQueueCleared
	}
	if len(pending) > 0 {
		q.logger.Warn().
			Str("queue", q.name).
			Int("discarded", len(pending)).
			Msg("request queue cleared")
	}
	return len(pending)
}

// Len returns the number of tasks waiting to start.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// process drains the queue. Only one process goroutine runs per queue; it
// exits when the queue is empty and is restarted by the next Do.
func (q *RequestQueue) process() {
	for {
		if q.idle() {
			return
		}

		// Spacing between starts. The limiter never errors on a background context.
		_ = q.spacing.Wait(context.Background())

		q.mu.Lock()
		if q.tasks.Len() == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}

		now := time.Now()
		if now.Sub(q.windowStart) >= q.window {
			q.windowStart = now
			q.windowCount = 0
		}
		if q.windowCount >= q.maxPerWindow {
			wait := q.window - now.Sub(q.windowStart)
			q.mu.Unlock()
			q.logger.Debug().
				Str("queue", q.name).
				Dur("wait", wait).
				Msg("rate window exhausted")
			time.Sleep(wait)
			continue
		}

		t := heap.Pop(&q.tasks).(*queuedTask)
		q.reportDepthLocked()
		if err := t.ctx.Err(); err != nil {
			q.mu.Unlock()
			t.done <- err
			continue
		}
		q.windowCount++
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.RecordQueueWait(q.name, time.Since(t.enqueuedAt).Seconds())
		}
		t.done <- q.execute(t)
	}
}

// idle marks the queue as not processing when it has no work.
func (q *RequestQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		q.processing = false
		return true
	}
	return false
}

// execute runs a task, converting a panic into an error so one bad task
// cannot take the queue down.
func (q *RequestQueue) execute(t *queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued task panicked: %v", r)
			q.logger.Error().
				Str("queue", q.name).
				Interface("panic", r).
				Msg("queued task panicked")
		}
	}()
	return t.run(t.ctx)
}

func (q *RequestQueue) reportDepthLocked() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(q.name, q.tasks.Len())
	}
}

// queuedTask is a unit of work waiting in a RequestQueue.
type queuedTask struct {
	ctx        context.Context
	run        func(context.Context) error
	priority   int
	seq        uint64
	done       chan error
	enqueuedAt time.Time
}

// taskHeap orders tasks by descending priority, then ascending sequence.
type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*queuedTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
