// Package queue provides the bounded-concurrency primitive that keeps
// slow provider subprocesses from oversubscribing the machine. Each
// provider owns one queue; admission is FIFO and the only ordering
// guarantee.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a bounded queue.
type Config struct {
	// Concurrency is the maximum number of tasks running at once.
	// Values below 1 are treated as 1.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Interval is an optional rate window layered on top of the
	// concurrency cap. Zero disables rate limiting.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// IntervalCap is the number of task starts allowed per Interval.
	IntervalCap int `yaml:"interval_cap" json:"interval_cap"`
}

// Queue bounds concurrent task execution.
//
// Slots are modelled as tokens in a buffered channel, the same admission
// pattern used for job semaphores elsewhere in the SDK. An optional
// rate.Limiter throttles task starts inside the window.
type Queue struct {
	slots   chan struct{}
	limiter *rate.Limiter

	active  atomic.Int64
	pending atomic.Int64
}

// New creates a bounded queue.
func New(cfg Config) *Queue {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	q := &Queue{
		slots: make(chan struct{}, concurrency),
	}
	for i := 0; i < concurrency; i++ {
		q.slots <- struct{}{}
	}

	if cfg.Interval > 0 && cfg.IntervalCap > 0 {
		q.limiter = rate.NewLimiter(rate.Every(cfg.Interval/time.Duration(cfg.IntervalCap)), cfg.IntervalCap)
	}

	return q
}

// Active returns the number of tasks currently running.
func (q *Queue) Active() int {
	return int(q.active.Load())
}

// Pending returns the number of tasks waiting for a slot.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Capacity returns the concurrency cap.
func (q *Queue) Capacity() int {
	return cap(q.slots)
}

// acquire blocks until a slot is free or the context ends.
func (q *Queue) acquire(ctx context.Context) error {
	q.pending.Add(1)
	defer q.pending.Add(-1)

	select {
	case <-q.slots:
	case <-ctx.Done():
		return ctx.Err()
	}

	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			q.slots <- struct{}{}
			return err
		}
	}

	q.active.Add(1)
	return nil
}

// release returns a slot to the queue.
func (q *Queue) release() {
	q.active.Add(-1)
	q.slots <- struct{}{}
}

// Add runs task once a queue slot is available and returns its result.
// The caller blocks for the task's full duration; the queue only decides
// when the task may start.
func Add[T any](ctx context.Context, q *Queue, task func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := q.acquire(ctx); err != nil {
		return zero, err
	}
	defer q.release()

	return task(ctx)
}
