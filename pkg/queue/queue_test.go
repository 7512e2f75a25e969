package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAdd_ReturnsResult(t *testing.T) {
	q := New(Config{Concurrency: 2})

	got, err := Add(context.Background(), q, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if got != "done" {
		t.Errorf("got %q, want done", got)
	}
}

func TestAdd_BoundsConcurrency(t *testing.T) {
	const cap = 3
	q := New(Config{Concurrency: cap})

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Add(context.Background(), q, func(ctx context.Context) (struct{}, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > cap {
		t.Errorf("peak concurrency %d exceeded cap %d", got, cap)
	}
}

func TestAdd_ContextCancelWhileWaiting(t *testing.T) {
	q := New(Config{Concurrency: 1})

	release := make(chan struct{})
	go func() {
		_, _ = Add(context.Background(), q, func(ctx context.Context) (struct{}, error) {
			<-release
			return struct{}{}, nil
		})
	}()

	// Wait for the first task to hold the slot.
	deadline := time.Now().Add(time.Second)
	for q.Active() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first task never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Add(ctx, q, func(ctx context.Context) (struct{}, error) {
		t.Error("task must not run after cancellation")
		return struct{}{}, nil
	})
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}

	close(release)
}

func TestNew_MinimumConcurrency(t *testing.T) {
	q := New(Config{Concurrency: 0})
	if q.Capacity() != 1 {
		t.Errorf("capacity = %d, want 1", q.Capacity())
	}
}

func TestAdd_RateWindow(t *testing.T) {
	// 2 starts per 100ms: the third start must wait for the window.
	q := New(Config{Concurrency: 10, Interval: 100 * time.Millisecond, IntervalCap: 2})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Add(context.Background(), q, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, nil
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("third start ran after %v, expected rate window to delay it", elapsed)
	}
}

func TestCounters(t *testing.T) {
	q := New(Config{Concurrency: 1})

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Add(context.Background(), q, func(ctx context.Context) (struct{}, error) {
			<-release
			return struct{}{}, nil
		})
	}()

	deadline := time.Now().Add(time.Second)
	for q.Active() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Active never reached 1")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)
	<-done

	if q.Active() != 0 {
		t.Errorf("Active = %d after completion, want 0", q.Active())
	}
}
