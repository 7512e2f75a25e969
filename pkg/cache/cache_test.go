package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T, ttl time.Duration) *FileCache {
	t.Helper()
	c, err := New(true, t.TempDir(), ttl, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestGetOrSetComputesOnMiss(t *testing.T) {
	c := newTestCache(t, time.Hour)

	payload, fromCache, err := c.GetOrSet(context.Background(), "k1", func(ctx context.Context) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})
	if err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if fromCache {
		t.Error("first GetOrSet should not report fromCache")
	}
	if string(payload) != `{"ok":true}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestGetOrSetHitsOnSecondCall(t *testing.T) {
	c := newTestCache(t, time.Hour)
	var calls atomic.Int32

	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"n":1}`), nil
	}

	if _, _, err := c.GetOrSet(context.Background(), "k1", compute); err != nil {
		t.Fatalf("first GetOrSet() error = %v", err)
	}
	payload, fromCache, err := c.GetOrSet(context.Background(), "k1", compute)
	if err != nil {
		t.Fatalf("second GetOrSet() error = %v", err)
	}
	if !fromCache {
		t.Error("second GetOrSet should report fromCache")
	}
	if string(payload) != `{"n":1}` {
		t.Errorf("payload = %s", payload)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("compute called %d times, want 1", got)
	}
}

func TestGetOrSetDoesNotCacheErrors(t *testing.T) {
	c := newTestCache(t, time.Hour)
	var calls atomic.Int32

	boom := errors.New("provider exploded")
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		if calls.Load() == 1 {
			return nil, boom
		}
		return []byte("ok"), nil
	}

	_, _, err := c.GetOrSet(context.Background(), "k1", compute)
	if !errors.Is(err, boom) {
		t.Fatalf("first GetOrSet() error = %v, want %v", err, boom)
	}

	payload, fromCache, err := c.GetOrSet(context.Background(), "k1", compute)
	if err != nil {
		t.Fatalf("second GetOrSet() error = %v", err)
	}
	if fromCache {
		t.Error("error result must not be served from cache")
	}
	if string(payload) != "ok" {
		t.Errorf("payload = %s", payload)
	}
}

func TestGetOrSetExpiresByTTL(t *testing.T) {
	c := newTestCache(t, time.Millisecond)
	var calls atomic.Int32

	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}

	if _, _, err := c.GetOrSet(context.Background(), "k1", compute); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, fromCache, err := c.GetOrSet(context.Background(), "k1", compute)
	if err != nil {
		t.Fatalf("GetOrSet() after expiry error = %v", err)
	}
	if fromCache {
		t.Error("expired entry should not be a cache hit")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("compute called %d times, want 2", got)
	}
}

func TestGetOrSetSingleFlight(t *testing.T) {
	c := newTestCache(t, time.Hour)
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const workers = 5
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrSet(context.Background(), "hot-key", compute)
		}(i)
	}

	// Let the goroutines pile up on the in-flight entry before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("compute called %d times, want 1", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d error = %v", i, errs[i])
		}
		if string(results[i]) != "shared" {
			t.Errorf("worker %d payload = %s", i, results[i])
		}
	}
}

func TestDisabledCacheAlwaysComputes(t *testing.T) {
	c, err := New(false, "", 0, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Enabled() {
		t.Error("Enabled() = true for disabled cache")
	}

	var calls atomic.Int32
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}
	for i := 0; i < 3; i++ {
		_, fromCache, err := c.GetOrSet(context.Background(), "k", compute)
		if err != nil {
			t.Fatalf("GetOrSet() error = %v", err)
		}
		if fromCache {
			t.Error("disabled cache must never report fromCache")
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("compute called %d times, want 3", got)
	}
}

func TestClearAndStats(t *testing.T) {
	c := newTestCache(t, time.Hour)

	for _, key := range []string{"a", "b", "c"} {
		if _, _, err := c.GetOrSet(context.Background(), key, func(ctx context.Context) ([]byte, error) {
			return []byte(`{"k":"` + key + `"}`), nil
		}); err != nil {
			t.Fatalf("GetOrSet(%q) error = %v", key, err)
		}
	}

	stats := c.GetStats()
	if stats.Entries != 3 {
		t.Errorf("Entries = %d, want 3", stats.Entries)
	}
	if stats.TotalBytes <= 0 {
		t.Error("TotalBytes should be positive")
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := c.GetStats().Entries; got != 0 {
		t.Errorf("Entries after Clear = %d, want 0", got)
	}
}

func TestCorruptEntryTreatedAsMiss(t *testing.T) {
	c := newTestCache(t, time.Hour)

	if _, _, err := c.GetOrSet(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v1"), nil
	}); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}

	// Overwrite the stored entry with garbage that is not valid zstd.
	path := c.entryPath("k")
	if err := os.WriteFile(path, []byte("not zstd at all"), 0o600); err != nil {
		t.Fatalf("corrupting entry: %v", err)
	}

	payload, fromCache, err := c.GetOrSet(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return []byte("v2"), nil
	})
	if err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if fromCache {
		t.Error("corrupt entry should be treated as a miss")
	}
	if string(payload) != "v2" {
		t.Errorf("payload = %s", payload)
	}
}
