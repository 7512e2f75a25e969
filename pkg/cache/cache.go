// Package cache provides result caching for analysis requests.
//
// The contract matters more than the backend: GetOrSet guarantees at most
// one computation per key among concurrent callers, which is what lets the
// orchestrator dispatch identical concurrent requests without re-invoking
// providers.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/compress"
	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/shared/fingerprint"
)

// Service is the caching contract consumed by the orchestrator.
type Service interface {
	// Enabled reports whether caching is active.
	Enabled() bool

	// GetOrSet returns the cached payload for key, or runs compute,
	// stores its result, and returns it. Among concurrent callers for the
	// same key, compute runs at most once; the other callers share the
	// in-flight result and report fromCache=true.
	GetOrSet(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) (payload []byte, fromCache bool, err error)
}

// entry is the on-disk envelope, zstd-compressed.
type entry struct {
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// inflight tracks one in-progress computation shared by concurrent callers.
type inflight struct {
	done    chan struct{}
	payload []byte
	err     error
}

// FileCache is a file-backed Service. Entries are JSON envelopes compressed
// with zstd, named by the SHA256 of their key, expired by TTL on read.
type FileCache struct {
	dir     string
	ttl     time.Duration
	enabled bool
	log     logging.Logger

	codec *compress.Codec

	mu       sync.Mutex
	inFlight map[string]*inflight
}

// New creates a FileCache. A disabled cache never reads or writes and
// always invokes compute. ttl <= 0 means entries never expire.
func New(enabled bool, dir string, ttl time.Duration, log logging.Logger) (*FileCache, error) {
	const op = "cache.New"

	c := &FileCache{
		enabled:  enabled,
		ttl:      ttl,
		log:      logging.OrNop(log),
		inFlight: make(map[string]*inflight),
	}
	if !enabled {
		return c, nil
	}

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.E(errors.KindInternal, op, "cannot determine home directory", err)
		}
		dir = filepath.Join(home, ".crosscheck", "cache")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.E(errors.KindInternal, op, "create cache directory", err)
	}
	c.dir = dir
	c.codec = compress.NewCodec(compress.LevelDefault)

	return c, nil
}

// Enabled reports whether caching is active.
func (c *FileCache) Enabled() bool {
	return c.enabled
}

// GetOrSet implements Service.
func (c *FileCache) GetOrSet(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if !c.enabled {
		payload, err := compute(ctx)
		return payload, false, err
	}

	if payload, ok := c.read(key); ok {
		return payload, true, nil
	}

	c.mu.Lock()
	if fl, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.payload, true, fl.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.inFlight[key] = fl
	c.mu.Unlock()

	fl.payload, fl.err = compute(ctx)
	if fl.err == nil {
		c.write(key, fl.payload)
	}

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	close(fl.done)

	return fl.payload, false, fl.err
}

// Clear removes all cache entries.
func (c *FileCache) Clear() error {
	if !c.enabled || c.dir == "" {
		return nil
	}
	files, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, f := range files {
		if filepath.Ext(f.Name()) == ".zst" {
			os.Remove(filepath.Join(c.dir, f.Name())) //nolint:errcheck
		}
	}
	return nil
}

// Stats describes the cache contents.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
}

// GetStats returns information about the cache.
func (c *FileCache) GetStats() Stats {
	stats := Stats{Dir: c.dir}
	if !c.enabled || c.dir == "" {
		return stats
	}
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return stats
	}
	for _, f := range files {
		if filepath.Ext(f.Name()) != ".zst" {
			continue
		}
		if info, err := f.Info(); err == nil {
			stats.Entries++
			stats.TotalBytes += info.Size()
		}
	}
	return stats
}

func (c *FileCache) read(key string) ([]byte, bool) {
	raw, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return nil, false
	}

	decompressed, err := c.codec.Decode(raw)
	if err != nil {
		c.log.Warn("dropping corrupt cache entry for key %s: %v", key[:min(12, len(key))], err)
		os.Remove(c.entryPath(key)) //nolint:errcheck
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(decompressed, &e); err != nil {
		os.Remove(c.entryPath(key)) //nolint:errcheck
		return nil, false
	}

	if c.ttl > 0 && time.Since(e.CreatedAt) > c.ttl {
		os.Remove(c.entryPath(key)) //nolint:errcheck
		return nil, false
	}

	return e.Payload, true
}

func (c *FileCache) write(key string, payload []byte) {
	e := entry{
		Key:       key,
		CreatedAt: time.Now(),
		Payload:   json.RawMessage(payload),
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.log.Warn("cache write skipped: %v", err)
		return
	}

	compressed := c.codec.Encode(data)
	if err := os.WriteFile(c.entryPath(key), compressed, 0o600); err != nil {
		c.log.Warn("cache write failed: %v", err)
	}
}

func (c *FileCache) entryPath(key string) string {
	return filepath.Join(c.dir, fingerprint.Hash(key)+".zst")
}

// Ensure FileCache satisfies the contract.
var _ Service = (*FileCache)(nil)
