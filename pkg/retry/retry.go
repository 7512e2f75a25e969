// Package retry provides bounded exponential backoff for subprocess
// execution. Only transient failures are retried; security-validation
// failures and parse failures never reach this package.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
)

// Config configures the backoff behavior for one provider.
type Config struct {
	// MaxAttempts is the total attempt budget including the first try.
	// Values below 1 are treated as 1 (no retries).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// Multiplier grows the delay after each failed attempt.
	// Values at or below 1 mean constant delay.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Jitter adds randomness to each delay to avoid lockstep retries.
	// Value between 0.0 (none) and 1.0 (full).
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// DefaultConfig returns the retry configuration used when a provider
// doesn't specify one: 3 attempts, 1s initial delay, doubling, 30s ceiling.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       0.1,
	}
}

// Delay returns the backoff delay before the given retry (1-based: the
// delay before attempt 2 is Delay(1)).
func (c Config) Delay(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}

	multiplier := c.Multiplier
	if multiplier <= 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(multiplier, float64(retries-1)))

	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.Jitter > 0 {
		jitter := min(c.Jitter, 1)
		span := float64(delay) * jitter
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*span)
	}

	return delay
}

// Do runs op with bounded retries. An attempt that fails with a
// non-retryable error (see errors.IsRetryable) stops immediately; a
// cancelled context stops between attempts. The last error is returned
// when the budget is exhausted.
func Do[T any](ctx context.Context, cfg Config, log logging.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	log = logging.OrNop(log)

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := cfg.Delay(attempt)
		log.Warn("attempt %d/%d failed (%v), retrying in %v", attempt, attempts, err, delay)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
