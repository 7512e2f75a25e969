// Package config loads and validates crosscheck configuration from YAML
// files and environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/queue"
	"github.com/crosscheckhq/crosscheck/pkg/retry"
)

// Environment variables recognized at load time. Binary overrides use the
// provider-specific names so they line up with what the security validator
// trusts.
const (
	EnvConfigPath    = "CROSSCHECK_CONFIG"
	EnvCacheDir      = "CROSSCHECK_CACHE_DIR"
	EnvCacheDisabled = "CROSSCHECK_CACHE_DISABLED"
	EnvVerbose       = "CROSSCHECK_VERBOSE"
)

// ProviderConfig holds the settings for a single CLI engine.
type ProviderConfig struct {
	// Binary is the executable path or bare name resolved via PATH.
	Binary string `yaml:"binary" json:"binary"`

	// Model selects the engine model, passed through on the arg vector.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// ReasoningEffort tunes engines that support it (codex).
	ReasoningEffort string `yaml:"reasoning_effort,omitempty" json:"reasoningEffort,omitempty"`

	// Timeout bounds a single subprocess invocation.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// ExtraArgs are appended before the safety flags and subject to the
	// same collision filtering as request-level arguments.
	ExtraArgs []string `yaml:"extra_args,omitempty" json:"extraArgs,omitempty"`

	Queue queue.Config `yaml:"queue" json:"queue"`
	Retry retry.Config `yaml:"retry" json:"retry"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// TemplateConfig identifies the prompt template in use. The identifier and
// version participate in the cache key so template changes invalidate
// cached results.
type TemplateConfig struct {
	ID      string `yaml:"id" json:"id"`
	Version string `yaml:"version" json:"version"`
}

// AggregateConfig tunes the cross-provider merge.
type AggregateConfig struct {
	// SimilarityThreshold is the score at or above which two findings are
	// considered the same issue.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarityThreshold"`
}

// SecretsConfig controls the built-in secret scanner.
type SecretsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// AuditConfig controls the analysis audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// File is the audit log path; empty uses ~/.crosscheck/audit.log.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// StatusConfig selects the analysis status store backend.
type StatusConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Codex  ProviderConfig `yaml:"codex" json:"codex"`
	Gemini ProviderConfig `yaml:"gemini" json:"gemini"`

	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Template  TemplateConfig  `yaml:"template" json:"template"`
	Aggregate AggregateConfig `yaml:"aggregate" json:"aggregate"`
	Secrets   SecretsConfig   `yaml:"secrets" json:"secrets"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Status    StatusConfig    `yaml:"status" json:"status"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Codex: ProviderConfig{
			Binary:          "codex",
			Model:           "gpt-5-codex",
			ReasoningEffort: "medium",
			Timeout:         10 * time.Minute,
			Queue:           queue.Config{Concurrency: 2},
			Retry:           retry.DefaultConfig(),
		},
		Gemini: ProviderConfig{
			Binary:  "gemini",
			Model:   "gemini-2.5-pro",
			Timeout: 5 * time.Minute,
			Queue:   queue.Config{Concurrency: 2},
			Retry:   retry.DefaultConfig(),
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Template: TemplateConfig{
			ID:      "security-review",
			Version: "1",
		},
		Aggregate: AggregateConfig{
			SimilarityThreshold: 0.8,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Status: StatusConfig{
			Backend: "memory",
		},
	}
}

// Load reads configuration from path, falling back to defaults for any
// value the file omits. An empty path consults CROSSCHECK_CONFIG, then the
// default location; a missing file is not an error.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".crosscheck", "config.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, errors.E(errors.KindInvalidInput, op, "read config file", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.E(errors.KindInvalidInput, op, "parse config file", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.E(errors.KindInvalidInput, op, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.Cache.Dir = v
	}
	if isTruthy(os.Getenv(EnvCacheDisabled)) {
		c.Cache.Enabled = false
	}
	if isTruthy(os.Getenv(EnvVerbose)) {
		c.Verbose = true
	}
	if v := os.Getenv("CODEX_CLI_PATH"); v != "" {
		c.Codex.Binary = v
	}
	if v := os.Getenv("GEMINI_CLI_PATH"); v != "" {
		c.Gemini.Binary = v
	}
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "TRUE", "yes", "on":
		return true
	}
	return false
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	v := NewValidator()

	validateProvider(v, "codex", &c.Codex)
	validateProvider(v, "gemini", &c.Gemini)

	if c.Cache.Enabled && c.Cache.TTL != 0 {
		v.MinDuration("cache.ttl", c.Cache.TTL, time.Minute)
	}
	v.Required("template.id", c.Template.ID)
	v.Range("aggregate.similarity_threshold", c.Aggregate.SimilarityThreshold, 0, 1)
	v.OneOf("status.backend", c.Status.Backend, []string{"memory", "sqlite"})
	if c.Status.Backend == "sqlite" {
		v.Required("status.path", c.Status.Path)
	}

	return v.Validate()
}

func validateProvider(v *Validator, name string, p *ProviderConfig) {
	v.Required(name+".binary", p.Binary)
	if p.Timeout != 0 {
		v.MinDuration(name+".timeout", p.Timeout, time.Second)
		v.MaxDuration(name+".timeout", p.Timeout, 24*time.Hour)
	}
	if p.Queue.Concurrency != 0 {
		v.Min(name+".queue.concurrency", p.Queue.Concurrency, 1)
		v.Max(name+".queue.concurrency", p.Queue.Concurrency, 64)
	}
	if p.Queue.Interval != 0 {
		v.Min(name+".queue.interval_cap", p.Queue.IntervalCap, 1)
	}
	if p.Retry.MaxAttempts != 0 {
		v.Min(name+".retry.max_attempts", p.Retry.MaxAttempts, 1)
		v.Max(name+".retry.max_attempts", p.Retry.MaxAttempts, 10)
	}
}

// Provider returns the configuration block for the named provider tag, or
// nil when the tag has no dedicated engine config.
func (c *Config) Provider(tag string) *ProviderConfig {
	switch tag {
	case "codex":
		return &c.Codex
	case "gemini":
		return &c.Gemini
	}
	return nil
}
