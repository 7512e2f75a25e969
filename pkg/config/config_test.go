package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Codex.Binary != "codex" {
		t.Errorf("Codex.Binary = %q, want codex", cfg.Codex.Binary)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should default to enabled")
	}
	if cfg.Aggregate.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %g, want 0.8", cfg.Aggregate.SimilarityThreshold)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
codex:
  binary: /opt/tools/codex
  model: gpt-5-codex
  reasoning_effort: high
  timeout: 15m
  queue:
    concurrency: 4
gemini:
  binary: gemini
  timeout: 2m
cache:
  enabled: false
template:
  id: security-review
  version: "3"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Codex.Binary != "/opt/tools/codex" {
		t.Errorf("Codex.Binary = %q", cfg.Codex.Binary)
	}
	if cfg.Codex.ReasoningEffort != "high" {
		t.Errorf("ReasoningEffort = %q", cfg.Codex.ReasoningEffort)
	}
	if cfg.Codex.Timeout != 15*time.Minute {
		t.Errorf("Codex.Timeout = %v", cfg.Codex.Timeout)
	}
	if cfg.Codex.Queue.Concurrency != 4 {
		t.Errorf("Codex.Queue.Concurrency = %d", cfg.Codex.Queue.Concurrency)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled by file")
	}
	if cfg.Template.Version != "3" {
		t.Errorf("Template.Version = %q", cfg.Template.Version)
	}
	// Fields the file omits keep their defaults.
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("Gemini.Model = %q, want default", cfg.Gemini.Model)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "empty binary",
			content: "codex:\n  binary: \"\"\n",
			field:   "codex.binary",
		},
		{
			name:    "timeout too small",
			content: "gemini:\n  timeout: 10ms\n",
			field:   "gemini.timeout",
		},
		{
			name:    "similarity out of range",
			content: "aggregate:\n  similarity_threshold: 1.5\n",
			field:   "aggregate.similarity_threshold",
		},
		{
			name:    "bad status backend",
			content: "status:\n  backend: postgres\n",
			field:   "status.backend",
		},
		{
			name:    "sqlite without path",
			content: "status:\n  backend: sqlite\n",
			field:   "status.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention field %q", err, tt.field)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvCacheDisabled, "1")
	t.Setenv(EnvCacheDir, "/tmp/crosscheck-test-cache")
	t.Setenv("CODEX_CLI_PATH", "/custom/bin/codex")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Enabled {
		t.Error("CROSSCHECK_CACHE_DISABLED should disable the cache")
	}
	if cfg.Cache.Dir != "/tmp/crosscheck-test-cache" {
		t.Errorf("Cache.Dir = %q", cfg.Cache.Dir)
	}
	if cfg.Codex.Binary != "/custom/bin/codex" {
		t.Errorf("Codex.Binary = %q", cfg.Codex.Binary)
	}
}

func TestProviderLookup(t *testing.T) {
	cfg := Default()
	if p := cfg.Provider("codex"); p == nil || p.Binary != "codex" {
		t.Errorf("Provider(codex) = %+v", p)
	}
	if p := cfg.Provider("gemini"); p == nil || p.Binary != "gemini" {
		t.Errorf("Provider(gemini) = %+v", p)
	}
	if p := cfg.Provider("combined"); p != nil {
		t.Errorf("Provider(combined) = %+v, want nil", p)
	}
}

func TestValidatorAccumulatesErrors(t *testing.T) {
	v := NewValidator()
	v.Required("a", "").
		Min("b", 0, 1).
		OneOf("c", "bad", []string{"x", "y"})

	errs := v.Errors()
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
	if err := v.Validate(); err == nil {
		t.Error("Validate() = nil, want error")
	}
}
