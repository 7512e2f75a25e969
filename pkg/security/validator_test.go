package security

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
)

func TestValidate_RegisteredPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "codex")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	v := NewValidator("codex", "codex", nil)
	v.Register(bin)

	if err := v.Validate(bin); err != nil {
		t.Errorf("registered path should validate, got %v", err)
	}
}

func TestValidate_UnknownPathRejected(t *testing.T) {
	dir := t.TempDir()
	evil := filepath.Join(dir, "evil")
	if err := os.WriteFile(evil, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	v := NewValidator("codex", "codex", nil)

	err := v.Validate(evil)
	if err == nil {
		t.Fatal("unknown path must be rejected")
	}
	if !errors.IsSecurityError(err) {
		t.Errorf("expected security error, got %v (kind %v)", err, errors.GetKind(err))
	}
}

func TestValidate_NoPrefixMatch(t *testing.T) {
	dir := t.TempDir()
	allowed := filepath.Join(dir, "codex")
	if err := os.WriteFile(allowed, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}

	v := NewValidator("codex", "codex", nil)
	v.Register(allowed)

	// A sibling path sharing the allow-listed prefix must not pass.
	if err := v.Validate(allowed + "-extra"); err == nil {
		t.Error("prefix match must not be accepted")
	}
	if err := v.Validate(filepath.Join(dir, "codex2")); err == nil {
		t.Error("near-miss path must not be accepted")
	}
}

func TestValidate_BareNameUnresolvable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH verification is skipped on windows")
	}

	// The alias is allow-listed by construction; a failing PATH lookup is
	// tolerated because the name itself was trusted.
	name := "crosscheck-test-nonexistent-cli"
	v := NewValidator("fake", name, nil)
	if err := v.Validate(name); err != nil {
		t.Errorf("allow-listed bare name with failing lookup should pass, got %v", err)
	}
}

func TestValidate_BareNameResolvesOutsideAllowList(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH verification is skipped on windows")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "shadowed-cli")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	// The name is an allow-listed alias, but PATH resolves it to a binary
	// that is not on the allow-list: hard failure.
	v := NewValidator("shadowed", "shadowed-cli", nil)
	err := v.Validate("shadowed-cli")
	if err == nil {
		t.Fatal("lookup resolving outside the allow-list must fail")
	}
	if !errors.IsSecurityError(err) {
		t.Errorf("expected security error, got kind %v", errors.GetKind(err))
	}
}

func TestValidate_Memoized(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "gemini")
	if err := os.WriteFile(bin, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}

	v := NewValidator("gemini", "gemini", nil)
	v.Register(bin)

	if err := v.Validate(bin); err != nil {
		t.Fatal(err)
	}

	v.mu.RLock()
	_, memoized := v.validated[bin]
	v.mu.RUnlock()
	if !memoized {
		t.Error("successful validation should be memoized")
	}

	if err := v.Validate(bin); err != nil {
		t.Errorf("memoized path should validate, got %v", err)
	}
}

func TestDetect_RegistersPathLookupHit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH probing differs on windows")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "detectable-cli")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	v := NewValidator("detectable", "detectable-cli", nil)
	detected, ok := v.Detect()
	if !ok {
		t.Fatal("Detect() found nothing, want the PATH hit")
	}
	if filepath.Base(detected) != "detectable-cli" {
		t.Errorf("detected = %q", detected)
	}
	if err := v.Validate(detected); err != nil {
		t.Errorf("detected path should be allow-listed, got %v", err)
	}
}

func TestDetect_RunsOnce(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH probing differs on windows")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "once-cli")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	v := NewValidator("once", "once-cli", nil)
	first, ok := v.Detect()
	if !ok {
		t.Fatal("Detect() found nothing")
	}

	// Emptying PATH must not change the outcome: detection already ran.
	t.Setenv("PATH", t.TempDir())
	second, ok := v.Detect()
	if !ok || second != first {
		t.Errorf("second Detect() = %q, %v; want first outcome %q", second, ok, first)
	}
}

func TestDetect_NothingInstalled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH probing differs on windows")
	}
	t.Setenv("PATH", t.TempDir())

	v := NewValidator("absent", "crosscheck-test-absent-cli", nil)
	if path, ok := v.Detect(); ok {
		t.Errorf("Detect() = %q, want no hit", path)
	}
}

func TestEnvOverride(t *testing.T) {
	tests := []struct {
		provider string
		expected string
	}{
		{"codex", "CODEX_CLI_PATH"},
		{"gemini", "GEMINI_CLI_PATH"},
		{"my-tool", "MY_TOOL_CLI_PATH"},
	}
	for _, tt := range tests {
		if got := EnvOverride(tt.provider); got != tt.expected {
			t.Errorf("EnvOverride(%q) = %q, want %q", tt.provider, got, tt.expected)
		}
	}
}

func TestNewValidator_EnvOverrideAllowListed(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "custom-codex")
	if err := os.WriteFile(bin, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CODEX_CLI_PATH", bin)

	v := NewValidator("codex", "codex", nil)
	if err := v.Validate(bin); err != nil {
		t.Errorf("env override path should validate, got %v", err)
	}
}
