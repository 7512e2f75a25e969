// Package fingerprint provides deterministic fingerprint generation for
// analysis requests. The fingerprint is the cache key: two logically
// identical requests must fingerprint identically, and any change to the
// prompt, context, relevant options, or the active provider configuration
// must produce a different fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Input contains everything that participates in the cache key.
//
// Fields that do not affect the produced analysis (timeout overrides,
// warning flags) are deliberately excluded by the caller: a request that
// only differs in its deadline should still hit the cache.
type Input struct {
	// Prompt is the raw user prompt, before template rendering.
	Prompt string

	// Source is the provider tag ("codex", "gemini") or "combined".
	Source string

	// Context hints that change the rendered prompt.
	Language    string
	Framework   string
	Platform    string
	ThreatModel string

	// Options that change the produced analysis.
	SeverityFilter string
	TemplateID     string

	// Active provider configuration. A model or reasoning change must
	// invalidate cached results.
	Model           string
	ReasoningEffort string
	TemplateVersion string
	ProviderVersion string
}

// Generate creates the fingerprint for the given input.
// Returns a SHA256 hash (64 hex characters).
func Generate(in Input) string {
	// Field order is fixed; every field is length-prefixed through the
	// separator-free encoding below so "ab"+"c" never collides with "a"+"bc".
	parts := []string{
		in.Prompt,
		normalize(in.Source),
		normalize(in.Language),
		normalize(in.Framework),
		normalize(in.Platform),
		normalize(in.ThreatModel),
		normalize(in.SeverityFilter),
		normalize(in.TemplateID),
		normalize(in.Model),
		normalize(in.ReasoningEffort),
		normalize(in.TemplateVersion),
		normalize(in.ProviderVersion),
	}

	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "%d:%s;", len(p), p)
	}

	return Hash(b.String())
}

// Hash computes the SHA256 hash of the input string.
// Returns 64 hex characters.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// normalize cleans up a metadata field for consistent fingerprinting.
// The prompt itself is never normalized: whitespace changes there are
// real changes.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
