// Package secrets scans review content for embedded credentials with a
// fixed pattern set and converts matches into analysis findings that are
// folded into the combined result.
package secrets

import (
	"regexp"
	"strings"

	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/shared/severity"
)

// Match is a single detected secret.
type Match struct {
	// Pattern is the name of the rule that matched.
	Pattern string `json:"pattern"`

	// Line is the 1-based line the secret appears on.
	Line int `json:"line"`

	// MaskedValue shows only the first and last few characters.
	MaskedValue string `json:"maskedValue"`

	Severity severity.Level `json:"severity"`
}

// Scanner detects embedded credentials in text.
type Scanner interface {
	Scan(content string) []Match
	Stats() Stats
}

// Stats describes the scanner's rule set.
type Stats struct {
	PatternCount int `json:"patternCount"`
}

type pattern struct {
	name     string
	re       *regexp.Regexp
	severity severity.Level
}

// RegexScanner is the built-in pattern-based Scanner.
type RegexScanner struct {
	patterns []pattern
}

// NewRegexScanner creates a scanner with the built-in rule set.
func NewRegexScanner() *RegexScanner {
	return &RegexScanner{patterns: []pattern{
		{"aws-access-key-id", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), severity.Critical},
		{"aws-secret-access-key", regexp.MustCompile(`(?i)aws[_\-\s]*secret[_\-\s]*(access)?[_\-\s]*key\s*[:=]\s*['"]?[0-9a-zA-Z/+=]{40}`), severity.Critical},
		{"github-token", regexp.MustCompile(`\bgh[pousr]_[0-9a-zA-Z]{36,255}\b`), severity.Critical},
		{"gitlab-token", regexp.MustCompile(`\bglpat-[0-9a-zA-Z_\-]{20,}\b`), severity.Critical},
		{"openai-api-key", regexp.MustCompile(`\bsk-[a-zA-Z0-9_\-]{20,}\b`), severity.Critical},
		{"google-api-key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`), severity.High},
		{"slack-token", regexp.MustCompile(`\bxox[baprs]-[0-9a-zA-Z\-]{10,}\b`), severity.High},
		{"stripe-key", regexp.MustCompile(`\b[sr]k_(live|test)_[0-9a-zA-Z]{24,}\b`), severity.Critical},
		{"private-key-block", regexp.MustCompile(`-----BEGIN\s+(RSA|EC|DSA|OPENSSH|PGP)?\s*PRIVATE KEY`), severity.Critical},
		{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\b`), severity.High},
		{"generic-password-assignment", regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*['"][^'"\s]{8,}['"]`), severity.Medium},
		{"generic-api-key-assignment", regexp.MustCompile(`(?i)\b(api[_\-]?key|apikey|secret[_\-]?key|auth[_\-]?token)\s*[:=]\s*['"][0-9a-zA-Z_\-]{16,}['"]`), severity.High},
		{"basic-auth-url", regexp.MustCompile(`[a-z][a-z0-9+.\-]*://[^/\s:@]+:[^/\s:@]+@`), severity.High},
	}}
}

// Scan returns all matches in content. A line reports at most one match per
// pattern.
func (s *RegexScanner) Scan(content string) []Match {
	var matches []Match
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		for _, p := range s.patterns {
			loc := p.re.FindString(line)
			if loc == "" {
				continue
			}
			matches = append(matches, Match{
				Pattern:     p.name,
				Line:        i + 1,
				MaskedValue: MaskSecret(loc),
				Severity:    p.severity,
			})
		}
	}
	return matches
}

// Stats returns rule-set information.
func (s *RegexScanner) Stats() Stats {
	return Stats{PatternCount: len(s.patterns)}
}

// MaskSecret masks a secret value, showing only first and last few characters.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:3] + "****" + secret[len(secret)-3:]
}

// ToFindings converts secret matches to analysis findings attributable to
// the secret scanner.
func ToFindings(matches []Match) []review.Finding {
	findings := make([]review.Finding, 0, len(matches))
	for _, m := range matches {
		line := m.Line
		findings = append(findings, review.Finding{
			Type:        "hardcoded-secret",
			Severity:    m.Severity,
			Line:        &line,
			Title:       "Hardcoded secret: " + m.Pattern,
			Description: "A credential matching the " + m.Pattern + " pattern is embedded in the code (" + m.MaskedValue + "). Committed secrets should be considered compromised.",
			Suggestion:  "Remove the secret, rotate it, and load it from the environment or a secret manager instead.",
		})
	}
	return findings
}
