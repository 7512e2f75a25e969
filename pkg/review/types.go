// Package review defines the common schema every analysis engine is
// normalized into: requests, findings, per-provider results, and the
// combined cross-engine result.
package review

import (
	"strings"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/shared/severity"
)

// =============================================================================
// Provider Tags
// =============================================================================

// ProviderTag identifies the origin of a result or finding.
type ProviderTag string

const (
	TagCodex  ProviderTag = "codex"
	TagGemini ProviderTag = "gemini"

	// TagCombined marks the merged cross-engine result.
	TagCombined ProviderTag = "combined"

	// TagSecretScanner marks findings folded in by the secret scanner.
	TagSecretScanner ProviderTag = "secret-scanner"
)

// =============================================================================
// Request
// =============================================================================

const (
	// MaxPromptLength bounds the review prompt. Prompts are delivered over
	// stdin so there is no OS argument limit, but an unbounded prompt is
	// almost always a caller bug.
	MaxPromptLength = 200_000

	// MaxRawOutputLength caps the raw output preserved on parse failure.
	MaxRawOutputLength = 50_000
)

// Context carries optional hints that shape the rendered prompt.
type Context struct {
	Language    string `json:"language,omitempty" yaml:"language,omitempty"`
	Framework   string `json:"framework,omitempty" yaml:"framework,omitempty"`
	Platform    string `json:"platform,omitempty" yaml:"platform,omitempty"`
	ThreatModel string `json:"threatModel,omitempty" yaml:"threat_model,omitempty"`
}

// Options carries per-request overrides.
type Options struct {
	// SeverityFilter drops findings below the given level ("", keep all).
	SeverityFilter string `json:"severityFilter,omitempty"`

	// TimeoutMs overrides the provider's subprocess deadline.
	// 0 means "use the provider default"; a negative value disables the
	// deadline entirely.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`

	// TemplateID selects the prompt template.
	TemplateID string `json:"templateId,omitempty"`

	// ExecutablePath overrides the provider CLI path for this request.
	// It still has to pass allow-list validation.
	ExecutablePath string `json:"executablePath,omitempty"`

	// AutoDetect enables executable auto-detection for this request.
	AutoDetect bool `json:"autoDetect,omitempty"`

	// SuppressWarnings drops non-fatal warnings from result metadata.
	SuppressWarnings bool `json:"suppressWarnings,omitempty"`

	// Sequential forces combined analysis to run providers one at a time.
	Sequential bool `json:"sequential,omitempty"`

	// IncludeIndividual attaches per-provider raw results to the combined
	// analysis.
	IncludeIndividual bool `json:"includeIndividual,omitempty"`

	// NoDedup disables cross-engine deduplication; every finding is kept
	// with medium confidence and its own provider as the only source.
	NoDedup bool `json:"noDedup,omitempty"`
}

// AnalysisRequest is the immutable input to the orchestrator.
type AnalysisRequest struct {
	Prompt  string   `json:"prompt"`
	Context *Context `json:"context,omitempty"`
	Options *Options `json:"options,omitempty"`
}

// Validate checks the request before any work is dispatched.
func (r *AnalysisRequest) Validate() error {
	const op = "review.AnalysisRequest.Validate"

	if strings.TrimSpace(r.Prompt) == "" {
		return errors.E(errors.KindInvalidInput, op, "prompt is required")
	}
	if len(r.Prompt) > MaxPromptLength {
		return errors.E(errors.KindInvalidInput, op, "prompt exceeds maximum length")
	}
	if r.Options != nil && r.Options.SeverityFilter != "" {
		if !severity.Level(r.Options.SeverityFilter).IsValid() {
			return errors.E(errors.KindInvalidInput, op, "unknown severity filter: "+r.Options.SeverityFilter)
		}
	}
	return nil
}

// Opt returns the request options, or a zero value when none were given.
func (r *AnalysisRequest) Opt() Options {
	if r.Options == nil {
		return Options{}
	}
	return *r.Options
}

// Ctx returns the request context hints, or a zero value when none were given.
func (r *AnalysisRequest) Ctx() Context {
	if r.Context == nil {
		return Context{}
	}
	return *r.Context
}

// =============================================================================
// Findings
// =============================================================================

// LineRange is an inclusive line span.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlap returns how much of the smaller range is covered by the other,
// as a fraction in [0, 1].
func (r LineRange) Overlap(other LineRange) float64 {
	lo := max(r.Start, other.Start)
	hi := min(r.End, other.End)
	if hi < lo {
		return 0
	}
	overlap := hi - lo + 1
	smaller := min(r.End-r.Start, other.End-other.Start) + 1
	return float64(overlap) / float64(smaller)
}

// Finding is one reported issue, produced by a provider or by the secret
// scanner.
type Finding struct {
	Type        string         `json:"type"`
	Severity    severity.Level `json:"severity"`
	Line        *int           `json:"line"`
	LineRange   *LineRange     `json:"lineRange,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion,omitempty"`
	Code        string         `json:"code,omitempty"`
}

// =============================================================================
// Results
// =============================================================================

// Summary holds per-severity counts; Consensus is set only on the combined
// result.
type Summary struct {
	severity.Counts `yaml:",inline"`
	Consensus       int `json:"consensus,omitempty"`
}

// Metadata is result bookkeeping attached by the orchestrator.
type Metadata struct {
	DurationMs int64    `json:"durationMs"`
	Context    *Context `json:"context,omitempty"`
	FromCache  bool     `json:"fromCache,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// AnalysisResult is one provider's normalized output.
type AnalysisResult struct {
	AnalysisID        string      `json:"analysisId"`
	Timestamp         time.Time   `json:"timestamp"`
	Source            ProviderTag `json:"source"`
	Success           bool        `json:"success"`
	Summary           Summary     `json:"summary"`
	Findings          []Finding   `json:"findings"`
	OverallAssessment string      `json:"overallAssessment"`
	Recommendations   []string    `json:"recommendations,omitempty"`
	Metadata          Metadata    `json:"metadata"`

	// RawOutput is populated only when parsing failed, capped at
	// MaxRawOutputLength characters.
	RawOutput string `json:"rawOutput,omitempty"`
}

// RecomputeSummary rebuilds severity counts from the findings list.
// Counts from the engine payload are never trusted.
func (r *AnalysisResult) RecomputeSummary() {
	var counts severity.Counts
	for _, f := range r.Findings {
		counts.Increment(f.Severity)
	}
	r.Summary.Counts = counts
}

// =============================================================================
// Aggregation
// =============================================================================

// Confidence rates cross-engine agreement on a finding.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFromAgreement maps an agreement ratio (reporting providers over
// total reviewers) to a confidence level. Boundaries are inclusive:
// exactly 0.8 is high, exactly 0.5 is medium.
func ConfidenceFromAgreement(ratio float64) Confidence {
	switch {
	case ratio >= 0.8:
		return ConfidenceHigh
	case ratio >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AggregatedFinding is a Finding plus the providers that reported it and
// the agreement-derived confidence.
type AggregatedFinding struct {
	Finding
	Sources    []ProviderTag `json:"sources"`
	Confidence Confidence    `json:"confidence"`
}

// AggregatedAnalysis is the merged cross-engine result.
type AggregatedAnalysis struct {
	AnalysisID         string                          `json:"analysisId"`
	Timestamp          time.Time                       `json:"timestamp"`
	Source             ProviderTag                     `json:"source"`
	Success            bool                            `json:"success"`
	Summary            Summary                         `json:"summary"`
	Findings           []AggregatedFinding             `json:"findings"`
	OverallAssessment  string                          `json:"overallAssessment"`
	Recommendations    []string                        `json:"recommendations,omitempty"`
	Metadata           Metadata                        `json:"metadata"`
	IndividualAnalyses map[ProviderTag]*AnalysisResult `json:"individualAnalyses,omitempty"`
}

// RecomputeSummary rebuilds severity counts and the consensus score from
// the findings list. Consensus is the percentage of findings with high
// confidence, defined as 100 when there are no findings.
func (a *AggregatedAnalysis) RecomputeSummary() {
	var counts severity.Counts
	high := 0
	for _, f := range a.Findings {
		counts.Increment(f.Severity)
		if f.Confidence == ConfidenceHigh {
			high++
		}
	}
	a.Summary.Counts = counts

	if counts.Total == 0 {
		a.Summary.Consensus = 100
		return
	}
	a.Summary.Consensus = int(float64(high)/float64(counts.Total)*100 + 0.5)
}

// TruncateRawOutput caps raw output preserved on parse failure.
func TruncateRawOutput(s string) string {
	if len(s) <= MaxRawOutputLength {
		return s
	}
	return s[:MaxRawOutputLength]
}
