package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/shared/severity"
)

// MaxParseBytes is the ceiling on engine output the parser will attempt to
// interpret. Anything larger degrades straight to a failure result.
const MaxParseBytes = 1 << 20

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// wireFinding is the finding shape engines are instructed to emit.
type wireFinding struct {
	Type        string            `json:"type"`
	Severity    string            `json:"severity"`
	Line        *int              `json:"line"`
	LineRange   *review.LineRange `json:"lineRange"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Suggestion  string            `json:"suggestion"`
	Code        string            `json:"code"`
}

// wireResult is the JSON document engines are instructed to emit.
type wireResult struct {
	Success           *bool         `json:"success"`
	Findings          []wireFinding `json:"findings"`
	OverallAssessment string        `json:"overallAssessment"`
	Recommendations   []string      `json:"recommendations"`
}

// codexEvent is one line of codex's JSONL event stream.
type codexEvent struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// Parse interprets raw engine output into an AnalysisResult. It never
// returns an error: output it cannot make sense of becomes an unsuccessful
// result carrying the capped raw output. Severity counts are always
// recomputed from the findings, never taken from the payload.
func Parse(tag review.ProviderTag, raw string, severityFilter string) *review.AnalysisResult {
	if len(raw) > MaxParseBytes {
		return oversizeFailure(tag, raw)
	}

	clean := sanitize(raw)

	doc, ok := extractDocument(clean)
	if !ok {
		return failure(tag, raw, "No JSON review document found in engine output")
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(doc), &wire); err != nil {
		return failure(tag, raw, "Engine output failed schema validation: "+err.Error())
	}

	res := &review.AnalysisResult{
		Timestamp:         time.Now(),
		Source:            tag,
		Success:           wire.Success == nil || *wire.Success,
		OverallAssessment: wire.OverallAssessment,
		Recommendations:   wire.Recommendations,
		Findings:          convertFindings(wire.Findings, severityFilter),
	}
	res.RecomputeSummary()
	return res
}

// ParseDocument is Parse for output already known to be a single JSON
// document (the codex last-message file). The JSONL scan is skipped.
func ParseDocument(tag review.ProviderTag, raw string, severityFilter string) *review.AnalysisResult {
	if len(raw) > MaxParseBytes {
		return oversizeFailure(tag, raw)
	}

	doc := strings.TrimSpace(stripFences(sanitize(raw)))

	var wire wireResult
	if err := json.Unmarshal([]byte(doc), &wire); err != nil {
		return failure(tag, raw, "Engine output failed schema validation: "+err.Error())
	}

	res := &review.AnalysisResult{
		Timestamp:         time.Now(),
		Source:            tag,
		Success:           wire.Success == nil || *wire.Success,
		OverallAssessment: wire.OverallAssessment,
		Recommendations:   wire.Recommendations,
		Findings:          convertFindings(wire.Findings, severityFilter),
	}
	res.RecomputeSummary()
	return res
}

// extractDocument finds the JSON result document in clean output. The fast
// path is the whole output being one JSON object. Failing that, the output
// is treated as a JSONL event stream and scanned backwards for the last
// completed agent message, whose text is expected to hold the document.
func extractDocument(clean string) (string, bool) {
	trimmed := strings.TrimSpace(stripFences(clean))
	if isJSONObject(trimmed) {
		return trimmed, true
	}

	lines := strings.Split(clean, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Type != "item.completed" || ev.Item.Type != "agent_message" {
			continue
		}
		text := strings.TrimSpace(stripFences(ev.Item.Text))
		if isJSONObject(text) {
			return text, true
		}
		// The last agent message exists but does not carry a JSON
		// document; older messages are not consulted.
		return "", false
	}
	return "", false
}

func isJSONObject(s string) bool {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return false
	}
	return json.Valid([]byte(s))
}

// sanitize removes ANSI escape sequences and control characters that
// terminals emit but JSON decoders reject. Newlines and tabs survive so the
// JSONL line structure does.
func sanitize(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		// Drop the language tag line.
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func convertFindings(wire []wireFinding, severityFilter string) []review.Finding {
	findings := make([]review.Finding, 0, len(wire))
	filter := severity.Level(severityFilter)
	for _, w := range wire {
		level := severity.FromString(w.Severity)
		if severityFilter != "" && !level.IsAtLeast(filter) {
			continue
		}
		findings = append(findings, review.Finding{
			Type:        w.Type,
			Severity:    level,
			Line:        w.Line,
			LineRange:   w.LineRange,
			Title:       w.Title,
			Description: w.Description,
			Suggestion:  w.Suggestion,
			Code:        w.Code,
		})
	}
	return findings
}

// failure builds the degraded result: unsuccessful, no findings, the
// reason as the assessment, raw output preserved up to the cap.
func failure(tag review.ProviderTag, raw, reason string) *review.AnalysisResult {
	res := &review.AnalysisResult{
		Timestamp:         time.Now(),
		Source:            tag,
		Success:           false,
		Findings:          []review.Finding{},
		OverallAssessment: reason,
		RawOutput:         review.TruncateRawOutput(raw),
	}
	res.RecomputeSummary()
	return res
}

// oversizeFailure rejects output above the parse ceiling without touching
// it further, carrying the rejection as a metadata warning.
func oversizeFailure(tag review.ProviderTag, raw string) *review.AnalysisResult {
	reason := fmt.Sprintf("Engine output of %d bytes exceeds the %d byte parse limit and was not parsed", len(raw), MaxParseBytes)
	res := failure(tag, raw, reason)
	res.Metadata.Warnings = append(res.Metadata.Warnings, reason)
	return res
}
