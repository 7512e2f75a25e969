// Package prompt renders the final review prompt delivered to an engine's
// stdin: the caller's prompt wrapped with context hints, severity filter
// instructions, and the response schema the parser expects.
package prompt

import (
	"strings"
	"sync"
	"text/template"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/review"
)

// Data is the template input.
type Data struct {
	Prompt      string
	Language    string
	Framework   string
	Platform    string
	ThreatModel string

	// SeverityFilter, when set, asks the engine not to report below it.
	// The parser filters again on the way back, so this is an optimization
	// rather than a guarantee.
	SeverityFilter string
}

// DefaultTemplateID selects the built-in security review template.
const DefaultTemplateID = "security-review"

const securityReviewTemplate = `You are a security-focused code reviewer. Analyze the following code for vulnerabilities, bugs, and quality issues.
{{- if .Language}}
Language: {{.Language}}{{end}}
{{- if .Framework}}
Framework: {{.Framework}}{{end}}
{{- if .Platform}}
Platform: {{.Platform}}{{end}}
{{- if .ThreatModel}}
Threat model: {{.ThreatModel}}{{end}}
{{- if .SeverityFilter}}
Only report findings of severity {{.SeverityFilter}} or higher.{{end}}

{{.Prompt}}

Respond with a single JSON object and nothing else, using this shape:
{
  "success": true,
  "findings": [
    {
      "type": "<issue category>",
      "severity": "critical|high|medium|low|info",
      "line": <line number or null>,
      "lineRange": {"start": <n>, "end": <n>},
      "title": "<short title>",
      "description": "<what is wrong and why it matters>",
      "suggestion": "<how to fix it>"
    }
  ],
  "overallAssessment": "<one paragraph summary>",
  "recommendations": ["<general recommendation>"]
}
Omit "lineRange" when a single line suffices. Use an empty findings array when the code is clean.`

// Renderer resolves template IDs to parsed templates and caches the results.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRenderer creates a Renderer with the built-in templates registered.
func NewRenderer() *Renderer {
	r := &Renderer{templates: make(map[string]*template.Template)}
	// Built-ins are compiled at init; a parse failure here is a programming
	// error, so MustParse semantics apply.
	r.templates[DefaultTemplateID] = template.Must(
		template.New(DefaultTemplateID).Parse(securityReviewTemplate))
	return r
}

// Register adds or replaces a template under the given ID.
func (r *Renderer) Register(id, text string) error {
	const op = "prompt.Renderer.Register"

	tpl, err := template.New(id).Parse(text)
	if err != nil {
		return errors.E(errors.KindInvalidInput, op, "parse template "+id, err)
	}
	r.mu.Lock()
	r.templates[id] = tpl
	r.mu.Unlock()
	return nil
}

// Render produces the engine-ready prompt for a request. An empty template
// ID selects the default template; an unknown ID is an error.
func (r *Renderer) Render(templateID string, req *review.AnalysisRequest) (string, error) {
	const op = "prompt.Renderer.Render"

	if templateID == "" {
		templateID = DefaultTemplateID
	}

	r.mu.RLock()
	tpl, ok := r.templates[templateID]
	r.mu.RUnlock()
	if !ok {
		return "", errors.E(errors.KindNotFound, op, "unknown template: "+templateID)
	}

	ctx := req.Ctx()
	opt := req.Opt()
	data := Data{
		Prompt:         req.Prompt,
		Language:       ctx.Language,
		Framework:      ctx.Framework,
		Platform:       ctx.Platform,
		ThreatModel:    ctx.ThreatModel,
		SeverityFilter: opt.SeverityFilter,
	}

	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", errors.E(errors.KindInternal, op, "execute template "+templateID, err)
	}
	return b.String(), nil
}
