package prompt

import (
	"strings"
	"testing"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/review"
)

func TestRenderDefaultTemplate(t *testing.T) {
	r := NewRenderer()
	req := &review.AnalysisRequest{
		Prompt: "Review this function for SQL injection.",
		Context: &review.Context{
			Language:  "go",
			Framework: "gin",
		},
		Options: &review.Options{
			SeverityFilter: "high",
		},
	}

	out, err := r.Render("", req)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for _, want := range []string{
		"Review this function for SQL injection.",
		"Language: go",
		"Framework: gin",
		"severity high or higher",
		`"findings"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
	if strings.Contains(out, "Platform:") {
		t.Error("unset platform hint should be omitted")
	}
	if strings.Contains(out, "Threat model:") {
		t.Error("unset threat model hint should be omitted")
	}
}

func TestRenderWithoutHints(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(DefaultTemplateID, &review.AnalysisRequest{Prompt: "check this"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "check this") {
		t.Error("prompt body missing")
	}
	if strings.Contains(out, "Only report findings") {
		t.Error("severity instruction should be omitted without a filter")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render("does-not-exist", &review.AnalysisRequest{Prompt: "x"})
	if !errors.IsNotFoundError(err) {
		t.Fatalf("Render() error = %v, want not-found", err)
	}
}

func TestRegisterCustomTemplate(t *testing.T) {
	r := NewRenderer()
	if err := r.Register("minimal", "REVIEW: {{.Prompt}}"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	out, err := r.Render("minimal", &review.AnalysisRequest{Prompt: "abc"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if out != "REVIEW: abc" {
		t.Errorf("Render() = %q", out)
	}
}

func TestRegisterRejectsBadTemplate(t *testing.T) {
	r := NewRenderer()
	if err := r.Register("broken", "{{.Prompt"); err == nil {
		t.Fatal("Register() accepted an unparsable template")
	}
}
