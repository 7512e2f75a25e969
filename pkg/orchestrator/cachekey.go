package orchestrator

import (
	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/shared/fingerprint"
)

// cacheKey builds the deterministic cache key for one engine invocation.
// Deadline overrides and presentation flags are excluded on purpose: they
// do not change what the engine produces.
func (o *Orchestrator) cacheKey(tag review.ProviderTag, req *review.AnalysisRequest) string {
	ctx := req.Ctx()
	opt := req.Opt()

	in := fingerprint.Input{
		Prompt:          req.Prompt,
		Source:          string(tag),
		Language:        ctx.Language,
		Framework:       ctx.Framework,
		Platform:        ctx.Platform,
		ThreatModel:     ctx.ThreatModel,
		SeverityFilter:  opt.SeverityFilter,
		TemplateID:      opt.TemplateID,
		TemplateVersion: o.cfg.Template.Version,
	}
	if opt.TemplateID == "" {
		in.TemplateID = o.cfg.Template.ID
	}
	if pc := o.cfg.Provider(string(tag)); pc != nil {
		in.Model = pc.Model
		in.ReasoningEffort = pc.ReasoningEffort
	}
	return fingerprint.Generate(in)
}
