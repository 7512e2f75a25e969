// Package gemini runs review prompts through the gemini CLI, which emits a
// single JSON document on stdout.
package gemini

import (
	"context"

	"github.com/crosscheckhq/crosscheck/pkg/cliexec"
	"github.com/crosscheckhq/crosscheck/pkg/config"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/providers"
	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/security"
)

// safetyArgs are always appended after user arguments and cannot be
// overridden by them.
var safetyArgs = []string{
	"--sandbox",
}

// Engine is the gemini Provider.
type Engine struct {
	cfg       config.ProviderConfig
	validator *security.Validator
	log       logging.Logger
	exec      cliexec.Runner
}

// New creates a gemini engine.
func New(cfg config.ProviderConfig, validator *security.Validator, log logging.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		validator: validator,
		log:       logging.OrNop(log),
		exec:      cliexec.Run,
	}
}

// Tag implements providers.Provider.
func (e *Engine) Tag() review.ProviderTag {
	return review.TagGemini
}

// Run implements providers.Provider.
func (e *Engine) Run(ctx context.Context, prompt string, opt review.Options) (*review.AnalysisResult, error) {
	binary := e.cfg.Binary
	switch {
	case opt.ExecutablePath != "":
		binary = opt.ExecutablePath
	case opt.AutoDetect:
		if detected, ok := e.validator.Detect(); ok {
			binary = detected
		}
	}
	if err := e.validator.Validate(binary); err != nil {
		return nil, err
	}

	res, err := e.exec(ctx, &cliexec.Config{
		Provider: string(review.TagGemini),
		Binary:   binary,
		Args:     e.buildArgs(),
		Stdin:    prompt,
		Timeout:  cliexec.EffectiveTimeout(opt.TimeoutMs, e.cfg.Timeout),
	}, e.log)
	if err != nil {
		return nil, err
	}

	return providers.Parse(review.TagGemini, res.Stdout, opt.SeverityFilter), nil
}

func (e *Engine) buildArgs() []string {
	var args []string
	if e.cfg.Model != "" {
		args = append(args, "-m", e.cfg.Model)
	}
	args = append(args, providers.FilterArgs(e.cfg.ExtraArgs, safetyArgs, e.log)...)
	return append(args, safetyArgs...)
}

var _ providers.Provider = (*Engine)(nil)
