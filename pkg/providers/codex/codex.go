// Package codex runs review prompts through the codex CLI. Codex emits a
// JSONL event stream on stdout; when supported, the final agent message is
// additionally written to a temp file via --output-last-message, which is
// the preferred source because it skips the event stream entirely.
package codex

import (
	"context"
	"os"
	"strings"

	"github.com/crosscheckhq/crosscheck/pkg/cliexec"
	"github.com/crosscheckhq/crosscheck/pkg/config"
	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/providers"
	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/security"
)

// safetyArgs are always appended after user arguments and cannot be
// overridden by them.
var safetyArgs = []string{
	"--json",
	"--sandbox", "read-only",
	"--skip-git-repo-check",
}

// Engine is the codex Provider.
type Engine struct {
	cfg       config.ProviderConfig
	validator *security.Validator
	log       logging.Logger
	exec      cliexec.Runner
}

// New creates a codex engine.
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
	return review.TagCodex
}

// Run implements providers.Provider.
func (e *Engine) Run(ctx context.Context, prompt string, opt review.Options) (*review.AnalysisResult, error) {
	const op = "codex.Engine.Run"

	binary := e.cfg.Binary
	switch {
	case opt.ExecutablePath != "":
		binary = opt.ExecutablePath
	case opt.AutoDetect:
		// An explicit override wins; otherwise detection replaces the
		// configured name with the registered absolute path when found.
		if detected, ok := e.validator.Detect(); ok {
			binary = detected
		}
	}
	if err := e.validator.Validate(binary); err != nil {
		return nil, err
	}

	lastMsg, err := os.CreateTemp("", "codex-last-message-*.txt")
	if err != nil {
		return nil, errors.E(errors.KindInternal, op, "create last-message file", err)
	}
	lastMsgPath := lastMsg.Name()
	lastMsg.Close() //nolint:errcheck
	defer os.Remove(lastMsgPath)

	res, err := e.invoke(ctx, binary, prompt, opt, lastMsgPath)
	if err != nil {
		if !unknownFlag(err) {
			return nil, err
		}
		// Older codex builds reject --output-last-message. One retry
		// without it; the JSONL stream is parsed instead.
		e.log.Debug("codex rejected --output-last-message, retrying without it")
		res, err = e.invoke(ctx, binary, prompt, opt, "")
		if err != nil {
			return nil, err
		}
	}

	// Prefer the last-message file; it is empty when the fallback ran or
	// when codex wrote nothing, in which case the event stream is parsed.
	if data, readErr := os.ReadFile(lastMsgPath); readErr == nil && strings.TrimSpace(string(data)) != "" {
		return providers.ParseDocument(review.TagCodex, string(data), opt.SeverityFilter), nil
	}
	return providers.Parse(review.TagCodex, res.Stdout, opt.SeverityFilter), nil
}

func (e *Engine) invoke(ctx context.Context, binary, prompt string, opt review.Options, lastMsgPath string) (*cliexec.Result, error) {
	return e.exec(ctx, &cliexec.Config{
		Provider: string(review.TagCodex),
		Binary:   binary,
		Args:     e.buildArgs(opt, lastMsgPath),
		Stdin:    prompt,
		Timeout:  cliexec.EffectiveTimeout(opt.TimeoutMs, e.cfg.Timeout),
	}, e.log)
}

// buildArgs assembles the argument vector: subcommand, model tuning, user
// arguments with safety collisions filtered out, then the safety flags.
func (e *Engine) buildArgs(opt review.Options, lastMsgPath string) []string {
	args := []string{"exec"}

	if e.cfg.Model != "" {
		args = append(args, "-m", e.cfg.Model)
	}
	if e.cfg.ReasoningEffort != "" {
		args = append(args, "-c", "model_reasoning_effort="+e.cfg.ReasoningEffort)
	}

	reserved := safetyArgs
	if lastMsgPath != "" {
		reserved = append(append([]string{}, safetyArgs...), "--output-last-message")
	}
	args = append(args, providers.FilterArgs(e.cfg.ExtraArgs, reserved, e.log)...)

	args = append(args, safetyArgs...)
	if lastMsgPath != "" {
		args = append(args, "--output-last-message", lastMsgPath)
	}
	return args
}

// unknownFlag reports whether an execution failure is the binary rejecting
// --output-last-message specifically. Both streams are inspected, and the
// rejection text must name the flag: a bad user argument also produces
// unknown-flag language, and retrying without the last-message file would
// not help it.
func unknownFlag(err error) bool {
	execErr, ok := errors.AsExecutionError(err)
	if !ok {
		return false
	}
	output := strings.ToLower(execErr.Stderr + "\n" + execErr.Stdout)
	if !strings.Contains(output, "output-last-message") {
		return false
	}
	for _, marker := range []string{"unknown flag", "unrecognized option", "unexpected argument", "invalid option", "unknown option"} {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

var _ providers.Provider = (*Engine)(nil)
