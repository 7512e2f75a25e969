// Package cliexec runs provider CLIs as sandboxed subprocesses.
//
// Two rules are absolute: arguments are passed as a vector, never through a
// shell, and the prompt travels over standard input, never on the command
// line. Both close off injection and argument-length failure modes.
package cliexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
)

// maxDiagnosticOutput caps the stdout/stderr carried inside an error.
// Full output stays in the Result; errors only need enough to diagnose.
const maxDiagnosticOutput = 8 * 1024

// killGracePeriod bounds how long a killed invocation may linger. The AI
// CLIs spawn child processes that inherit the output pipes, and cmd.Run
// waits for those pipes to close; without this bound a timed-out request
// blocks until the last orphaned child exits.
const killGracePeriod = time.Second

// Config describes one subprocess invocation.
type Config struct {
	// Provider is the provider tag, used for error attribution.
	Provider string

	// Binary is the executable path. It must already have passed
	// allow-list validation; this package does not re-check it.
	Binary string

	// Args is the argument vector (without the binary itself).
	Args []string

	// Stdin is the rendered prompt delivered over standard input.
	Stdin string

	// Timeout is the subprocess deadline. Zero disables the deadline.
	Timeout time.Duration

	// WorkDir is the working directory ("" = inherit).
	WorkDir string

	// Env is appended to the inherited environment.
	Env map[string]string
}

// Result holds the captured output of a completed subprocess.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// Runner is the function type of Run, so engines can swap the subprocess
// layer out in tests.
type Runner func(ctx context.Context, cfg *Config, log logging.Logger) (*Result, error)

// EffectiveTimeout resolves a request-level override against the provider
// default: 0 keeps the default, negative disables the deadline.
func EffectiveTimeout(overrideMs int64, def time.Duration) time.Duration {
	switch {
	case overrideMs < 0:
		return 0
	case overrideMs == 0:
		return def
	default:
		return time.Duration(overrideMs) * time.Millisecond
	}
}

// Run executes the configured CLI and captures its output.
//
// Failure modes map onto the error taxonomy: a missed deadline is
// KindTimeout, a non-zero exit is KindExecution with the captured output
// attached, and a spawn failure (binary vanished between validation and
// exec) is KindExecution as well.
func Run(ctx context.Context, cfg *Config, log logging.Logger) (*Result, error) {
	const op = "cliexec.Run"
	log = logging.OrNop(log)

	execCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, cfg.Binary, cfg.Args...)
	cmd.WaitDelay = killGracePeriod
	cmd.Stdin = strings.NewReader(cfg.Stdin)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.Env = os.Environ()
	for k, val := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, val))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("[%s] running %s with %d args (timeout=%v, stdin=%d bytes)",
		cfg.Provider, cfg.Binary, len(cfg.Args), cfg.Timeout, len(cfg.Stdin))

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
	}

	if err == nil {
		log.Debug("[%s] completed in %dms (stdout=%d bytes)", cfg.Provider, result.DurationMs, len(result.Stdout))
		return result, nil
	}

	// Deadline beats everything: the kill signal shows up as a generic
	// exit error, so the context has to be consulted first.
	if execCtx.Err() == context.DeadlineExceeded {
		return result, errors.E(errors.KindTimeout, op,
			fmt.Sprintf("%s CLI exceeded %v deadline", cfg.Provider, cfg.Timeout),
			context.DeadlineExceeded)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	execErr := &errors.ExecutionError{
		Provider: cfg.Provider,
		ExitCode: result.ExitCode,
		Stderr:   truncate(result.Stderr),
		Stdout:   truncate(result.Stdout),
	}
	return result, errors.E(errors.KindExecution, op, "subprocess failed", execErr)
}

func truncate(s string) string {
	if len(s) <= maxDiagnosticOutput {
		return s
	}
	return s[:maxDiagnosticOutput]
}
