// Package providers defines the engine contract shared by the codex and
// gemini backends: the Provider interface, safety-flag collision filtering
// for user-supplied arguments, and the tolerant response parser.
package providers

import (
	"context"
	"strings"

	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/review"
)

// Provider runs a rendered prompt through one CLI engine and returns the
// normalized result. Run returns an error only for execution-level failures
// (validation, spawn, timeout, non-zero exit); engine output that cannot be
// parsed degrades into an unsuccessful result instead.
type Provider interface {
	Tag() review.ProviderTag
	Run(ctx context.Context, prompt string, opt review.Options) (*review.AnalysisResult, error)
}

// Version reports the provider binary version where the engine exposes one.
// Optional; used for cache-key construction when available.
type Version interface {
	Version(ctx context.Context) string
}

// flagName extracts the flag portion of an argument: "--flag=value" and
// "--flag" both yield "--flag". Non-flag arguments return the argument
// unchanged.
func flagName(arg string) string {
	if !strings.HasPrefix(arg, "-") {
		return arg
	}
	if i := strings.IndexByte(arg, '='); i >= 0 {
		return arg[:i]
	}
	return arg
}

// FilterArgs removes user arguments that collide with the safety flags a
// provider always appends, so that a caller cannot override sandboxing by
// passing the same flag with a different value. An argument collides when
// its flag name matches a safety flag name exactly, whether given as
// "--flag value" or "--flag=value". The value token following a dropped
// "--flag value" pair is dropped with it.
func FilterArgs(userArgs, safetyArgs []string, log logging.Logger) []string {
	log = logging.OrNop(log)

	reserved := make(map[string]bool, len(safetyArgs))
	for _, a := range safetyArgs {
		if strings.HasPrefix(a, "-") {
			reserved[flagName(a)] = true
		}
	}

	var kept []string
	dropped := 0
	for i := 0; i < len(userArgs); i++ {
		arg := userArgs[i]
		if strings.HasPrefix(arg, "-") && reserved[flagName(arg)] {
			dropped++
			// "--flag value" form: the value travels with the flag.
			if !strings.Contains(arg, "=") && i+1 < len(userArgs) && !strings.HasPrefix(userArgs[i+1], "-") {
				i++
				dropped++
			}
			continue
		}
		kept = append(kept, arg)
	}

	if dropped > 0 {
		log.Warn("dropped %d user argument(s) colliding with enforced safety flags", dropped)
	}
	return kept
}
