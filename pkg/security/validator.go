// Package security validates provider executable paths against an
// allow-list before any subprocess is spawned.
package security

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
)

// Validator holds the allow-list for one provider's executable.
//
// The allow-list is append-only: static install locations and the env
// override are added at construction, auto-detected paths are registered
// once per provider lifetime via Register. Reads vastly outnumber writes,
// so a RWMutex guards both the allow-list and the memoized validations.
type Validator struct {
	provider   string
	executable string
	log        logging.Logger

	detectOnce sync.Once
	detected   string

	mu        sync.RWMutex
	aliases   map[string]struct{} // bare executable names
	allowed   map[string]struct{} // canonical absolute paths
	validated map[string]struct{} // memoized successful validations
}

// EnvOverride returns the environment variable consulted for a provider's
// executable path, e.g. CODEX_CLI_PATH.
func EnvOverride(provider string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, provider)
	return strings.ToUpper(cleaned) + "_CLI_PATH"
}

// NewValidator builds a validator for the given provider and its bare
// executable name. The allow-list starts with platform install locations,
// the env override (if set), and the bare name itself for PATH resolution.
func NewValidator(provider, executable string, log logging.Logger) *Validator {
	v := &Validator{
		provider:   provider,
		executable: executable,
		log:        logging.OrNop(log),
		aliases:    make(map[string]struct{}),
		allowed:    make(map[string]struct{}),
		validated:  make(map[string]struct{}),
	}

	v.aliases[executable] = struct{}{}
	if runtime.GOOS == "windows" {
		v.aliases[executable+".exe"] = struct{}{}
		v.aliases[executable+".cmd"] = struct{}{}
	}

	for _, p := range staticInstallLocations(executable) {
		v.allowed[canonicalize(p)] = struct{}{}
	}

	if override := os.Getenv(EnvOverride(provider)); override != "" {
		v.allowed[canonicalize(override)] = struct{}{}
		v.log.Debug("allow-listed %s override for %s", EnvOverride(provider), provider)
	}

	return v
}

// Detect probes for the provider executable: first a PATH lookup on the
// bare name, then the static install locations. The first hit is
// registered on the allow-list and returned. Detection runs at most once
// per validator lifetime; later calls return the first outcome.
func (v *Validator) Detect() (string, bool) {
	v.detectOnce.Do(func() {
		path, ok := v.probe()
		if !ok {
			v.log.Debug("auto-detect found no %s executable", v.provider)
			return
		}
		v.detected = path
		v.Register(path)
		v.log.Info("auto-detected %s executable at %s", v.provider, path)
	})
	return v.detected, v.detected != ""
}

func (v *Validator) probe() (string, bool) {
	if resolved, err := exec.LookPath(v.executable); err == nil {
		return canonicalize(resolved), true
	}
	for _, p := range staticInstallLocations(v.executable) {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return canonicalize(p), true
		}
	}
	return "", false
}

// Register adds an auto-detected executable path to the allow-list.
// Called at most once per provider lifetime by the detection step.
func (v *Validator) Register(path string) {
	canonical := canonicalize(path)
	v.mu.Lock()
	v.allowed[canonical] = struct{}{}
	v.mu.Unlock()
	v.log.Debug("registered detected path for %s: %s", v.provider, canonical)
}

// Validate checks a path against the allow-list. It runs once per request,
// before any retry: retrying a security failure could be used to probe the
// check through races, so the retry wrapper never sees these errors.
func (v *Validator) Validate(path string) error {
	const op = "security.Validator.Validate"

	v.mu.RLock()
	_, done := v.validated[path]
	v.mu.RUnlock()
	if done {
		return nil
	}

	if err := v.check(op, path); err != nil {
		return err
	}

	v.mu.Lock()
	v.validated[path] = struct{}{}
	v.mu.Unlock()
	return nil
}

func (v *Validator) check(op, path string) error {
	v.mu.RLock()
	_, isAlias := v.aliases[path]
	v.mu.RUnlock()

	if isAlias {
		return v.checkAlias(op, path)
	}

	canonical := canonicalize(path)
	v.mu.RLock()
	_, ok := v.allowed[canonical]
	v.mu.RUnlock()
	if !ok {
		return errors.E(errors.KindSecurity, op,
			fmt.Sprintf("executable path %q is not in the %s allow-list", path, v.provider))
	}
	return nil
}

// checkAlias handles the bare executable name. The name must already be an
// allow-listed alias, and on non-Windows platforms the PATH resolution is
// additionally verified: a lookup that resolves outside the allow-list is a
// hard failure, while a lookup that merely fails is tolerated because the
// name itself was trusted.
func (v *Validator) checkAlias(op, name string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	resolved, err := exec.LookPath(name)
	if err != nil {
		v.log.Debug("PATH lookup for %s failed (%v), relying on allow-listed name", name, err)
		return nil
	}

	canonical := canonicalize(resolved)
	v.mu.RLock()
	_, ok := v.allowed[canonical]
	v.mu.RUnlock()
	if !ok {
		return errors.E(errors.KindSecurity, op,
			fmt.Sprintf("%q resolves to %q which is not in the %s allow-list", name, canonical, v.provider))
	}
	return nil
}

// canonicalize resolves a path to its canonical absolute form. Symlink
// resolution is tolerant: allow-list entries routinely point at locations
// that do not exist on this machine.
func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// staticInstallLocations returns the known safe install locations for an
// executable on the current platform.
func staticInstallLocations(executable string) []string {
	home, _ := os.UserHomeDir()

	if runtime.GOOS == "windows" {
		var paths []string
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			paths = append(paths, filepath.Join(local, "Programs", executable, executable+".exe"))
		}
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "npm", executable+".cmd"))
		}
		if home != "" {
			paths = append(paths, filepath.Join(home, "AppData", "Roaming", "npm", executable+".cmd"))
		}
		return paths
	}

	paths := []string{
		filepath.Join("/usr/local/bin", executable),
		filepath.Join("/usr/bin", executable),
		filepath.Join("/opt/homebrew/bin", executable),
	}
	if home != "" {
		paths = append(paths,
			filepath.Join(home, ".local", "bin", executable),
			filepath.Join(home, ".npm-global", "bin", executable),
			filepath.Join(home, "bin", executable),
		)
	}
	return paths
}
