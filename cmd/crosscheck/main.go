// crosscheck - Multi-engine AI code review dispatcher
//
// Supported invocations:
//
//  1. SINGLE ENGINE:
//     crosscheck -provider codex -prompt-file review.diff
//
//  2. COMBINED (all configured engines, findings merged):
//     crosscheck -prompt-file review.diff
//
//  3. OPERATIONS:
//     crosscheck -status <analysis-id>
//     crosscheck -doctor
//     crosscheck -cache-stats
//     crosscheck -cache-clear
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/crosscheckhq/crosscheck/pkg/audit"
	"github.com/crosscheckhq/crosscheck/pkg/cache"
	"github.com/crosscheckhq/crosscheck/pkg/config"
	"github.com/crosscheckhq/crosscheck/pkg/health"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/metrics"
	"github.com/crosscheckhq/crosscheck/pkg/orchestrator"
	"github.com/crosscheckhq/crosscheck/pkg/providers"
	"github.com/crosscheckhq/crosscheck/pkg/providers/codex"
	"github.com/crosscheckhq/crosscheck/pkg/providers/gemini"
	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/security"
	"github.com/crosscheckhq/crosscheck/pkg/status"
)

const (
	appName    = "crosscheck"
	appVersion = "1.0.0"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config file (or CROSSCHECK_CONFIG env)")
	provider := flag.String("provider", "", "Run a single engine (codex, gemini); empty runs all configured engines combined")
	promptText := flag.String("prompt", "", "Review prompt text")
	promptFile := flag.String("prompt-file", "", "File containing the review prompt ('-' for stdin)")
	severityFilter := flag.String("severity", "", "Drop findings below this severity (low, medium, high, critical)")
	templateID := flag.String("template", "", "Prompt template identifier")
	executable := flag.String("executable", "", "Override the engine binary for this request (single-engine mode)")
	autoDetect := flag.Bool("auto-detect", false, "Search well-known install locations when the engine binary is not on PATH")
	timeoutMs := flag.Int64("timeout-ms", 0, "Subprocess deadline override in milliseconds (negative disables)")
	language := flag.String("language", "", "Context hint: source language")
	framework := flag.String("framework", "", "Context hint: framework")
	platform := flag.String("platform", "", "Context hint: deployment platform")
	threatModel := flag.String("threat-model", "", "Context hint: threat model")
	sequential := flag.Bool("sequential", false, "Run engines one at a time in combined mode")
	noDedup := flag.Bool("no-dedup", false, "Keep every finding instead of merging duplicates across engines")
	includeIndividual := flag.Bool("include-individual", false, "Attach per-engine results to the combined output")
	noCache := flag.Bool("no-cache", false, "Bypass the result cache")
	suppressWarnings := flag.Bool("suppress-warnings", false, "Drop non-fatal warnings from result metadata")
	outputFile := flag.String("output", "", "Output file path (instead of stdout)")
	statusID := flag.String("status", "", "Look up a previous analysis by ID")
	doctor := flag.Bool("doctor", false, "Check engine binaries, cache, and status store")
	healthSnapshot := flag.Bool("health", false, "Print a JSON health snapshot")
	metricsListen := flag.String("metrics-listen", "", "Serve prometheus metrics and health probes on this address during the analysis")
	cacheClear := flag.Bool("cache-clear", false, "Remove all cached results")
	cacheStats := flag.Bool("cache-stats", false, "Show cache statistics")
	listProviders := flag.Bool("list-providers", false, "List available engines")
	verbose := flag.Bool("verbose", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *noCache {
		cfg.Cache.Enabled = false
	}

	log := logging.LoggerFromVerbose(appName, cfg.Verbose)

	if *listProviders {
		fmt.Println("Available engines:")
		fmt.Printf("  %-8s - %s (model: %s)\n", review.TagCodex, cfg.Codex.Binary, cfg.Codex.Model)
		fmt.Printf("  %-8s - %s (model: %s)\n", review.TagGemini, cfg.Gemini.Binary, cfg.Gemini.Model)
		os.Exit(0)
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	resultCache, err := cache.New(cfg.Cache.Enabled, cfg.Cache.Dir, cfg.Cache.TTL, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}

	if *doctor {
		runDoctor(ctx, cfg, resultCache)
		os.Exit(0)
	}
	if *healthSnapshot {
		writeJSON(healthHandler(cfg, resultCache).Check(ctx), *outputFile)
		return
	}
	if *cacheClear {
		if err := resultCache.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Cache cleared.")
		os.Exit(0)
	}
	if *cacheStats {
		stats := resultCache.GetStats()
		fmt.Printf("Cache directory: %s\n", stats.Dir)
		fmt.Printf("Entries:         %d\n", stats.Entries)
		fmt.Printf("Total size:      %d bytes\n", stats.TotalBytes)
		os.Exit(0)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening status store: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	if *metricsListen != "" {
		collector := metrics.NewPrometheusCollector(nil)
		metrics.SetDefaultCollector(collector)

		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		health.RegisterRoutes(mux, &health.ServerConfig{Handler: healthHandler(cfg, resultCache)})

		go func() {
			if err := http.ListenAndServe(*metricsListen, mux); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Metrics server error: %v\n", err)
			}
		}()
		log.Info("serving metrics and health probes on %s", *metricsListen)
	}

	var opts []orchestrator.Option
	if cfg.Audit.Enabled {
		trail, err := audit.NewLogger(&audit.LoggerConfig{
			LogFile: cfg.Audit.File,
			Verbose: cfg.Verbose,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
			os.Exit(1)
		}
		trail.Start()
		defer trail.Stop() //nolint:errcheck
		opts = append(opts, orchestrator.WithAuditLogger(trail))
	}

	orch := buildOrchestrator(cfg, resultCache, store, log, opts...)

	if *statusID != "" {
		record, err := orch.Status(ctx, *statusID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		writeJSON(record, *outputFile)
		return
	}

	prompt, err := resolvePrompt(*promptText, *promptFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading prompt: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(prompt) == "" {
		fmt.Fprintln(os.Stderr, "Error: no prompt provided.")
		fmt.Fprintln(os.Stderr, "Use -prompt, -prompt-file, or pipe the prompt on stdin with -prompt-file -.")
		os.Exit(1)
	}

	req := &review.AnalysisRequest{
		Prompt: prompt,
		Context: &review.Context{
			Language:    *language,
			Framework:   *framework,
			Platform:    *platform,
			ThreatModel: *threatModel,
		},
		Options: &review.Options{
			SeverityFilter:    *severityFilter,
			TimeoutMs:         *timeoutMs,
			TemplateID:        *templateID,
			ExecutablePath:    *executable,
			AutoDetect:        *autoDetect,
			SuppressWarnings:  *suppressWarnings,
			Sequential:        *sequential,
			IncludeIndividual: *includeIndividual,
			NoDedup:           *noDedup,
		},
	}

	if *provider != "" {
		result, err := orch.Analyze(ctx, review.ProviderTag(*provider), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
			os.Exit(1)
		}
		writeJSON(result, *outputFile)
		return
	}

	combined, err := orch.AnalyzeCombined(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Analysis failed: %v\n", err)
		os.Exit(1)
	}
	writeJSON(combined, *outputFile)
}

// buildOrchestrator wires the engines, cache, and status store together.
func buildOrchestrator(cfg *config.Config, c cache.Service, store status.Store, log logging.Logger, extra ...orchestrator.Option) *orchestrator.Orchestrator {
	codexEngine := codex.New(cfg.Codex, security.NewValidator(string(review.TagCodex), cfg.Codex.Binary, log), log)
	geminiEngine := gemini.New(cfg.Gemini, security.NewValidator(string(review.TagGemini), cfg.Gemini.Binary, log), log)

	recorder := metrics.NewAnalysisRecorder(metrics.GetDefaultCollector())

	opts := append([]orchestrator.Option{orchestrator.WithMetrics(recorder)}, extra...)

	return orchestrator.New(cfg,
		[]providers.Provider{codexEngine, geminiEngine},
		c, store, log,
		opts...,
	)
}

func openStore(cfg *config.Config) (status.Store, func(), error) {
	if cfg.Status.Backend == "sqlite" {
		s, err := status.NewSQLiteStore(cfg.Status.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return status.NewMemoryStore(), func() {}, nil
}

// resolvePrompt reads the prompt from the flag, a file, or stdin.
func resolvePrompt(text, file string) (string, error) {
	if text != "" {
		return text, nil
	}
	if file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return "", nil
}

func writeJSON(v any, outputFile string) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Results written to %s\n", outputFile)
		return
	}
	fmt.Println(string(data))
}

// healthHandler builds the health check set shared by -health and the
// probe endpoints.
func healthHandler(cfg *config.Config, resultCache *cache.FileCache) *health.Handler {
	h := health.NewHandler(health.WithVersion(appVersion))

	h.Register("codex", &health.ProviderCheck{Provider: string(review.TagCodex), Binary: cfg.Codex.Binary})
	h.Register("gemini", &health.ProviderCheck{Provider: string(review.TagGemini), Binary: cfg.Gemini.Binary})

	cacheDir := ""
	if resultCache.Enabled() {
		cacheDir = resultCache.GetStats().Dir
	}
	h.Register("cache", &health.CacheCheck{Dir: cacheDir})
	h.Register("memory", &health.MemoryCheck{})

	return h
}

// runDoctor checks that the environment is ready for analysis.
func runDoctor(ctx context.Context, cfg *config.Config, resultCache *cache.FileCache) {
	fmt.Println("Checking crosscheck environment...")
	fmt.Println()

	checks := []health.Checker{
		&health.ProviderCheck{Provider: string(review.TagCodex), Binary: cfg.Codex.Binary},
		&health.ProviderCheck{Provider: string(review.TagGemini), Binary: cfg.Gemini.Binary},
	}

	cacheDir := ""
	if resultCache.Enabled() {
		cacheDir = resultCache.GetStats().Dir
	}
	checks = append(checks, &health.CacheCheck{Dir: cacheDir})

	if cfg.Status.Backend == "sqlite" {
		checks = append(checks, &health.StoreCheck{
			PingFunc: func(ctx context.Context) error {
				s, err := status.NewSQLiteStore(cfg.Status.Path)
				if err != nil {
					return err
				}
				return s.Close()
			},
		})
	}

	unhealthy := 0
	for _, check := range checks {
		result := check.Check(ctx)

		switch result.Status {
		case health.StatusHealthy:
			fmt.Printf("  ✓ %-16s %s\n", check.Name(), result.Message)
		case health.StatusDegraded:
			fmt.Printf("  ~ %-16s %s\n", check.Name(), result.Error)
		case health.StatusUnknown:
			fmt.Printf("  - %-16s %s\n", check.Name(), result.Message)
		default:
			fmt.Printf("  ✗ %-16s %s\n", check.Name(), result.Error)
			unhealthy++
		}
	}

	fmt.Println()
	if unhealthy > 0 {
		fmt.Printf("%d check(s) failed.\n", unhealthy)
		os.Exit(1)
	}
	fmt.Println("Environment ready.")
}
