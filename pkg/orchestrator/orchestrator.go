// Package orchestrator ties the pipeline together: request validation,
// prompt rendering, caching, queue admission, retries, subprocess
// execution, cross-engine aggregation, secret-scan fold-in, and analysis
// status tracking.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosscheckhq/crosscheck/pkg/aggregate"
	"github.com/crosscheckhq/crosscheck/pkg/audit"
	"github.com/crosscheckhq/crosscheck/pkg/cache"
	"github.com/crosscheckhq/crosscheck/pkg/config"
	"github.com/crosscheckhq/crosscheck/pkg/errors"
	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/prompt"
	"github.com/crosscheckhq/crosscheck/pkg/providers"
	"github.com/crosscheckhq/crosscheck/pkg/queue"
	"github.com/crosscheckhq/crosscheck/pkg/retry"
	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/secrets"
	"github.com/crosscheckhq/crosscheck/pkg/status"
)

// Metrics is the observation hook the orchestrator reports into. A nil
// implementation is replaced by a no-op.
type Metrics interface {
	AnalysisStarted(provider string)
	AnalysisCompleted(provider, outcome string, duration time.Duration)
	FindingsReported(provider string, bySeverity map[string]int)
	CacheHit(provider string)
}

// Orchestrator executes analysis requests end to end.
type Orchestrator struct {
	cfg      *config.Config
	engines  map[review.ProviderTag]providers.Provider
	queues   map[review.ProviderTag]*queue.Queue
	renderer *prompt.Renderer
	cache    cache.Service
	store    status.Store
	secrets  secrets.Scanner
	agg      *aggregate.Aggregator
	metrics  Metrics
	audit    *audit.Logger
	log      logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAuditLogger attaches an audit trail. nil disables audit recording.
func WithAuditLogger(a *audit.Logger) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// WithSecretScanner replaces the built-in secret scanner. nil disables
// secret fold-in regardless of configuration.
func WithSecretScanner(s secrets.Scanner) Option {
	return func(o *Orchestrator) { o.secrets = s }
}

// New creates an Orchestrator over the given engines. Each engine gets its
// own admission queue from its provider configuration.
func New(cfg *config.Config, engines []providers.Provider, c cache.Service, store status.Store, log logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		engines:  make(map[review.ProviderTag]providers.Provider, len(engines)),
		queues:   make(map[review.ProviderTag]*queue.Queue, len(engines)),
		renderer: prompt.NewRenderer(),
		cache:    c,
		store:    store,
		agg:      aggregate.New(cfg.Aggregate.SimilarityThreshold, log),
		metrics:  nopMetrics{},
		log:      logging.OrNop(log),
	}
	if cfg.Secrets.Enabled {
		o.secrets = secrets.NewRegexScanner()
	}
	for _, e := range engines {
		o.engines[e.Tag()] = e
		qcfg := queue.Config{Concurrency: 1}
		if pc := cfg.Provider(string(e.Tag())); pc != nil {
			qcfg = pc.Queue
		}
		o.queues[e.Tag()] = queue.New(qcfg)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers lists the engine tags this orchestrator can dispatch to.
func (o *Orchestrator) Providers() []review.ProviderTag {
	tags := make([]review.ProviderTag, 0, len(o.engines))
	for tag := range o.engines {
		tags = append(tags, tag)
	}
	return tags
}

// Status returns the stored record for an analysis.
func (o *Orchestrator) Status(ctx context.Context, analysisID string) (*status.Record, error) {
	return o.store.Get(ctx, analysisID)
}

// =============================================================================
// Single-Provider Analysis
// =============================================================================

// Analyze runs a request through one engine. The returned result always
// carries a fresh analysis ID and timestamp, even when the payload came
// from the cache.
func (o *Orchestrator) Analyze(ctx context.Context, tag review.ProviderTag, req *review.AnalysisRequest) (*review.AnalysisResult, error) {
	const op = "orchestrator.Analyze"

	if err := req.Validate(); err != nil {
		return nil, err
	}
	engine, ok := o.engines[tag]
	if !ok {
		return nil, errors.E(errors.KindInvalidInput, op, "unknown provider: "+string(tag))
	}

	analysisID := uuid.NewString()
	if err := o.store.Create(ctx, analysisID, string(tag)); err != nil {
		return nil, err
	}

	start := time.Now()
	o.metrics.AnalysisStarted(string(tag))
	if o.audit != nil {
		o.audit.AnalysisStarted(analysisID, string(tag))
	}

	result, fromCache, err := o.runProvider(ctx, engine, req, analysisID)
	if err != nil {
		o.recordFailure(ctx, analysisID, string(tag), err, start)
		return nil, err
	}

	o.finalizeResult(result, analysisID, req, fromCache, start)
	if o.secrets != nil {
		o.foldSecretsIntoResult(result, req.Prompt)
	}

	o.storeResult(ctx, analysisID, string(tag), result, start)
	return result, nil
}

// runProvider pushes one engine invocation through cache, queue admission,
// and the retry wrapper. The cache payload is the marshaled result.
func (o *Orchestrator) runProvider(ctx context.Context, engine providers.Provider, req *review.AnalysisRequest, analysisID string) (*review.AnalysisResult, bool, error) {
	const op = "orchestrator.runProvider"

	tag := engine.Tag()
	key := o.cacheKey(tag, req)

	compute := func(ctx context.Context) ([]byte, error) {
		if err := o.store.UpdateState(ctx, analysisID, status.StateInProgress); err != nil {
			o.log.Warn("status update failed for %s: %v", analysisID, err)
		}

		rendered, err := o.renderer.Render(req.Opt().TemplateID, req)
		if err != nil {
			return nil, err
		}

		retryCfg := retry.DefaultConfig()
		if pc := o.cfg.Provider(string(tag)); pc != nil {
			retryCfg = pc.Retry
		}

		res, err := queue.Add(ctx, o.queues[tag], func(ctx context.Context) (*review.AnalysisResult, error) {
			return retry.Do(ctx, retryCfg, o.log, func(ctx context.Context) (*review.AnalysisResult, error) {
				return engine.Run(ctx, rendered, req.Opt())
			})
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}

	payload, fromCache, err := o.cache.GetOrSet(ctx, key, compute)
	if err != nil {
		return nil, false, err
	}
	if fromCache {
		o.metrics.CacheHit(string(tag))
		if o.audit != nil {
			o.audit.CacheHit(analysisID, string(tag))
		}
	}

	var result review.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false, errors.E(errors.KindInternal, op, "decode cached result", err)
	}
	return &result, fromCache, nil
}

// finalizeResult stamps orchestrator-owned fields: the analysis ID always
// comes from the orchestrator, and a cache hit still gets a fresh ID,
// timestamp, and the fromCache marker.
func (o *Orchestrator) finalizeResult(result *review.AnalysisResult, analysisID string, req *review.AnalysisRequest, fromCache bool, start time.Time) {
	result.AnalysisID = analysisID
	result.Timestamp = time.Now()
	result.Metadata.DurationMs = time.Since(start).Milliseconds()
	result.Metadata.FromCache = fromCache
	if req.Context != nil {
		ctx := *req.Context
		result.Metadata.Context = &ctx
	}
	if req.Opt().SuppressWarnings {
		result.Metadata.Warnings = nil
	}
}

// =============================================================================
// Combined Analysis
// =============================================================================

type engineOutcome struct {
	tag       review.ProviderTag
	result    *review.AnalysisResult
	fromCache bool
	err       error
}

// AnalyzeCombined runs the request through every registered engine and
// merges the results. Combined analysis is all-or-nothing: if any engine
// fails at the execution level, the whole analysis fails.
func (o *Orchestrator) AnalyzeCombined(ctx context.Context, req *review.AnalysisRequest) (*review.AggregatedAnalysis, error) {
	const op = "orchestrator.AnalyzeCombined"

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(o.engines) == 0 {
		return nil, errors.E(errors.KindInternal, op, "no providers registered")
	}

	analysisID := uuid.NewString()
	if err := o.store.Create(ctx, analysisID, string(review.TagCombined)); err != nil {
		return nil, err
	}
	if err := o.store.UpdateState(ctx, analysisID, status.StateInProgress); err != nil {
		o.log.Warn("status update failed for %s: %v", analysisID, err)
	}

	start := time.Now()
	o.metrics.AnalysisStarted(string(review.TagCombined))

	outcomes := o.runAll(ctx, req, req.Opt().Sequential)

	results := make(map[review.ProviderTag]*review.AnalysisResult, len(outcomes))
	allCached := true
	for _, out := range outcomes {
		if out.err != nil {
			o.recordFailure(ctx, analysisID, string(review.TagCombined), out.err, start)
			return nil, out.err
		}
		results[out.tag] = out.result
		allCached = allCached && out.fromCache
	}

	combined := o.agg.Merge(results, req.Opt())
	combined.AnalysisID = analysisID
	combined.Timestamp = time.Now()
	combined.Metadata.DurationMs = time.Since(start).Milliseconds()
	combined.Metadata.FromCache = allCached
	if req.Context != nil {
		ctx := *req.Context
		combined.Metadata.Context = &ctx
	}

	if o.secrets != nil {
		o.foldSecretsIntoCombined(combined, req.Prompt, len(results))
	}

	o.storeCombined(ctx, analysisID, combined, start)
	return combined, nil
}

// runAll dispatches to every engine, in parallel unless sequential mode
// was requested. Each engine result carries its own analysis record so
// per-engine state remains inspectable.
func (o *Orchestrator) runAll(ctx context.Context, req *review.AnalysisRequest, sequential bool) []engineOutcome {
	tags := o.sortedTags()
	outcomes := make([]engineOutcome, len(tags))

	run := func(i int, tag review.ProviderTag) {
		subID := uuid.NewString()
		if err := o.store.Create(ctx, subID, string(tag)); err != nil {
			outcomes[i] = engineOutcome{tag: tag, err: err}
			return
		}
		res, fromCache, err := o.runProvider(ctx, o.engines[tag], req, subID)
		if err != nil {
			o.recordFailure(ctx, subID, string(tag), err, time.Now())
			outcomes[i] = engineOutcome{tag: tag, err: err}
			return
		}
		res.AnalysisID = subID
		o.storeResult(ctx, subID, string(tag), res, time.Now())
		outcomes[i] = engineOutcome{tag: tag, result: res, fromCache: fromCache}
	}

	if sequential {
		for i, tag := range tags {
			run(i, tag)
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for i, tag := range tags {
		wg.Add(1)
		go func(i int, tag review.ProviderTag) {
			defer wg.Done()
			run(i, tag)
		}(i, tag)
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) sortedTags() []review.ProviderTag {
	tags := o.Providers()
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j] < tags[j-1]; j-- {
			tags[j], tags[j-1] = tags[j-1], tags[j]
		}
	}
	return tags
}

// =============================================================================
// Secret Fold-In
// =============================================================================

func (o *Orchestrator) foldSecretsIntoResult(result *review.AnalysisResult, content string) {
	matches := o.secrets.Scan(content)
	if len(matches) == 0 {
		return
	}
	result.Findings = append(result.Findings, secrets.ToFindings(matches)...)
	result.RecomputeSummary()
	if o.audit != nil {
		o.audit.SecretsDetected(result.AnalysisID, len(matches))
	}
	o.log.Info("folded %d secret finding(s) into analysis %s", len(matches), result.AnalysisID)
}

// foldSecretsIntoCombined appends secret findings as high-confidence
// aggregated findings. Pattern matches are deterministic, so confidence
// does not depend on engine agreement.
func (o *Orchestrator) foldSecretsIntoCombined(combined *review.AggregatedAnalysis, content string, totalReviewers int) {
	matches := o.secrets.Scan(content)
	if len(matches) == 0 {
		return
	}
	for _, f := range secrets.ToFindings(matches) {
		combined.Findings = append(combined.Findings, review.AggregatedFinding{
			Finding:    f,
			Sources:    []review.ProviderTag{review.TagSecretScanner},
			Confidence: review.ConfidenceHigh,
		})
	}
	combined.RecomputeSummary()
	o.log.Info("folded %d secret finding(s) into combined analysis %s", len(matches), combined.AnalysisID)
}

// =============================================================================
// Status Recording
// =============================================================================

// recordFailure writes the failure to the status store before the error is
// re-raised to the caller. A store failure is logged, never masks the
// original error.
func (o *Orchestrator) recordFailure(ctx context.Context, analysisID, provider string, cause error, start time.Time) {
	if err := o.store.SetError(ctx, analysisID, errors.GetKind(cause).String(), cause.Error()); err != nil {
		o.log.Warn("recording failure for %s: %v", analysisID, err)
	}
	o.metrics.AnalysisCompleted(provider, "failed", time.Since(start))
	if o.audit != nil {
		o.audit.AnalysisFailed(analysisID, provider, cause)
	}
}

func (o *Orchestrator) storeResult(ctx context.Context, analysisID, provider string, result *review.AnalysisResult, start time.Time) {
	payload, err := json.Marshal(result)
	if err == nil {
		err = o.store.SetResult(ctx, analysisID, payload)
	}
	if err != nil {
		o.log.Warn("storing result for %s: %v", analysisID, err)
	}
	o.metrics.AnalysisCompleted(provider, "completed", time.Since(start))
	o.metrics.FindingsReported(provider, severityMap(result.Summary))
	if o.audit != nil {
		o.audit.AnalysisCompleted(analysisID, provider, time.Since(start), result.Summary.Total)
	}
}

func (o *Orchestrator) storeCombined(ctx context.Context, analysisID string, combined *review.AggregatedAnalysis, start time.Time) {
	payload, err := json.Marshal(combined)
	if err == nil {
		err = o.store.SetResult(ctx, analysisID, payload)
	}
	if err != nil {
		o.log.Warn("storing combined result for %s: %v", analysisID, err)
	}
	o.metrics.AnalysisCompleted(string(review.TagCombined), "completed", time.Since(start))
	o.metrics.FindingsReported(string(review.TagCombined), severityMap(combined.Summary))
}

func severityMap(s review.Summary) map[string]int {
	return map[string]int{
		"critical": s.Critical,
		"high":     s.High,
		"medium":   s.Medium,
		"low":      s.Low,
		"info":     s.Info,
	}
}

type nopMetrics struct{}

func (nopMetrics) AnalysisStarted(string)                          {}
func (nopMetrics) AnalysisCompleted(string, string, time.Duration) {}
func (nopMetrics) FindingsReported(string, map[string]int)         {}
func (nopMetrics) CacheHit(string)                                 {}
