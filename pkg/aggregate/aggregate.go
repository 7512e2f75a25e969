// Package aggregate merges per-engine analysis results into one combined
// result: findings reported by multiple engines are clustered into a single
// finding with union sources, max severity, and agreement-derived
// confidence.
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crosscheckhq/crosscheck/pkg/logging"
	"github.com/crosscheckhq/crosscheck/pkg/review"
	"github.com/crosscheckhq/crosscheck/pkg/shared/severity"
	"github.com/crosscheckhq/crosscheck/pkg/shared/textsim"
)

// DefaultThreshold is the similarity score at or above which two findings
// are treated as the same issue.
const DefaultThreshold = 0.8

// Fixed similarity scores for the structural cases. The text fallback is
// the title/description blend from textsim.
const (
	scoreSameLineSameType = 1.0
	scoreRangeOverlap     = 0.8
	scoreSameLineDiffType = 0.7
	minRangeOverlap       = 0.5
)

// Aggregator merges results from multiple engines.
type Aggregator struct {
	threshold float64
	log       logging.Logger
}

// New creates an Aggregator. A non-positive threshold selects the default.
func New(threshold float64, log logging.Logger) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Aggregator{threshold: threshold, log: logging.OrNop(log)}
}

// sourced is a finding plus the engine that reported it.
type sourced struct {
	review.Finding
	source review.ProviderTag
}

// cluster accumulates findings judged to be the same issue.
type cluster struct {
	members []sourced
	sources []review.ProviderTag
}

// Merge combines per-engine results. The map is keyed by engine tag; every
// entry counts as a reviewer when computing agreement, whether or not it
// reported findings.
func (a *Aggregator) Merge(results map[review.ProviderTag]*review.AnalysisResult, opt review.Options) *review.AggregatedAnalysis {
	combined := &review.AggregatedAnalysis{
		Timestamp: time.Now(),
		Source:    review.TagCombined,
		Success:   true,
	}

	// Deterministic input order regardless of map iteration.
	tags := make([]review.ProviderTag, 0, len(results))
	for tag := range results {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var all []sourced
	var recommendations []string
	for _, tag := range tags {
		res := results[tag]
		for _, f := range res.Findings {
			all = append(all, sourced{Finding: f, source: tag})
		}
		recommendations = append(recommendations, res.Recommendations...)
	}

	if opt.NoDedup {
		combined.Findings = a.keepAll(all)
	} else {
		combined.Findings = a.dedup(all, len(results))
	}

	sortFindings(combined.Findings)
	combined.Recommendations = a.dedupRecommendations(recommendations)
	combined.RecomputeSummary()
	combined.OverallAssessment = assessment(len(results), combined.Summary)

	if opt.IncludeIndividual {
		combined.IndividualAnalyses = results
	}
	return combined
}

// dedup clusters similar findings and collapses each cluster into one
// aggregated finding. Clusters are indexed by line number and by title key
// so each finding is scored only against plausible candidates; a finding
// with neither index falls back to scoring against every cluster.
func (a *Aggregator) dedup(all []sourced, totalReviewers int) []review.AggregatedFinding {
	var clusters []*cluster
	idx := newClusterIndex()
	for _, f := range all {
		best := -1
		bestScore := 0.0
		for _, i := range idx.candidates(f.Finding, len(clusters)) {
			score := clusterSimilarity(clusters[i], f)
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best >= 0 && bestScore >= a.threshold {
			clusters[best].add(f)
			idx.add(best, f.Finding)
			continue
		}
		c := &cluster{}
		c.add(f)
		clusters = append(clusters, c)
		idx.add(len(clusters)-1, f.Finding)
	}

	if len(all) > len(clusters) {
		a.log.Debug("deduplicated %d findings into %d", len(all), len(clusters))
	}

	out := make([]review.AggregatedFinding, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c.collapse(totalReviewers))
	}
	return out
}

// maxIndexedRangeLines bounds how many lines of a range get indexed.
// Pathological ranges still cluster through the title index.
const maxIndexedRangeLines = 256

// clusterIndex buckets cluster ids by line number and by title key, so
// candidate selection stays cheap as the finding count grows.
type clusterIndex struct {
	byLine  map[int][]int
	byTitle map[string][]int
}

func newClusterIndex() *clusterIndex {
	return &clusterIndex{
		byLine:  make(map[int][]int),
		byTitle: make(map[string][]int),
	}
}

func (idx *clusterIndex) add(id int, f review.Finding) {
	for _, line := range indexedLines(f) {
		idx.byLine[line] = append(idx.byLine[line], id)
	}
	if key := textsim.TitleKey(f.Title); key != "" {
		idx.byTitle[key] = append(idx.byTitle[key], id)
	}
}

// candidates returns the cluster ids worth scoring against f, in ascending
// order without duplicates. A finding with no line and no meaningful title
// tokens has no bucket and is compared against all existing clusters.
func (idx *clusterIndex) candidates(f review.Finding, total int) []int {
	lines := indexedLines(f)
	key := textsim.TitleKey(f.Title)
	if len(lines) == 0 && key == "" {
		all := make([]int, total)
		for i := range all {
			all[i] = i
		}
		return all
	}

	seen := make(map[int]struct{})
	var out []int
	collect := func(ids []int) {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, line := range lines {
		collect(idx.byLine[line])
	}
	if key != "" {
		collect(idx.byTitle[key])
	}
	sort.Ints(out)
	return out
}

// indexedLines returns the lines a finding is bucketed under: its exact
// line, or the lines its range covers.
func indexedLines(f review.Finding) []int {
	if f.Line != nil {
		return []int{*f.Line}
	}
	if f.LineRange == nil {
		return nil
	}
	end := f.LineRange.End
	if end-f.LineRange.Start >= maxIndexedRangeLines {
		end = f.LineRange.Start + maxIndexedRangeLines - 1
	}
	lines := make([]int, 0, end-f.LineRange.Start+1)
	for line := f.LineRange.Start; line <= end; line++ {
		lines = append(lines, line)
	}
	return lines
}

// keepAll preserves every finding unmerged. Without deduplication there is
// no agreement signal, so everything gets medium confidence.
func (a *Aggregator) keepAll(all []sourced) []review.AggregatedFinding {
	out := make([]review.AggregatedFinding, 0, len(all))
	for _, f := range all {
		out = append(out, review.AggregatedFinding{
			Finding:    f.Finding,
			Sources:    []review.ProviderTag{f.source},
			Confidence: review.ConfidenceMedium,
		})
	}
	return out
}

func (c *cluster) add(f sourced) {
	c.members = append(c.members, f)
	for _, s := range c.sources {
		if s == f.source {
			return
		}
	}
	c.sources = append(c.sources, f.source)
}

// collapse reduces a cluster to one finding: the first member provides the
// descriptive fields, severity is the maximum across members, and
// confidence comes from how many reviewers agreed.
func (c *cluster) collapse(totalReviewers int) review.AggregatedFinding {
	rep := c.members[0].Finding
	maxSev := rep.Severity
	for _, m := range c.members[1:] {
		maxSev = severity.Max(maxSev, m.Severity)
		if rep.Suggestion == "" && m.Suggestion != "" {
			rep.Suggestion = m.Suggestion
		}
	}
	rep.Severity = maxSev

	ratio := 0.0
	if totalReviewers > 0 {
		ratio = float64(len(c.sources)) / float64(totalReviewers)
	}
	return review.AggregatedFinding{
		Finding:    rep,
		Sources:    c.sources,
		Confidence: review.ConfidenceFromAgreement(ratio),
	}
}

// clusterSimilarity scores a candidate against a cluster as the maximum
// pairwise similarity with its members.
func clusterSimilarity(c *cluster, f sourced) float64 {
	best := 0.0
	for _, m := range c.members {
		if s := Similarity(m.Finding, f.Finding); s > best {
			best = s
		}
	}
	return best
}

// Similarity scores two findings in [0, 1]. Structural agreement (same
// line, overlapping ranges) dominates; otherwise the score blends title and
// description token overlap.
func Similarity(a, b review.Finding) float64 {
	sameType := strings.EqualFold(a.Type, b.Type)

	if a.Line != nil && b.Line != nil && *a.Line == *b.Line {
		if sameType {
			return scoreSameLineSameType
		}
		return scoreSameLineDiffType
	}

	if sameType && a.LineRange != nil && b.LineRange != nil {
		if a.LineRange.Overlap(*b.LineRange) > minRangeOverlap {
			return scoreRangeOverlap
		}
	}

	return textsim.Blend(a.Title, a.Description, b.Title, b.Description)
}

// dedupRecommendations drops recommendations too similar to one already
// kept, using the same threshold as finding deduplication.
func (a *Aggregator) dedupRecommendations(recs []string) []string {
	var kept []string
	for _, rec := range recs {
		dup := false
		for _, k := range kept {
			if textsim.Jaccard(rec, k) >= a.threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, rec)
		}
	}
	return kept
}

// sortFindings orders by severity descending, then line, then title, so the
// combined report leads with what matters.
func sortFindings(findings []review.AggregatedFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity != b.Severity {
			return a.Severity.IsHigherThan(b.Severity)
		}
		al, bl := lineOf(a.Finding), lineOf(b.Finding)
		if al != bl {
			return al < bl
		}
		return a.Title < b.Title
	})
}

func lineOf(f review.Finding) int {
	if f.Line != nil {
		return *f.Line
	}
	if f.LineRange != nil {
		return f.LineRange.Start
	}
	return 1 << 30
}

// assessment synthesizes the combined overall assessment: severity counts
// when critical or high findings exist, a good-quality note otherwise, and
// an agreement note when most findings are high-confidence.
func assessment(reviewers int, s review.Summary) string {
	var b strings.Builder

	switch {
	case s.Total == 0:
		fmt.Fprintf(&b, "No significant issues were found across %d reviewer(s); the code demonstrates good code quality.", reviewers)
	case s.Critical == 0 && s.High == 0:
		fmt.Fprintf(&b, "Combined review across %d reviewer(s) found %d minor issue(s) and nothing of critical or high severity; the code demonstrates good code quality.",
			reviewers, s.Total)
	default:
		var parts []string
		appendPart := func(n int, label string) {
			if n > 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, label))
			}
		}
		appendPart(s.Critical, "critical")
		appendPart(s.High, "high")
		appendPart(s.Medium, "medium")
		appendPart(s.Low, "low")
		appendPart(s.Info, "informational")
		fmt.Fprintf(&b, "Combined review across %d reviewer(s) found %d issue(s): %s.",
			reviewers, s.Total, strings.Join(parts, ", "))
	}

	if s.Total > 0 && s.Consensus > 50 {
		fmt.Fprintf(&b, " Reviewers agree on most findings (%d%% high confidence).", s.Consensus)
	}
	return b.String()
}
