// Package eval measures how often the engine selects the expected article
// for a set of labelled policy questions.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/policygraph"
)

// Querier is the part of policygraph.Engine the evaluator needs.
type Querier interface {
	Query(ctx context.Context, question string, opts ...policygraph.QueryOption) (*policygraph.Result, error)
}

// Evaluator runs datasets against an engine.
type Evaluator struct {
	engine Querier
}

// NewEvaluator creates an evaluator for the given engine.
func NewEvaluator(engine Querier) *Evaluator {
	return &Evaluator{engine: engine}
}

// Report is the outcome of one dataset run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Errors          int                         `json:"errors"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics averages per-test scores. Errored tests are excluded.
type AggregateMetrics struct {
	// SelectionAccuracy is the share of tests selecting the expected article.
	SelectionAccuracy float64 `json:"selection_accuracy"`
	// CandidateRecall is the share whose expected article was promoted at all.
	CandidateRecall float64 `json:"candidate_recall"`
	// MRR is the mean reciprocal rank of the expected article among candidates.
	MRR             float64 `json:"mrr"`
	FallbackRate    float64 `json:"fallback_rate"`
	FactAccuracy    float64 `json:"fact_accuracy"`
	CitationQuality float64 `json:"citation_quality"`
	AvgElapsedMs    float64 `json:"avg_elapsed_ms"`
}

// TestResult is the outcome of one question.
type TestResult struct {
	Question        string  `json:"question"`
	Category        string  `json:"category,omitempty"`
	Expected        string  `json:"expected"`
	Selected        string  `json:"selected,omitempty"`
	Found           bool    `json:"found"`
	Reason          string  `json:"reason,omitempty"`
	Passed          bool    `json:"passed"`
	Rank            int     `json:"rank"`
	Candidates      int     `json:"candidates"`
	Fallback        bool    `json:"fallback"`
	FactAccuracy    float64 `json:"fact_accuracy"`
	CitationQuality float64 `json:"citation_quality"`
	ElapsedMs       int64   `json:"elapsed_ms"`
	Error           string  `json:"error,omitempty"`
}

// accumulator sums metrics before averaging.
type accumulator struct {
	n       int
	sums    AggregateMetrics
	withFac int
}

func (a *accumulator) add(r TestResult, hasFacts bool) {
	a.n++
	if r.Passed {
		a.sums.SelectionAccuracy++
	}
	if r.Rank > 0 {
		a.sums.CandidateRecall++
		a.sums.MRR += 1 / float64(r.Rank)
	}
	if r.Fallback {
		a.sums.FallbackRate++
	}
	if hasFacts {
		a.withFac++
		a.sums.FactAccuracy += r.FactAccuracy
	}
	a.sums.CitationQuality += r.CitationQuality
	a.sums.AvgElapsedMs += float64(r.ElapsedMs)
}

func (a *accumulator) average() AggregateMetrics {
	if a.n == 0 {
		return AggregateMetrics{}
	}
	n := float64(a.n)
	m := AggregateMetrics{
		SelectionAccuracy: a.sums.SelectionAccuracy / n,
		CandidateRecall:   a.sums.CandidateRecall / n,
		MRR:               a.sums.MRR / n,
		FallbackRate:      a.sums.FallbackRate / n,
		CitationQuality:   a.sums.CitationQuality / n,
		AvgElapsedMs:      a.sums.AvgElapsedMs / n,
	}
	if a.withFac > 0 {
		m.FactAccuracy = a.sums.FactAccuracy / float64(a.withFac)
	}
	return m
}

// Run evaluates every test of the dataset in order.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset, opts ...policygraph.QueryOption) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		TotalTests:      len(dataset.Tests),
		CategoryMetrics: make(map[string]AggregateMetrics),
	}

	var total accumulator
	cats := make(map[string]*accumulator)

	for i, test := range dataset.Tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if test.VersionID == "" {
			test.VersionID = dataset.VersionID
		}
		result := e.runTest(ctx, test, opts...)
		report.Results = append(report.Results, result)

		status := "PASS"
		switch {
		case result.Error != "":
			status = "ERROR"
			report.Errors++
		case !result.Passed:
			status = "FAIL"
		}
		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(dataset.Tests)),
			"status", status,
			"expected", result.Expected,
			"selected", result.Selected,
			"rank", result.Rank,
			"elapsed_ms", result.ElapsedMs)

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}

		// Errors would drag every average to zero.
		if result.Error != "" {
			continue
		}
		hasFacts := len(test.ExpectedFacts) > 0
		total.add(result, hasFacts)
		if test.Category != "" {
			acc, ok := cats[test.Category]
			if !ok {
				acc = &accumulator{}
				cats[test.Category] = acc
			}
			acc.add(result, hasFacts)
		}
	}

	report.Metrics = total.average()
	for cat, acc := range cats {
		report.CategoryMetrics[cat] = acc.average()
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, test TestCase, opts ...policygraph.QueryOption) TestResult {
	start := time.Now()
	result := TestResult{
		Question: test.Question,
		Category: test.Category,
		Expected: test.ExpectedArticle,
	}

	if test.VersionID != "" {
		opts = append(opts[:len(opts):len(opts)], policygraph.WithVersion(test.VersionID))
	}
	res, err := e.engine.Query(ctx, test.Question, opts...)
	result.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Found = res.Found
	result.Reason = res.Reason
	result.Candidates = len(res.Candidates)
	result.Rank = candidateRank(res, test.ExpectedArticle)
	if res.Article != nil {
		result.Selected = res.Article.Ref.ID
	}
	if res.Selection != nil {
		result.Fallback = res.Selection.Fallback
	}
	result.Passed = res.Found && result.Selected == test.ExpectedArticle
	result.FactAccuracy = computeAccuracy(evidenceText(res), test.ExpectedFacts)
	result.CitationQuality = computeCitationQuality(res)
	return result
}

// FormatReport renders a report for terminals.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d | Errors: %d\n",
		r.TotalTests, r.Passed, passRate(r.Passed, r.TotalTests), r.Failed, r.Errors)
	fmt.Fprintf(&b, "Run time: %s\n\n", r.RunTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	fmt.Fprintf(&b, "  Selection Accuracy:  %.2f\n", r.Metrics.SelectionAccuracy)
	fmt.Fprintf(&b, "  Candidate Recall:    %.2f\n", r.Metrics.CandidateRecall)
	fmt.Fprintf(&b, "  MRR:                 %.2f\n", r.Metrics.MRR)
	fmt.Fprintf(&b, "  Fallback Rate:       %.2f\n", r.Metrics.FallbackRate)
	fmt.Fprintf(&b, "  Fact Accuracy:       %.2f\n", r.Metrics.FactAccuracy)
	fmt.Fprintf(&b, "  Citation Quality:    %.2f\n", r.Metrics.CitationQuality)
	fmt.Fprintf(&b, "  Avg Latency:         %.0fms\n\n", r.Metrics.AvgElapsedMs)

	// Per-category breakdown (sorted for deterministic output)
	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for cat := range r.CategoryMetrics {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Metrics:\n")
		for _, cat := range cats {
			m := r.CategoryMetrics[cat]
			fmt.Fprintf(&b, "  [%s] Sel=%.2f Rec=%.2f MRR=%.2f Fb=%.2f Fact=%.2f\n",
				cat, m.SelectionAccuracy, m.CandidateRecall, m.MRR, m.FallbackRate, m.FactAccuracy)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		switch {
		case res.Error != "":
			status = "ERROR"
		case !res.Passed:
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%3d. [%s] %s\n", i+1, status, truncate(res.Question, 80))
		switch {
		case res.Error != "":
			fmt.Fprintf(&b, "     error: %s\n", res.Error)
		case !res.Found:
			fmt.Fprintf(&b, "     expected %s, not found (%s)\n", res.Expected, res.Reason)
		case !res.Passed:
			fmt.Fprintf(&b, "     expected %s (rank %d), selected %s\n", res.Expected, res.Rank, res.Selected)
		}
	}
	return b.String()
}

func passRate(passed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
