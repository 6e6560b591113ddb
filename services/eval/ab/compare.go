// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ab compares two batches of evaluation outcomes and recommends
// whether the candidate configuration should replace the baseline.
//
// # Overview
//
// Compare takes the per-task outcomes of a baseline (A) and a candidate
// (B), computes deltas, runs Welch's t-test on accuracy and cost, and
// applies a fixed decision policy:
//
//	result := ab.Compare("baseline", "candidate", outcomesA, outcomesB)
//	fmt.Println(result.Recommendation) // adopt
//
// All functions are pure. Degenerate inputs such as empty or constant
// samples resolve to neutral values instead of errors, which lets the
// policy fall through to NeedMoreData.
package ab

import (
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
)

// -----------------------------------------------------------------------------
// Inputs
// -----------------------------------------------------------------------------

// Outcome is the per-task input to a comparison.
type Outcome struct {
	Solved  bool    `json:"solved"`
	CostUSD float64 `json:"cost_usd"`

	// DurationMs is optional; zero when the duration is unknown.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// OutcomesFromMetrics projects task metrics to comparison outcomes.
func OutcomesFromMetrics(batch []metrics.TaskMetrics) []Outcome {
	out := make([]Outcome, len(batch))
	for i, m := range batch {
		out[i] = Outcome{Solved: m.Solved, CostUSD: m.CostUSD, DurationMs: m.DurationMs}
	}
	return out
}

// -----------------------------------------------------------------------------
// Result Types
// -----------------------------------------------------------------------------

// DeltaMetrics holds candidate-minus-baseline differences.
type DeltaMetrics struct {
	// Accuracy is the accuracy difference in percentage points.
	Accuracy float64 `json:"accuracy"`

	// CostUSD is the difference in mean cost per task.
	CostUSD float64 `json:"cost_usd"`

	// CostPct is CostUSD relative to the baseline mean, in percent.
	// Zero when the baseline mean cost is zero.
	CostPct float64 `json:"cost_pct"`

	// DurationMs is the difference in mean duration per task.
	DurationMs float64 `json:"duration_ms"`

	// DurationPct is DurationMs relative to the baseline mean, in percent.
	// Zero when the baseline mean duration is zero.
	DurationPct float64 `json:"duration_pct"`

	// APICalls is always 0. Outcomes carry no API call counts, so no
	// delta is computed.
	APICalls float64 `json:"api_calls"`
}

// SignificanceTest holds the hypothesis test results for a comparison.
type SignificanceTest struct {
	Accuracy            TTestResult `json:"accuracy"`
	AccuracySignificant bool        `json:"accuracy_significant"`
	Cost                TTestResult `json:"cost"`
	CostSignificant     bool        `json:"cost_significant"`

	// Confidence is fixed at 0.95.
	Confidence float64 `json:"confidence"`
}

// Advisory holds effect size and sample size guidance. It never affects
// the Recommendation.
type Advisory struct {
	// EffectSize is Cohen's d for accuracy (solved as 0/1).
	EffectSize float64 `json:"effect_size"`

	// EffectCategory labels EffectSize.
	EffectCategory string `json:"effect_category"`

	// MinimumSampleSize is the advisory per-arm minimum for EffectSize.
	MinimumSampleSize int `json:"minimum_sample_size"`

	// SampleSizeAdequate is true when both arms meet the minimum.
	SampleSizeAdequate bool `json:"sample_size_adequate"`
}

// ComparisonResult is the immutable outcome of comparing two batches.
type ComparisonResult struct {
	ConfigA string `json:"config_a"`
	ConfigB string `json:"config_b"`
	CountA  int    `json:"count_a"`
	CountB  int    `json:"count_b"`

	AccuracyA float64 `json:"accuracy_a"`
	AccuracyB float64 `json:"accuracy_b"`
	CostA     float64 `json:"cost_a"`
	CostB     float64 `json:"cost_b"`

	Delta          DeltaMetrics     `json:"delta"`
	Significance   SignificanceTest `json:"significance"`
	Recommendation Recommendation   `json:"recommendation"`
	Advisory       Advisory         `json:"advisory"`
}

// -----------------------------------------------------------------------------
// Compare
// -----------------------------------------------------------------------------

// Compare evaluates candidate B against baseline A.
//
// Description:
//
//	Computes deltas (B minus A), runs Welch's t-test on solved-as-{0,1}
//	and on raw cost, and applies Decide. The samples may have different
//	lengths and may be empty.
//
// Inputs:
//   - nameA, nameB: Configuration names for reporting.
//   - a, b: Per-task outcomes. Not modified.
//
// Outputs:
//   - ComparisonResult: Fully populated. Never an error.
//
// Thread Safety: Pure function. Safe for concurrent use.
func Compare(nameA, nameB string, a, b []Outcome) ComparisonResult {
	solvedA, costA, durA := samples(a)
	solvedB, costB, durB := samples(b)

	accA, accB := 100*mean(solvedA), 100*mean(solvedB)
	meanCostA, meanCostB := mean(costA), mean(costB)
	meanDurA, meanDurB := mean(durA), mean(durB)

	delta := DeltaMetrics{
		Accuracy:    accB - accA,
		CostUSD:     meanCostB - meanCostA,
		CostPct:     percentChange(meanCostA, meanCostB),
		DurationMs:  meanDurB - meanDurA,
		DurationPct: percentChange(meanDurA, meanDurB),
	}

	accTest := WelchTTest(solvedA, solvedB)
	costTest := WelchTTest(costA, costB)
	sig := SignificanceTest{
		Accuracy:            accTest,
		AccuracySignificant: accTest.Significant(),
		Cost:                costTest,
		CostSignificant:     costTest.Significant(),
		Confidence:          ConfidenceLevel,
	}

	d := CohensD(solvedA, solvedB)
	minN := MinimumSampleSize(d)
	advisory := Advisory{
		EffectSize:         d,
		EffectCategory:     CategorizeEffectSize(d).String(),
		MinimumSampleSize:  minN,
		SampleSizeAdequate: SampleSizeCheck(len(a), d) && SampleSizeCheck(len(b), d),
	}

	return ComparisonResult{
		ConfigA:        nameA,
		ConfigB:        nameB,
		CountA:         len(a),
		CountB:         len(b),
		AccuracyA:      accA,
		AccuracyB:      accB,
		CostA:          meanCostA,
		CostB:          meanCostB,
		Delta:          delta,
		Significance:   sig,
		Recommendation: Decide(delta, sig.AccuracySignificant),
		Advisory:       advisory,
	}
}

func samples(outcomes []Outcome) (solved, cost, duration []float64) {
	solved = make([]float64, len(outcomes))
	cost = make([]float64, len(outcomes))
	duration = make([]float64, len(outcomes))
	for i, o := range outcomes {
		if o.Solved {
			solved[i] = 1
		}
		cost[i] = o.CostUSD
		duration[i] = float64(o.DurationMs)
	}
	return solved, cost, duration
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func percentChange(base, candidate float64) float64 {
	if base == 0 {
		return 0
	}
	return (candidate - base) / base * 100
}
