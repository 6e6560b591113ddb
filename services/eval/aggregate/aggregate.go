// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate summarizes a batch of task metrics.
//
// Everything here is a pure function of its input. Nothing is cached or
// mutated in place; callers recompute on demand.
package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Stats describes the distribution of one per-task quantity.
//
// Description:
//
//	StdDev is the population standard deviation (divided by count, not
//	count-1). Percentiles use the rounded-index method, see Percentile.
//
// Thread Safety: Value type.
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Metrics is the summary of a batch of TaskMetrics.
//
// A zero Metrics is the summary of an empty batch.
type Metrics struct {
	// Count is the number of tasks in the batch.
	Count int `json:"count"`

	// Solved is the number of tasks marked solved.
	Solved int `json:"solved"`

	// Accuracy is 100 * Solved / Count, in [0, 100].
	Accuracy float64 `json:"accuracy"`

	// Cost summarizes CostUSD per task.
	Cost Stats `json:"cost"`

	// Duration summarizes DurationMs per task.
	Duration Stats `json:"duration"`

	// Totals across the batch.
	TotalCostUSD      float64 `json:"total_cost_usd"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalCachedTokens int     `json:"total_cached_tokens"`
	TotalAPICalls     int     `json:"total_api_calls"`

	// MeanAgentSteps is the average number of agent steps per task.
	MeanAgentSteps float64 `json:"mean_agent_steps"`

	// MeanQuality averages quality sub-scores over solved tasks only.
	// Zero when nothing was solved.
	MeanQuality metrics.Quality `json:"mean_quality"`
}

// -----------------------------------------------------------------------------
// Aggregation
// -----------------------------------------------------------------------------

// FromMetrics summarizes a batch.
//
// Description:
//
//	Computes accuracy, cost and duration distributions and batch totals.
//	An empty batch yields the zero Metrics. A single-element batch has a
//	standard deviation of 0.
//
// Inputs:
//   - batch: Finished task snapshots. May be empty. Not modified.
//
// Outputs:
//   - Metrics: The summary. Never an error.
func FromMetrics(batch []metrics.TaskMetrics) Metrics {
	n := len(batch)
	if n == 0 {
		return Metrics{}
	}

	costs := make([]float64, n)
	durations := make([]float64, n)
	out := Metrics{Count: n}

	var steps int
	var quality metrics.Quality
	for i, m := range batch {
		costs[i] = m.CostUSD
		durations[i] = float64(m.DurationMs)

		out.TotalCostUSD += m.CostUSD
		out.TotalInputTokens += m.InputTokens
		out.TotalOutputTokens += m.OutputTokens
		out.TotalCachedTokens += m.CachedTokens
		out.TotalAPICalls += m.APICalls
		steps += m.AgentSteps

		if m.Solved {
			out.Solved++
			quality.SyntaxValid += m.Quality.SyntaxValid
			quality.TestPassRate += m.Quality.TestPassRate
			quality.CodeCoverage += m.Quality.CodeCoverage
			quality.FileAccuracy += m.Quality.FileAccuracy
		}
	}

	out.Accuracy = 100 * float64(out.Solved) / float64(n)
	out.MeanAgentSteps = float64(steps) / float64(n)
	out.Cost = Describe(costs)
	out.Duration = Describe(durations)

	if out.Solved > 0 {
		s := float64(out.Solved)
		out.MeanQuality = metrics.Quality{
			SyntaxValid:  quality.SyntaxValid / s,
			TestPassRate: quality.TestPassRate / s,
			CodeCoverage: quality.CodeCoverage / s,
			FileAccuracy: quality.FileAccuracy / s,
		}
	}
	return out
}

// Describe computes Stats for a sample.
//
// Inputs:
//   - values: The sample. May be empty, in which case the zero Stats is
//     returned. Not modified.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, variance := stat.PopMeanVariance(sorted, nil)
	return Stats{
		Mean:   mean,
		StdDev: math.Sqrt(math.Max(variance, 0)),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		P50:    Percentile(sorted, 50),
		P95:    Percentile(sorted, 95),
		P99:    Percentile(sorted, 99),
	}
}

// Percentile returns the q-th percentile of an ascending sample.
//
// Description:
//
//	Uses the rounded-index method: sorted[round(q/100*(n-1))], with the
//	index clamped to the sample. Halves round away from zero, so for
//	n=3 the 95th percentile is index round(1.9)=2, the last element.
//	This is not an interpolating estimator.
//
// Inputs:
//   - sorted: Ascending sample. Empty returns 0.
//   - q: Percentile in [0, 100].
func Percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Round(q / 100 * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
