// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report holds the final results of evaluation runs and renders
// them for people.
package report

import (
	"sort"
	"time"

	"github.com/AleutianAI/AleutianEval/services/eval/ab"
	"github.com/AleutianAI/AleutianEval/services/eval/aggregate"
	"github.com/AleutianAI/AleutianEval/services/eval/dataset"
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Kind distinguishes single-variant runs from comparisons.
type Kind string

const (
	KindEvaluation Kind = "evaluation"
	KindComparison Kind = "comparison"
)

// TaskResult is the outcome of one task within a batch.
type TaskResult struct {
	TaskID     string              `json:"task_id"`
	Complexity dataset.Complexity  `json:"complexity"`
	Metrics    metrics.TaskMetrics `json:"metrics"`

	// Error is the task's failure message, empty on success. A failed
	// task is always unsolved.
	Error string `json:"error,omitempty"`
}

// GroupSummary summarizes the tasks of one complexity bucket.
type GroupSummary struct {
	Count         int     `json:"count"`
	Solved        int     `json:"solved"`
	Accuracy      float64 `json:"accuracy"`
	AvgCostUSD    float64 `json:"avg_cost_usd"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// EvaluationResults is the result of running one variant over a task set.
type EvaluationResults struct {
	ConfigName    string                              `json:"config_name"`
	Accuracy      float64                             `json:"accuracy"`
	AvgCostUSD    float64                             `json:"avg_cost_usd"`
	AvgDurationMs float64                             `json:"avg_duration_ms"`
	Tasks         []TaskResult                        `json:"tasks"`
	ByComplexity  map[dataset.Complexity]GroupSummary `json:"by_complexity"`
	Aggregate     aggregate.Metrics                   `json:"aggregate"`
}

// Report is the final payload of a run.
type Report struct {
	RunID      string              `json:"run_id"`
	Kind       Kind                `json:"kind"`
	Dataset    string              `json:"dataset"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Batches    []EvaluationResults `json:"batches"`

	// Comparison is set for comparison runs, computed from Batches[0]
	// as A and Batches[1] as B.
	Comparison *ab.ComparisonResult `json:"comparison,omitempty"`
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// -----------------------------------------------------------------------------
// Construction
// -----------------------------------------------------------------------------

// NewEvaluationResults summarizes the task results of one batch.
//
// Inputs:
//   - configName: The variant name.
//   - tasks: Per-task results in execution order. May be empty.
//
// Outputs:
//   - EvaluationResults: Summary. Tasks is kept as given.
func NewEvaluationResults(configName string, tasks []TaskResult) EvaluationResults {
	batch := make([]metrics.TaskMetrics, len(tasks))
	groups := make(map[dataset.Complexity][]metrics.TaskMetrics)
	for i, t := range tasks {
		batch[i] = t.Metrics
		groups[t.Complexity] = append(groups[t.Complexity], t.Metrics)
	}

	agg := aggregate.FromMetrics(batch)
	byComplexity := make(map[dataset.Complexity]GroupSummary, len(groups))
	for c, ms := range groups {
		g := aggregate.FromMetrics(ms)
		byComplexity[c] = GroupSummary{
			Count:         g.Count,
			Solved:        g.Solved,
			Accuracy:      g.Accuracy,
			AvgCostUSD:    g.Cost.Mean,
			AvgDurationMs: g.Duration.Mean,
		}
	}

	return EvaluationResults{
		ConfigName:    configName,
		Accuracy:      agg.Accuracy,
		AvgCostUSD:    agg.Cost.Mean,
		AvgDurationMs: agg.Duration.Mean,
		Tasks:         tasks,
		ByComplexity:  byComplexity,
		Aggregate:     agg,
	}
}

// Metrics returns the per-task metrics in order.
func (e EvaluationResults) Metrics() []metrics.TaskMetrics {
	out := make([]metrics.TaskMetrics, len(e.Tasks))
	for i, t := range e.Tasks {
		out[i] = t.Metrics
	}
	return out
}

// Complexities returns the complexity buckets present, ordered simple,
// medium, complex, then any others alphabetically.
func (e EvaluationResults) Complexities() []dataset.Complexity {
	rank := map[dataset.Complexity]int{
		dataset.ComplexitySimple:  0,
		dataset.ComplexityMedium:  1,
		dataset.ComplexityComplex: 2,
	}
	out := make([]dataset.Complexity, 0, len(e.ByComplexity))
	for c := range e.ByComplexity {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Compare builds the comparison between two batches, A as baseline.
func Compare(a, b EvaluationResults) ab.ComparisonResult {
	return ab.Compare(a.ConfigName, b.ConfigName,
		ab.OutcomesFromMetrics(a.Metrics()), ab.OutcomesFromMetrics(b.Metrics()))
}
