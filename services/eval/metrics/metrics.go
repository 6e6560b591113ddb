// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics defines the per-task measurement model for agent
// evaluation runs and the collector that fills it in while a task runs.
//
// # Lifecycle
//
//	c := metrics.NewCollector()
//	c.Start()
//	c.RecordAPICall(100, 50, 20, 0.01)
//	c.MarkSolved(metrics.Quality{SyntaxValid: 1, TestPassRate: 1})
//	tm := c.Finish()
//
// A finished TaskMetrics is a plain value. Batches of them feed the
// aggregate and ab packages.
package metrics

// -----------------------------------------------------------------------------
// Quality
// -----------------------------------------------------------------------------

// Quality holds the quality sub-scores reported for a solved task.
//
// Every score is in [0, 1].
type Quality struct {
	// SyntaxValid is 1 when the produced code parses, 0 otherwise.
	SyntaxValid float64 `json:"syntax_valid" yaml:"syntax_valid"`

	// TestPassRate is the fraction of tests passing after the change.
	TestPassRate float64 `json:"test_pass_rate" yaml:"test_pass_rate"`

	// CodeCoverage is the fraction of changed lines covered by tests.
	CodeCoverage float64 `json:"code_coverage" yaml:"code_coverage"`

	// FileAccuracy is the fraction of touched files that were expected.
	FileAccuracy float64 `json:"file_accuracy" yaml:"file_accuracy"`
}

// Clamp returns a copy with every score forced into [0, 1].
func (q Quality) Clamp() Quality {
	return Quality{
		SyntaxValid:  clampUnit(q.SyntaxValid),
		TestPassRate: clampUnit(q.TestPassRate),
		CodeCoverage: clampUnit(q.CodeCoverage),
		FileAccuracy: clampUnit(q.FileAccuracy),
	}
}

// Mean returns the unweighted mean of the four sub-scores.
func (q Quality) Mean() float64 {
	return (q.SyntaxValid + q.TestPassRate + q.CodeCoverage + q.FileAccuracy) / 4
}

func clampUnit(v float64) float64 {
	// NaN compares false everywhere; treat it as zero.
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// -----------------------------------------------------------------------------
// TaskMetrics
// -----------------------------------------------------------------------------

// TaskMetrics is the measurement record for one executed task.
//
// Description:
//
//	All counters and totals are non-negative. A TaskMetrics returned by
//	Collector.Finish is a snapshot and is never mutated afterwards.
//
// Thread Safety: Value type. Safe to share once finished.
type TaskMetrics struct {
	Solved  bool    `json:"solved"`
	Quality Quality `json:"quality"`

	CostUSD      float64 `json:"cost_usd"`
	APICalls     int     `json:"api_calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens"`

	DurationMs            int64 `json:"duration_ms"`
	TimeToFirstResponseMs int64 `json:"time_to_first_response_ms"`
	ContextRetrievalMs    int64 `json:"context_retrieval_ms"`

	EditAttempts int `json:"edit_attempts"`
	FilesRead    int `json:"files_read"`
	FilesWritten int `json:"files_written"`
	TestRuns     int `json:"test_runs"`
	AgentSteps   int `json:"agent_steps"`
}

// TotalTokens returns input plus output tokens.
func (m TaskMetrics) TotalTokens() int {
	return m.InputTokens + m.OutputTokens
}

// EffectiveTokens returns the tokens actually billed at the full rate:
// input plus output minus cached. Never negative.
func (m TaskMetrics) EffectiveTokens() int {
	n := m.InputTokens + m.OutputTokens - m.CachedTokens
	if n < 0 {
		return 0
	}
	return n
}
