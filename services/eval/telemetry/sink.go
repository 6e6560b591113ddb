// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports evaluation results to metrics and tracing
// backends.
//
// Results flow through the Sink interface. PrometheusSink writes to a
// Prometheus registry, OTelSink writes to OpenTelemetry meters and
// tracers, CompositeSink fans out to several sinks and NopSink drops
// everything. Init wires the global OpenTelemetry providers.
//
// All sinks are safe for concurrent use.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEval/services/eval/ab"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is passed to a record method.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when recording to a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when a composite sink has nothing to wrap.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrUnknownExporter is returned by Init for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// -----------------------------------------------------------------------------
// Sink Interface
// -----------------------------------------------------------------------------

// Sink receives evaluation telemetry.
//
// Description:
//
//	Implementations export batch summaries, comparisons and run errors
//	to a backend. Recording must not block on network I/O; exporters
//	batch in the background and Flush forces delivery.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sink interface {
	// RecordBatch records the summary of one evaluated batch.
	RecordBatch(ctx context.Context, data *BatchData) error

	// RecordComparison records the outcome of an A/B comparison.
	RecordComparison(ctx context.Context, data *ComparisonData) error

	// RecordError records a run-level failure.
	RecordError(ctx context.Context, data *ErrorData) error

	// Flush forces buffered data out.
	Flush(ctx context.Context) error

	// Close releases resources. Further records return ErrSinkClosed.
	Close() error
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// BatchData summarizes one batch for export.
type BatchData struct {
	RunID         string
	Dataset       string
	Config        string
	Timestamp     time.Time
	Tasks         int
	Solved        int
	Accuracy      float64
	AvgCostUSD    float64
	AvgDurationMs float64
	TotalCostUSD  float64
	TotalTokens   int
	FailedTasks   int
}

// ComparisonData summarizes one comparison for export.
type ComparisonData struct {
	RunID               string
	ConfigA             string
	ConfigB             string
	Timestamp           time.Time
	DeltaAccuracy       float64
	DeltaCostPct        float64
	DeltaDurationPct    float64
	AccuracyPValue      float64
	CostPValue          float64
	AccuracySignificant bool
	Recommendation      string
	EffectSize          float64
	EffectCategory      string
}

// ErrorData describes a run-level failure.
type ErrorData struct {
	RunID     string
	Timestamp time.Time
	Component string
	Operation string
	ErrorType string
	Message   string
}

// NewBatchData builds export data from a finished batch.
func NewBatchData(runID, dataset string, e report.EvaluationResults) *BatchData {
	failed := 0
	for _, t := range e.Tasks {
		if t.Error != "" {
			failed++
		}
	}
	return &BatchData{
		RunID:         runID,
		Dataset:       dataset,
		Config:        e.ConfigName,
		Timestamp:     time.Now(),
		Tasks:         e.Aggregate.Count,
		Solved:        e.Aggregate.Solved,
		Accuracy:      e.Accuracy,
		AvgCostUSD:    e.AvgCostUSD,
		AvgDurationMs: e.AvgDurationMs,
		TotalCostUSD:  e.Aggregate.TotalCostUSD,
		TotalTokens:   e.Aggregate.TotalInputTokens + e.Aggregate.TotalOutputTokens,
		FailedTasks:   failed,
	}
}

// NewComparisonData builds export data from a comparison.
func NewComparisonData(runID string, c ab.ComparisonResult) *ComparisonData {
	return &ComparisonData{
		RunID:               runID,
		ConfigA:             c.ConfigA,
		ConfigB:             c.ConfigB,
		Timestamp:           time.Now(),
		DeltaAccuracy:       c.Delta.Accuracy,
		DeltaCostPct:        c.Delta.CostPct,
		DeltaDurationPct:    c.Delta.DurationPct,
		AccuracyPValue:      c.Significance.Accuracy.PValue,
		CostPValue:          c.Significance.Cost.PValue,
		AccuracySignificant: c.Significance.AccuracySignificant,
		Recommendation:      c.Recommendation.String(),
		EffectSize:          c.Advisory.EffectSize,
		EffectCategory:      c.Advisory.EffectCategory,
	}
}

// checkArgs validates record arguments. hasData is passed explicitly
// because a typed nil pointer is not a nil interface.
func checkArgs(ctx context.Context, hasData bool) error {
	if ctx == nil {
		return ErrNilContext
	}
	if !hasData {
		return ErrNilData
	}
	return nil
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink fans out to multiple sinks.
//
// Description:
//
//	Every sink receives every record even when an earlier one fails.
//	Errors are combined with errors.Join. Flush runs the sinks in
//	parallel.
//
// Thread Safety: Safe for concurrent use.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink wraps the non-nil sinks given.
//
// Outputs:
//   - *CompositeSink: The composite.
//   - error: ErrNoSinks if no non-nil sink was given.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

func (c *CompositeSink) each(fn func(Sink) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordBatch implements Sink.
func (c *CompositeSink) RecordBatch(ctx context.Context, data *BatchData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	return c.each(func(s Sink) error { return s.RecordBatch(ctx, data) })
}

// RecordComparison implements Sink.
func (c *CompositeSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	return c.each(func(s Sink) error { return s.RecordComparison(ctx, data) })
}

// RecordError implements Sink.
func (c *CompositeSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	return c.each(func(s Sink) error { return s.RecordError(ctx, data) })
}

// Flush flushes all sinks in parallel.
func (c *CompositeSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(sinks))
	for _, s := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Flush(ctx); err != nil {
				errCh <- err
			}
		}(s)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes all sinks. Calling Close more than once is safe.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sinks := c.sinks
	c.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// No-op Sink
// -----------------------------------------------------------------------------

// NopSink discards all telemetry. Arguments are still validated.
type NopSink struct{}

// NewNopSink creates a NopSink.
func NewNopSink() *NopSink { return &NopSink{} }

// RecordBatch implements Sink.
func (NopSink) RecordBatch(ctx context.Context, data *BatchData) error {
	return checkArgs(ctx, data != nil)
}

// RecordComparison implements Sink.
func (NopSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	return checkArgs(ctx, data != nil)
}

// RecordError implements Sink.
func (NopSink) RecordError(ctx context.Context, data *ErrorData) error {
	return checkArgs(ctx, data != nil)
}

// Flush implements Sink.
func (NopSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// Close implements Sink.
func (NopSink) Close() error { return nil }

var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = (*NopSink)(nil)
)
