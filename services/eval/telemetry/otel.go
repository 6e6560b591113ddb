// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AleutianAI/AleutianEval/services/eval/telemetry"

var (
	// ErrOTelInitFailed indicates instrument creation failed.
	ErrOTelInitFailed = errors.New("opentelemetry initialization failed")

	// ErrInvalidOTelConfig indicates an invalid OTel sink configuration.
	ErrInvalidOTelConfig = errors.New("invalid opentelemetry configuration")
)

// OTelConfig configures an OTelSink.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string

	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	TraceEnabled   bool
	MetricsEnabled bool
}

// DefaultOTelConfig returns a configuration with tracing and metrics on.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "aleutian-eval",
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// Validate checks required fields.
func (c *OTelConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	return nil
}

// OTelSink records evaluation telemetry through OpenTelemetry.
//
// Description:
//
//	Each record produces one short span carrying the result as
//	attributes, plus metric points on the configured meter. Export is
//	handled by the providers, usually those installed by Init.
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	config *OTelConfig
	tracer trace.Tracer
	meter  metric.Meter

	batchAccuracy   metric.Float64Gauge
	batchCost       metric.Float64Counter
	batchDuration   metric.Float64Histogram
	tasks           metric.Int64Counter
	comparisons     metric.Int64Counter
	comparisonDelta metric.Float64Gauge
	errorsTotal     metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates an OTelSink.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *OTelSink: The sink.
//   - error: ErrInvalidOTelConfig or ErrOTelInitFailed.
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidOTelConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOTelConfig, err)
	}
	cfg := *config

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	s := &OTelSink{
		config: &cfg,
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:  mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}

	if cfg.MetricsEnabled {
		if err := s.initializeMetrics(); err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
	}
	return s, nil
}

func (s *OTelSink) initializeMetrics() error {
	var err error

	if s.batchAccuracy, err = s.meter.Float64Gauge(
		"eval.batch.accuracy",
		metric.WithDescription("Accuracy of the latest batch"),
		metric.WithUnit("%"),
	); err != nil {
		return err
	}
	if s.batchCost, err = s.meter.Float64Counter(
		"eval.batch.cost",
		metric.WithDescription("Model spend"),
		metric.WithUnit("USD"),
	); err != nil {
		return err
	}
	if s.batchDuration, err = s.meter.Float64Histogram(
		"eval.batch.task_duration.mean",
		metric.WithDescription("Mean task duration per batch"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	if s.tasks, err = s.meter.Int64Counter(
		"eval.tasks",
		metric.WithDescription("Tasks evaluated"),
		metric.WithUnit("{task}"),
	); err != nil {
		return err
	}
	if s.comparisons, err = s.meter.Int64Counter(
		"eval.comparisons",
		metric.WithDescription("Comparisons performed"),
		metric.WithUnit("{comparison}"),
	); err != nil {
		return err
	}
	if s.comparisonDelta, err = s.meter.Float64Gauge(
		"eval.comparison.accuracy_delta",
		metric.WithDescription("Accuracy of B minus A"),
		metric.WithUnit("{point}"),
	); err != nil {
		return err
	}
	if s.errorsTotal, err = s.meter.Int64Counter(
		"eval.errors",
		metric.WithDescription("Run failures"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	return nil
}

func (s *OTelSink) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// RecordBatch implements Sink.
func (s *OTelSink) RecordBatch(ctx context.Context, data *BatchData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("eval.config", orUnknown(data.Config)),
		attribute.String("eval.dataset", data.Dataset),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "eval.batch.record",
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(data.Timestamp),
		)
		span.SetAttributes(
			attribute.String("eval.run_id", data.RunID),
			attribute.Int("eval.tasks", data.Tasks),
			attribute.Int("eval.solved", data.Solved),
			attribute.Int("eval.failed", data.FailedTasks),
			attribute.Float64("eval.accuracy", data.Accuracy),
			attribute.Float64("eval.avg_cost_usd", data.AvgCostUSD),
			attribute.Float64("eval.avg_duration_ms", data.AvgDurationMs),
			attribute.Int("eval.total_tokens", data.TotalTokens),
		)
		if data.FailedTasks > 0 {
			span.SetStatus(codes.Error, "batch had failed tasks")
		}
		span.End()
	}

	if s.config.MetricsEnabled {
		set := metric.WithAttributes(attrs...)
		s.batchAccuracy.Record(ctx, data.Accuracy, set)
		s.batchDuration.Record(ctx, data.AvgDurationMs, set)
		if data.TotalCostUSD > 0 {
			s.batchCost.Add(ctx, data.TotalCostUSD, set)
		}
		s.tasks.Add(ctx, int64(data.Tasks), set)
	}
	return nil
}

// RecordComparison implements Sink.
func (s *OTelSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("eval.config_a", orUnknown(data.ConfigA)),
		attribute.String("eval.config_b", orUnknown(data.ConfigB)),
		attribute.String("eval.recommendation", orUnknown(data.Recommendation)),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "eval.comparison.record",
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(data.Timestamp),
		)
		span.SetAttributes(
			attribute.String("eval.run_id", data.RunID),
			attribute.Float64("eval.delta.accuracy", data.DeltaAccuracy),
			attribute.Float64("eval.delta.cost_pct", data.DeltaCostPct),
			attribute.Float64("eval.delta.duration_pct", data.DeltaDurationPct),
			attribute.Float64("eval.p_value.accuracy", data.AccuracyPValue),
			attribute.Float64("eval.p_value.cost", data.CostPValue),
			attribute.Bool("eval.significant", data.AccuracySignificant),
			attribute.Float64("eval.effect_size", data.EffectSize),
			attribute.String("eval.effect_category", data.EffectCategory),
		)
		span.End()
	}

	if s.config.MetricsEnabled {
		set := metric.WithAttributes(attrs...)
		s.comparisons.Add(ctx, 1, set)
		s.comparisonDelta.Record(ctx, data.DeltaAccuracy, set)
	}
	return nil
}

// RecordError implements Sink.
func (s *OTelSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("error.component", orUnknown(data.Component)),
		attribute.String("error.operation", orUnknown(data.Operation)),
		attribute.String("error.type", orUnknown(data.ErrorType)),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "eval.error.record",
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(data.Timestamp),
		)
		span.SetAttributes(attribute.String("eval.run_id", data.RunID))
		span.SetStatus(codes.Error, data.Message)
		span.End()
	}

	if s.config.MetricsEnabled {
		s.errorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return nil
}

// Flush is a no-op; the providers own export. Use the shutdown function
// returned by Init to force delivery.
func (s *OTelSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return s.open()
}

// Close marks the sink closed. The providers are not shut down.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Sink = (*OTelSink)(nil)
