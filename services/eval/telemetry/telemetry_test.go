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
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianEval/services/eval/ab"
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func testBatch() *BatchData {
	tasks := []report.TaskResult{
		{TaskID: "a", Metrics: metrics.TaskMetrics{Solved: true, CostUSD: 0.5, InputTokens: 100, OutputTokens: 50, DurationMs: 2000}},
		{TaskID: "b", Metrics: metrics.TaskMetrics{CostUSD: 0.25, InputTokens: 10, DurationMs: 1000}},
		{TaskID: "c", Error: "agent crashed"},
	}
	return NewBatchData("run-1", "smoke", report.NewEvaluationResults("baseline", tasks))
}

func testComparison() *ComparisonData {
	outcomes := func(solved int) []ab.Outcome {
		out := make([]ab.Outcome, 10)
		for i := range out {
			out[i] = ab.Outcome{Solved: i < solved, CostUSD: 0.1}
		}
		return out
	}
	return NewComparisonData("run-2", ab.Compare("a", "b", outcomes(5), outcomes(9)))
}

type failingSink struct {
	NopSink
	err error
}

func (f failingSink) RecordBatch(context.Context, *BatchData) error { return f.err }

type countingSink struct {
	NopSink
	mu      sync.Mutex
	batches int
	flushes int
	closes  int
}

func (c *countingSink) RecordBatch(context.Context, *BatchData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	return nil
}

func (c *countingSink) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *countingSink) Close() error {
	c.closes++
	return nil
}

// -----------------------------------------------------------------------------
// Data Tests
// -----------------------------------------------------------------------------

func TestNewBatchData(t *testing.T) {
	d := testBatch()
	assert.Equal(t, "baseline", d.Config)
	assert.Equal(t, 3, d.Tasks)
	assert.Equal(t, 1, d.Solved)
	assert.Equal(t, 1, d.FailedTasks)
	assert.InDelta(t, 0.75, d.TotalCostUSD, 1e-12)
	assert.Equal(t, 160, d.TotalTokens)
}

func TestNewComparisonData(t *testing.T) {
	d := testComparison()
	assert.Equal(t, "a", d.ConfigA)
	assert.InDelta(t, 40.0, d.DeltaAccuracy, 1e-9)
	assert.True(t, d.AccuracySignificant)
	assert.Equal(t, ab.Adopt.String(), d.Recommendation)

	c := ab.Compare("a", "b", nil, nil)
	assert.Equal(t, c.Advisory.EffectCategory, NewComparisonData("r", c).EffectCategory)
	assert.Equal(t, "large", d.EffectCategory)
	assert.Greater(t, d.EffectSize, 0.0)
}

// -----------------------------------------------------------------------------
// CompositeSink Tests
// -----------------------------------------------------------------------------

func TestNewCompositeSink(t *testing.T) {
	_, err := NewCompositeSink()
	assert.ErrorIs(t, err, ErrNoSinks)

	_, err = NewCompositeSink(nil, nil)
	assert.ErrorIs(t, err, ErrNoSinks)

	c, err := NewCompositeSink(nil, NewNopSink())
	require.NoError(t, err)
	assert.Len(t, c.sinks, 1)
}

func TestCompositeSink_FansOutAndJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	counter := &countingSink{}
	c, err := NewCompositeSink(failingSink{err: errA}, counter)
	require.NoError(t, err)

	err = c.RecordBatch(context.Background(), testBatch())
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 1, counter.batches, "later sinks still receive the record")

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, counter.flushes)
}

func TestCompositeSink_ValidatesArgs(t *testing.T) {
	c, _ := NewCompositeSink(NewNopSink())

	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, c.RecordBatch(nil, testBatch()), ErrNilContext)
	assert.ErrorIs(t, c.RecordBatch(context.Background(), nil), ErrNilData)
	assert.ErrorIs(t, c.RecordComparison(context.Background(), nil), ErrNilData)
	assert.ErrorIs(t, c.RecordError(context.Background(), nil), ErrNilData)
}

func TestCompositeSink_Close(t *testing.T) {
	counter := &countingSink{}
	c, _ := NewCompositeSink(counter)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, counter.closes)

	assert.ErrorIs(t, c.RecordBatch(context.Background(), testBatch()), ErrSinkClosed)
	assert.ErrorIs(t, c.Flush(context.Background()), ErrSinkClosed)
}

// -----------------------------------------------------------------------------
// PrometheusSink Tests
// -----------------------------------------------------------------------------

func newTestPrometheusSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	s, err := NewPrometheusSink(cfg)
	require.NoError(t, err)
	return s, reg
}

func TestPrometheusConfig_Validate(t *testing.T) {
	_, err := NewPrometheusSink(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPrometheusSink(&PrometheusConfig{Subsystem: "eval"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPrometheusSink_RecordBatch(t *testing.T) {
	s, reg := newTestPrometheusSink(t)
	defer s.Close()

	require.NoError(t, s.RecordBatch(context.Background(), testBatch()))

	assert.InDelta(t, 100.0/3, testutil.ToFloat64(s.batchAccuracy.WithLabelValues("baseline")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.tasksTotal.WithLabelValues("baseline", "solved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.tasksTotal.WithLabelValues("baseline", "unsolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.tasksTotal.WithLabelValues("baseline", "failed")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(s.costTotal.WithLabelValues("baseline")), 1e-12)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"aleutian_eval_batch_accuracy_percent",
		"aleutian_eval_batch_avg_task_duration_seconds",
		"aleutian_eval_tasks_total",
		"aleutian_eval_tokens_total",
	} {
		assert.True(t, names[want], want)
	}
}

func TestPrometheusSink_RecordComparison(t *testing.T) {
	s, _ := newTestPrometheusSink(t)
	defer s.Close()

	require.NoError(t, s.RecordComparison(context.Background(), testComparison()))
	assert.InDelta(t, 40.0, testutil.ToFloat64(s.comparisonAccuracyDelta.WithLabelValues("a", "b")), 1e-9)
	assert.InDelta(t, 0.0468, testutil.ToFloat64(s.comparisonPValue.WithLabelValues("a", "b", "accuracy")), 1e-3)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.comparisonsTotal.WithLabelValues("adopt")))
}

func TestPrometheusSink_RecordError(t *testing.T) {
	s, _ := newTestPrometheusSink(t)
	defer s.Close()

	require.NoError(t, s.RecordError(context.Background(), &ErrorData{Component: "runner", Operation: "load"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.errorsTotal.WithLabelValues("runner", "load", "unknown")))
}

func TestPrometheusSink_LabelCardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	cfg.MaxLabelCardinality = 2
	s, err := NewPrometheusSink(cfg)
	require.NoError(t, err)

	assert.Equal(t, "a", s.sanitizeLabel("config", "a"))
	assert.Equal(t, "b", s.sanitizeLabel("config", "b"))
	assert.Equal(t, "_other", s.sanitizeLabel("config", "c"))
	assert.Equal(t, "a", s.sanitizeLabel("config", "a"))
}

func TestPrometheusSink_ReRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg

	first, err := NewPrometheusSink(cfg)
	require.NoError(t, err)
	require.NoError(t, first.RecordBatch(context.Background(), testBatch()))

	second, err := NewPrometheusSink(cfg)
	require.NoError(t, err)
	require.NoError(t, second.RecordBatch(context.Background(), testBatch()))

	assert.Equal(t, 2.0, testutil.ToFloat64(second.tasksTotal.WithLabelValues("baseline", "solved")))
}

func TestPrometheusSink_Closed(t *testing.T) {
	s, _ := newTestPrometheusSink(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.RecordBatch(context.Background(), testBatch()), ErrSinkClosed)
}

// -----------------------------------------------------------------------------
// OTelSink Tests
// -----------------------------------------------------------------------------

func newTestOTelSink(t *testing.T) (*OTelSink, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	cfg := DefaultOTelConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	s, err := NewOTelSink(cfg)
	require.NoError(t, err)
	return s, recorder, reader
}

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewOTelSink_InvalidConfig(t *testing.T) {
	_, err := NewOTelSink(nil)
	assert.ErrorIs(t, err, ErrInvalidOTelConfig)

	_, err = NewOTelSink(&OTelConfig{})
	assert.ErrorIs(t, err, ErrInvalidOTelConfig)
}

func TestOTelSink_RecordBatch(t *testing.T) {
	s, recorder, reader := newTestOTelSink(t)

	require.NoError(t, s.RecordBatch(context.Background(), testBatch()))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "eval.batch.record", spans[0].Name())

	names := collectNames(t, reader)
	assert.True(t, names["eval.batch.accuracy"])
	assert.True(t, names["eval.tasks"])
	assert.True(t, names["eval.batch.cost"])
}

func TestOTelSink_RecordComparisonAndError(t *testing.T) {
	s, recorder, reader := newTestOTelSink(t)

	require.NoError(t, s.RecordComparison(context.Background(), testComparison()))
	require.NoError(t, s.RecordError(context.Background(), &ErrorData{Component: "runner", Message: "dataset empty"}))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "eval.comparison.record", spans[0].Name())
	assert.Equal(t, "eval.error.record", spans[1].Name())
	assert.Equal(t, "dataset empty", spans[1].Status().Description)

	names := collectNames(t, reader)
	assert.True(t, names["eval.comparisons"])
	assert.True(t, names["eval.errors"])
}

func TestOTelSink_TracingDisabled(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	cfg := DefaultOTelConfig()
	cfg.TracerProvider = tp
	cfg.TraceEnabled = false
	cfg.MetricsEnabled = false
	s, err := NewOTelSink(cfg)
	require.NoError(t, err)

	require.NoError(t, s.RecordBatch(context.Background(), testBatch()))
	assert.Empty(t, recorder.Ended())
}

func TestOTelSink_Closed(t *testing.T) {
	s, _, _ := newTestOTelSink(t)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.RecordComparison(context.Background(), testComparison()), ErrSinkClosed)
	assert.ErrorIs(t, s.Flush(context.Background()), ErrSinkClosed)
}

// -----------------------------------------------------------------------------
// Init Tests
// -----------------------------------------------------------------------------

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterPrometheus
	cfg.Registerer = reg

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	sink, err := NewOTelSink(DefaultOTelConfig())
	require.NoError(t, err)
	require.NoError(t, sink.RecordBatch(context.Background(), testBatch()))

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "eval_tasks"), "otel instruments are exported")
}
