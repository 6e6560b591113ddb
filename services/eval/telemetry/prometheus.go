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

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrInvalidConfig indicates an invalid Prometheus sink configuration.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed indicates a collector could not be registered.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures a PrometheusSink.
type PrometheusConfig struct {
	// Namespace prefixes every metric name. Required.
	Namespace string

	// Subsystem follows the namespace. Required.
	Subsystem string

	// Registry receives the collectors. Nil uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// DurationBuckets are the bucket bounds for mean task duration, in seconds.
	DurationBuckets []float64

	// MaxLabelCardinality bounds distinct values per label. Extra values
	// are folded into "_other".
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns the default configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:           "aleutian",
		Subsystem:           "eval",
		DurationBuckets:     []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 3600},
		MaxLabelCardinality: 500,
	}
}

// Validate checks required fields.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

// PrometheusSink records evaluation telemetry as Prometheus metrics.
//
// Description:
//
//	Batch accuracy and cost are exposed as gauges labelled by config
//	name so dashboards show the latest run per variant. Task outcomes,
//	spend and tokens accumulate in counters. Comparisons set per-pair
//	gauges and count recommendations.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	registry prometheus.Registerer

	batchAccuracy    *prometheus.GaugeVec
	batchAvgCost     *prometheus.GaugeVec
	batchAvgDuration *prometheus.HistogramVec
	tasksTotal       *prometheus.CounterVec
	costTotal        *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec

	comparisonAccuracyDelta *prometheus.GaugeVec
	comparisonCostPct       *prometheus.GaugeVec
	comparisonPValue        *prometheus.GaugeVec
	comparisonsTotal        *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool

	collectors []prometheus.Collector

	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{}
	maxCardinality int
}

// NewPrometheusSink creates the collectors and registers them.
//
// Description:
//
//	Collectors already registered by an earlier sink with the same
//	names are tolerated so a process can rebuild its sink.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *PrometheusSink: The sink.
//   - error: ErrInvalidConfig or ErrRegistrationFailed.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = DefaultPrometheusConfig().DurationBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	maxCard := cfg.MaxLabelCardinality
	if maxCard <= 0 {
		maxCard = 500
	}

	s := &PrometheusSink{
		registry:       registry,
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: maxCard,
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	s.batchAccuracy = gauge("batch_accuracy_percent", "Accuracy of the latest batch per config", "config")
	s.batchAvgCost = gauge("batch_avg_cost_usd", "Mean task cost of the latest batch per config", "config")
	s.batchAvgDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "batch_avg_task_duration_seconds",
		Help:      "Mean task duration per batch in seconds",
		Buckets:   cfg.DurationBuckets,
	}, []string{"config"})
	s.tasksTotal = counter("tasks_total", "Tasks evaluated by outcome", "config", "outcome")
	s.costTotal = counter("cost_usd_total", "Total model spend in USD", "config")
	s.tokensTotal = counter("tokens_total", "Total input plus output tokens", "config")

	s.comparisonAccuracyDelta = gauge("comparison_accuracy_delta_points", "Accuracy of B minus A in percentage points", "config_a", "config_b")
	s.comparisonCostPct = gauge("comparison_cost_delta_percent", "Relative cost change of B over A", "config_a", "config_b")
	s.comparisonPValue = gauge("comparison_p_value", "Two-tailed Welch p-value", "config_a", "config_b", "metric")
	s.comparisonsTotal = counter("comparisons_total", "Comparisons by recommendation", "recommendation")

	s.errorsTotal = counter("errors_total", "Run failures by component and type", "component", "operation", "error_type")

	s.collectors = []prometheus.Collector{
		s.batchAccuracy,
		s.batchAvgCost,
		s.batchAvgDuration,
		s.tasksTotal,
		s.costTotal,
		s.tokensTotal,
		s.comparisonAccuracyDelta,
		s.comparisonCostPct,
		s.comparisonPValue,
		s.comparisonsTotal,
		s.errorsTotal,
	}

	for i, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
			// Reuse the live collector so values keep accumulating.
			s.collectors[i] = already.ExistingCollector
			s.adoptExisting(c, already.ExistingCollector)
		}
	}

	return s, nil
}

// adoptExisting swaps a freshly built collector field for the one already
// registered under the same descriptor.
func (s *PrometheusSink) adoptExisting(fresh, existing prometheus.Collector) {
	switch fresh {
	case s.batchAccuracy:
		s.batchAccuracy = existing.(*prometheus.GaugeVec)
	case s.batchAvgCost:
		s.batchAvgCost = existing.(*prometheus.GaugeVec)
	case s.batchAvgDuration:
		s.batchAvgDuration = existing.(*prometheus.HistogramVec)
	case s.tasksTotal:
		s.tasksTotal = existing.(*prometheus.CounterVec)
	case s.costTotal:
		s.costTotal = existing.(*prometheus.CounterVec)
	case s.tokensTotal:
		s.tokensTotal = existing.(*prometheus.CounterVec)
	case s.comparisonAccuracyDelta:
		s.comparisonAccuracyDelta = existing.(*prometheus.GaugeVec)
	case s.comparisonCostPct:
		s.comparisonCostPct = existing.(*prometheus.GaugeVec)
	case s.comparisonPValue:
		s.comparisonPValue = existing.(*prometheus.GaugeVec)
	case s.comparisonsTotal:
		s.comparisonsTotal = existing.(*prometheus.CounterVec)
	case s.errorsTotal:
		s.errorsTotal = existing.(*prometheus.CounterVec)
	}
}

func (s *PrometheusSink) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// RecordBatch implements Sink.
func (s *PrometheusSink) RecordBatch(ctx context.Context, data *BatchData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	cfg := s.sanitizeLabel("config", orUnknown(data.Config))

	s.batchAccuracy.WithLabelValues(cfg).Set(data.Accuracy)
	s.batchAvgCost.WithLabelValues(cfg).Set(data.AvgCostUSD)
	s.batchAvgDuration.WithLabelValues(cfg).Observe(data.AvgDurationMs / 1000)

	unsolved := data.Tasks - data.Solved - data.FailedTasks
	if unsolved < 0 {
		unsolved = 0
	}
	s.tasksTotal.WithLabelValues(cfg, "solved").Add(float64(data.Solved))
	s.tasksTotal.WithLabelValues(cfg, "unsolved").Add(float64(unsolved))
	s.tasksTotal.WithLabelValues(cfg, "failed").Add(float64(data.FailedTasks))

	if data.TotalCostUSD > 0 {
		s.costTotal.WithLabelValues(cfg).Add(data.TotalCostUSD)
	}
	if data.TotalTokens > 0 {
		s.tokensTotal.WithLabelValues(cfg).Add(float64(data.TotalTokens))
	}
	return nil
}

// RecordComparison implements Sink.
func (s *PrometheusSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	a := s.sanitizeLabel("config", orUnknown(data.ConfigA))
	b := s.sanitizeLabel("config", orUnknown(data.ConfigB))

	s.comparisonAccuracyDelta.WithLabelValues(a, b).Set(data.DeltaAccuracy)
	s.comparisonCostPct.WithLabelValues(a, b).Set(data.DeltaCostPct)
	s.comparisonPValue.WithLabelValues(a, b, "accuracy").Set(data.AccuracyPValue)
	s.comparisonPValue.WithLabelValues(a, b, "cost").Set(data.CostPValue)
	s.comparisonsTotal.WithLabelValues(orUnknown(data.Recommendation)).Inc()
	return nil
}

// RecordError implements Sink.
func (s *PrometheusSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := checkArgs(ctx, data != nil); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	s.errorsTotal.WithLabelValues(
		s.sanitizeLabel("component", orUnknown(data.Component)),
		s.sanitizeLabel("operation", orUnknown(data.Operation)),
		s.sanitizeLabel("error_type", orUnknown(data.ErrorType)),
	).Inc()
	return nil
}

// Flush is a no-op; Prometheus pulls on scrape.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return s.open()
}

// Close unregisters the collectors. Calling Close more than once is safe.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	return nil
}

// sanitizeLabel bounds label cardinality.
//
// Description:
//
//	Tracks distinct values per label name and replaces values beyond
//	the configured maximum with "_other".
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) sanitizeLabel(name, value string) string {
	s.labelMu.RLock()
	if seen := s.seenLabels[name]; seen != nil {
		if _, ok := seen[value]; ok {
			s.labelMu.RUnlock()
			return value
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return "_other"
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()
	seen := s.seenLabels[name]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seenLabels[name] = seen
	}
	if _, ok := seen[value]; ok {
		return value
	}
	if len(seen) >= s.maxCardinality {
		return "_other"
	}
	seen[value] = struct{}{}
	return value
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var _ Sink = (*PrometheusSink)(nil)
