// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import "time"

// Clock returns the current instant. Tests substitute a fake.
type Clock func() time.Time

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock overrides the collector's time source.
func WithClock(clock Clock) CollectorOption {
	return func(c *Collector) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Collector accumulates metrics for a single running task.
//
// Description:
//
//	One Collector exists per task. The executor records into it as the
//	agent works, and the runner calls Finish once the task ends. There
//	are no error conditions; invalid inputs are clamped.
//
// Thread Safety: NOT safe for concurrent use. A collector has a single
// writer, the goroutine executing its task.
type Collector struct {
	now           Clock
	started       bool
	startedAt     time.Time
	firstResponse bool
	metrics       TaskMetrics
}

// NewCollector creates an idle collector.
//
// Outputs:
//   - *Collector: Ready for Start. Never nil.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start records the start instant. Calls after the first are no-ops.
func (c *Collector) Start() {
	if c.started {
		return
	}
	c.started = true
	c.startedAt = c.now()
}

// Started reports whether Start has been called.
func (c *Collector) Started() bool {
	return c.started
}

// RecordFirstResponse records the elapsed time to the first agent
// response. Only the first call has any effect.
func (c *Collector) RecordFirstResponse() {
	if c.firstResponse {
		return
	}
	c.firstResponse = true
	c.metrics.TimeToFirstResponseMs = c.elapsedMs()
}

// RecordAPICall accumulates one model API call.
//
// Inputs:
//   - input, output, cached: Token counts. Negative values count as 0.
//   - cost: Cost in USD. Negative or NaN counts as 0.
func (c *Collector) RecordAPICall(input, output, cached int, cost float64) {
	c.metrics.APICalls++
	c.metrics.InputTokens += nonNegative(input)
	c.metrics.OutputTokens += nonNegative(output)
	c.metrics.CachedTokens += nonNegative(cached)
	if cost > 0 {
		c.metrics.CostUSD += cost
	}
}

// RecordContextRetrieval adds time spent retrieving code context.
func (c *Collector) RecordContextRetrieval(d time.Duration) {
	if d > 0 {
		c.metrics.ContextRetrievalMs += d.Milliseconds()
	}
}

// RecordFileRead counts one file read.
func (c *Collector) RecordFileRead() { c.metrics.FilesRead++ }

// RecordFileWrite counts one file write.
func (c *Collector) RecordFileWrite() { c.metrics.FilesWritten++ }

// RecordEditAttempt counts one edit attempt.
func (c *Collector) RecordEditAttempt() { c.metrics.EditAttempts++ }

// RecordTestRun counts one test run.
func (c *Collector) RecordTestRun() { c.metrics.TestRuns++ }

// RecordAgentStep counts one agent loop iteration.
func (c *Collector) RecordAgentStep() { c.metrics.AgentSteps++ }

// MarkSolved marks the task solved with the given quality scores.
// Repeated calls overwrite the stored quality.
func (c *Collector) MarkSolved(q Quality) {
	c.metrics.Solved = true
	c.metrics.Quality = q.Clamp()
}

// Snapshot returns the metrics recorded so far without computing the
// duration. Used for live progress reporting.
func (c *Collector) Snapshot() TaskMetrics {
	return c.metrics
}

// Finish computes the duration since Start and returns a snapshot.
//
// Description:
//
//	The collector's state is not reset, so Finish may be called more
//	than once; each call recomputes the duration. When Start was never
//	called the duration is 0.
//
// Outputs:
//   - TaskMetrics: Value copy of the recorded metrics.
func (c *Collector) Finish() TaskMetrics {
	c.metrics.DurationMs = c.elapsedMs()
	return c.metrics
}

func (c *Collector) elapsedMs() int64 {
	if !c.started {
		return 0
	}
	ms := c.now().Sub(c.startedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
