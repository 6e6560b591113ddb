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

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// -----------------------------------------------------------------------------
// Collector Tests
// -----------------------------------------------------------------------------

func TestCollector_APICallAccumulation(t *testing.T) {
	c := NewCollector()
	c.Start()
	c.RecordAPICall(100, 50, 20, 0.01)

	m := c.Finish()
	assert.Equal(t, 1, m.APICalls)
	assert.Equal(t, 100, m.InputTokens)
	assert.Equal(t, 50, m.OutputTokens)
	assert.Equal(t, 20, m.CachedTokens)
	assert.InDelta(t, 0.01, m.CostUSD, 1e-12)
	assert.Equal(t, 150, m.TotalTokens())
	assert.Equal(t, 130, m.EffectiveTokens())
}

func TestCollector_RepeatedAPICalls(t *testing.T) {
	c := NewCollector()
	c.Start()
	for i := 0; i < 5; i++ {
		c.RecordAPICall(10, 5, 1, 0.002)
	}

	m := c.Finish()
	assert.Equal(t, 5, m.APICalls)
	assert.Equal(t, 50, m.InputTokens)
	assert.Equal(t, 25, m.OutputTokens)
	assert.Equal(t, 5, m.CachedTokens)
	assert.InDelta(t, 0.01, m.CostUSD, 1e-12)
}

func TestCollector_NegativeInputsClamped(t *testing.T) {
	c := NewCollector()
	c.RecordAPICall(-10, -5, -1, -0.5)
	c.RecordAPICall(1, 1, 0, math.NaN())
	c.RecordContextRetrieval(-time.Second)

	m := c.Finish()
	assert.Equal(t, 2, m.APICalls)
	assert.Equal(t, 1, m.InputTokens)
	assert.Equal(t, 1, m.OutputTokens)
	assert.Equal(t, 0, m.CachedTokens)
	assert.Equal(t, 0.0, m.CostUSD)
	assert.Equal(t, int64(0), m.ContextRetrievalMs)
}

func TestCollector_StartIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector(WithClock(clock.Now))

	c.Start()
	clock.Advance(200 * time.Millisecond)
	c.Start()
	clock.Advance(300 * time.Millisecond)

	m := c.Finish()
	assert.Equal(t, int64(500), m.DurationMs)
}

func TestCollector_FirstResponseRecordedOnce(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector(WithClock(clock.Now))
	c.Start()

	clock.Advance(120 * time.Millisecond)
	c.RecordFirstResponse()
	clock.Advance(400 * time.Millisecond)
	c.RecordFirstResponse()

	m := c.Finish()
	assert.Equal(t, int64(120), m.TimeToFirstResponseMs)
	assert.Equal(t, int64(520), m.DurationMs)
}

func TestCollector_FinishWithoutStart(t *testing.T) {
	c := NewCollector()
	c.RecordFirstResponse()

	m := c.Finish()
	assert.Equal(t, int64(0), m.DurationMs)
	assert.Equal(t, int64(0), m.TimeToFirstResponseMs)
	assert.False(t, c.Started())
}

func TestCollector_FinishDoesNotReset(t *testing.T) {
	clock := newFakeClock()
	c := NewCollector(WithClock(clock.Now))
	c.Start()
	c.RecordAgentStep()

	clock.Advance(time.Second)
	first := c.Finish()

	c.RecordAgentStep()
	clock.Advance(time.Second)
	second := c.Finish()

	assert.Equal(t, 1, first.AgentSteps, "earlier snapshot is unaffected")
	assert.Equal(t, int64(1000), first.DurationMs)
	assert.Equal(t, 2, second.AgentSteps)
	assert.Equal(t, int64(2000), second.DurationMs)
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()
	c.Start()
	c.RecordFileRead()
	c.RecordFileRead()
	c.RecordFileWrite()
	c.RecordEditAttempt()
	c.RecordEditAttempt()
	c.RecordEditAttempt()
	c.RecordTestRun()
	c.RecordAgentStep()
	c.RecordContextRetrieval(35 * time.Millisecond)

	m := c.Snapshot()
	assert.Equal(t, 2, m.FilesRead)
	assert.Equal(t, 1, m.FilesWritten)
	assert.Equal(t, 3, m.EditAttempts)
	assert.Equal(t, 1, m.TestRuns)
	assert.Equal(t, 1, m.AgentSteps)
	assert.Equal(t, int64(35), m.ContextRetrievalMs)
}

func TestCollector_MarkSolved(t *testing.T) {
	t.Run("overwrites quality", func(t *testing.T) {
		c := NewCollector()
		c.MarkSolved(Quality{SyntaxValid: 1, TestPassRate: 0.5})
		c.MarkSolved(Quality{SyntaxValid: 1, TestPassRate: 0.9, FileAccuracy: 1})

		m := c.Finish()
		require.True(t, m.Solved)
		assert.Equal(t, 0.9, m.Quality.TestPassRate)
		assert.Equal(t, 1.0, m.Quality.FileAccuracy)
	})

	t.Run("clamps scores", func(t *testing.T) {
		c := NewCollector()
		c.MarkSolved(Quality{SyntaxValid: 2, TestPassRate: -1, CodeCoverage: math.NaN(), FileAccuracy: 0.25})

		q := c.Finish().Quality
		assert.Equal(t, 1.0, q.SyntaxValid)
		assert.Equal(t, 0.0, q.TestPassRate)
		assert.Equal(t, 0.0, q.CodeCoverage)
		assert.Equal(t, 0.25, q.FileAccuracy)
	})
}

func TestTaskMetrics_EffectiveTokensFloor(t *testing.T) {
	m := TaskMetrics{InputTokens: 10, OutputTokens: 5, CachedTokens: 40}
	assert.Equal(t, 0, m.EffectiveTokens())
	assert.Equal(t, 15, m.TotalTokens())
}

func TestQuality_Mean(t *testing.T) {
	q := Quality{SyntaxValid: 1, TestPassRate: 0.5, CodeCoverage: 0.5, FileAccuracy: 0}
	assert.InDelta(t, 0.5, q.Mean(), 1e-12)
}
