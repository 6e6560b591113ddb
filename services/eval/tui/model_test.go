// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/executor"
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
	"github.com/AleutianAI/AleutianEval/services/eval/session"
)

// parkedLauncher blocks every run until its context is cancelled or the
// test ends.
type parkedLauncher struct {
	kinds   chan report.Kind
	release chan struct{}
}

func (p *parkedLauncher) park(ctx context.Context, kind report.Kind) error {
	p.kinds <- kind
	select {
	case <-ctx.Done():
	case <-p.release:
	}
	return nil
}

func (p *parkedLauncher) RunEvaluation(ctx context.Context, _ string, _ runner.EvaluationArgs, _ events.Sender) error {
	return p.park(ctx, report.KindEvaluation)
}

func (p *parkedLauncher) RunComparison(ctx context.Context, _ string, _ runner.ComparisonArgs, _ events.Sender) error {
	return p.park(ctx, report.KindComparison)
}

func newTestModel(t *testing.T) (Model, *parkedLauncher) {
	t.Helper()
	l := &parkedLauncher{kinds: make(chan report.Kind, 4), release: make(chan struct{})}
	q := events.NewQueue()
	ctrl := session.NewController(l, q, session.WithIDGenerator(func() string { return "run-1" }))
	t.Cleanup(func() {
		close(l.release)
		ctrl.Wait()
	})

	sel := runner.Selection{DatasetPath: "/data/smoke.yaml"}
	a := executor.Variant{Name: "baseline", Executor: executor.KindReplay}
	b := executor.Variant{Name: "candidate", Executor: executor.KindReplay}
	m := NewModel(context.Background(), ctrl, q, Options{
		Evaluation: runner.EvaluationArgs{Selection: sel, Variant: a},
		Comparison: runner.ComparisonArgs{Selection: sel, A: a, B: b},
		NoColor:    true,
	})
	return m, l
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func completeReport() *report.Report {
	return &report.Report{
		RunID: "run-1",
		Kind:  report.KindEvaluation,
		Batches: []report.EvaluationResults{report.NewEvaluationResults("baseline", []report.TaskResult{
			{TaskID: "t1", Metrics: metrics.TaskMetrics{Solved: true, CostUSD: 0.01, DurationMs: 1500}},
			{TaskID: "t2", Error: "agent crashed"},
		})},
	}
}

func TestModel_MainView(t *testing.T) {
	m, _ := newTestModel(t)
	view := m.View()
	assert.Contains(t, view, "/data/smoke.yaml")
	assert.Contains(t, view, "evaluate baseline")
	assert.Contains(t, view, "compare baseline (A) vs candidate (B)")
}

func TestModel_EvaluationLifecycle(t *testing.T) {
	m, l := newTestModel(t)

	m, _ = update(t, m, key("e"))
	assert.Equal(t, report.KindEvaluation, <-l.kinds)
	assert.Equal(t, session.ScreenEvaluation, m.Controller().Screen())

	// A second start while running is ignored.
	m, _ = update(t, m, key("c"))
	assert.Equal(t, report.KindEvaluation, m.Controller().Session().Kind)

	m, cmd := update(t, m, EventMsg{Event: events.NewProgress("run-1", events.Progress{
		CurrentTask: 1, TotalTasks: 2, TaskID: "t1", TotalTokens: 150,
		LastResult: &events.LastResult{TaskID: "t1", Solved: true, CostUSD: 0.01},
	})})
	assert.NotNil(t, cmd, "keeps waiting for events")
	view := m.View()
	assert.Contains(t, view, "Task 1/2 t1")
	assert.Contains(t, view, "last: t1 solved")

	m, _ = update(t, m, EventMsg{Event: events.NewComplete("run-1", completeReport())})
	assert.Equal(t, session.ScreenResults, m.Controller().Screen())
	assert.Len(t, m.results.Rows(), 2)
	view = m.View()
	assert.Contains(t, view, "Evaluation complete")
	assert.Contains(t, view, "agent crashed")

	m, _ = update(t, m, key("esc"))
	assert.Equal(t, session.ScreenMain, m.Controller().Screen())
	assert.Equal(t, session.StateCompleted, m.Controller().Session().State())
}

func TestModel_Cancel(t *testing.T) {
	m, l := newTestModel(t)
	m, _ = update(t, m, key("c"))
	require.Equal(t, report.KindComparison, <-l.kinds)

	m, _ = update(t, m, key("x"))
	assert.Equal(t, session.ScreenMain, m.Controller().Screen())
	assert.Equal(t, session.StateCancelled, m.Controller().Session().State())
	assert.Contains(t, m.View(), "Evaluation cancelled")
}

func TestModel_ErrorShowsToast(t *testing.T) {
	m, l := newTestModel(t)
	m, _ = update(t, m, key("e"))
	<-l.kinds

	m, _ = update(t, m, EventMsg{Event: events.NewError("run-1", "dataset has no tasks")})
	assert.Equal(t, session.ScreenMain, m.Controller().Screen())
	assert.Contains(t, m.View(), "dataset has no tasks")

	m, _ = update(t, m, key("esc"))
	assert.Empty(t, m.Controller().Toast())
}

func TestModel_RejectedStartIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctrl := session.NewController(&parkedLauncher{}, events.NewQueue(), session.WithLogger(slog.New(slog.DiscardHandler)))
	m := NewModel(context.Background(), ctrl, events.NewQueue(), Options{NoColor: true, Logger: logger})

	m, _ = update(t, m, key("e"))
	assert.Nil(t, m.Controller().Session())
	assert.Contains(t, m.View(), "Cannot start evaluation")
	assert.Contains(t, logs.String(), "evaluation not started")

	m, _ = update(t, m, key("c"))
	assert.Nil(t, m.Controller().Session())
	assert.Contains(t, logs.String(), "comparison not started")
}

func TestModel_Quit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		t.Run(k, func(t *testing.T) {
			m, l := newTestModel(t)
			m, _ = update(t, m, key("e"))
			<-l.kinds

			m, cmd := update(t, m, key(k))
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
			assert.Equal(t, session.StateCancelled, m.Controller().Session().State())
			assert.Empty(t, m.View())
		})
	}
}

func TestWaitForEvent(t *testing.T) {
	q := events.NewQueue()
	require.NoError(t, q.Send(events.NewError("r", "boom")))

	msg := waitForEvent(context.Background(), q)()
	ev, ok := msg.(EventMsg)
	require.True(t, ok)
	assert.Equal(t, "boom", ev.Event.Message)

	q.Close()
	assert.IsType(t, queueClosedMsg{}, waitForEvent(context.Background(), q)())

	m, _ := newTestModel(t)
	m, cmd := update(t, m, queueClosedMsg{})
	require.NotNil(t, cmd)
	assert.True(t, m.quitting)
}

func TestResultRows(t *testing.T) {
	assert.Empty(t, resultRows(nil))

	rows := resultRows(completeReport())
	require.Len(t, rows, 2)
	assert.Equal(t, "yes", rows[0][3])
	assert.Equal(t, "1.5s", rows[0][5])
	assert.Equal(t, "agent crashed", rows[1][6])
}
