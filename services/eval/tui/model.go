// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui provides the interactive evaluation console.
//
// # Description
//
// The Model owns a session.Controller and drains its event queue with a
// waitForEvent command, so every session mutation happens inside the
// bubbletea update loop.
//
// # Thread Safety
//
// Designed for single-threaded use within the bubbletea event loop.
package tui

import (
	"context"
	"log/slog"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
	"github.com/AleutianAI/AleutianEval/services/eval/session"
)

// =============================================================================
// Messages
// =============================================================================

// EventMsg wraps a run event for bubbletea.
type EventMsg struct {
	Event events.Event
}

// queueClosedMsg signals that no further events will arrive.
type queueClosedMsg struct{}

// =============================================================================
// Config
// =============================================================================

// Options configures the console.
type Options struct {
	// Evaluation is started by the "e" key.
	Evaluation runner.EvaluationArgs

	// Comparison is started by the "c" key.
	Comparison runner.ComparisonArgs

	// NoColor disables styling.
	NoColor bool

	// Logger receives key handling diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model of the evaluation console.
type Model struct {
	ctx   context.Context
	ctrl  *session.Controller
	queue *events.Queue
	opts  Options

	spinner spinner.Model
	bar     progress.Model
	results table.Model

	width    int
	quitting bool
}

// NewModel creates the console model.
//
// # Inputs
//
//   - ctx: Bounds the event wait. Cancel it after the program exits.
//   - ctrl: Controller whose runs report through queue.
//   - queue: The controller's event queue.
//   - opts: Run arguments and styling.
func NewModel(ctx context.Context, ctrl *session.Controller, queue *events.Queue, opts Options) Model {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	if !opts.NoColor {
		s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	}

	t := table.New(
		table.WithColumns(resultColumns()),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(12),
		table.WithWidth(110),
	)
	t.SetStyles(tableStyles(opts.NoColor))
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		queue:   queue,
		opts:    opts,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		results: t,
	}
}

// Controller returns the controller driven by the model.
func (m Model) Controller() *session.Controller {
	return m.ctrl
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.ctx, m.queue), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(min(msg.Width-4, 60), 10)
		m.results.SetWidth(msg.Width)
		m.results.SetHeight(max(msg.Height-14, 3))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		if m.ctrl.HandleEvent(msg.Event) && msg.Event.Kind == events.KindComplete {
			m.results.SetRows(resultRows(msg.Event.Results))
			m.results.GotoTop()
		}
		return m, waitForEvent(m.ctx, m.queue)

	case queueClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.ctrl.CancelEvaluation()
		m.quitting = true
		return m, tea.Quit

	case "e":
		if m.ctrl.Screen() != session.ScreenEvaluation {
			// A rejected start is shown through the controller toast.
			if _, err := m.ctrl.StartEvaluation(m.opts.Evaluation); err != nil {
				m.opts.Logger.Debug("evaluation not started", slog.String("error", err.Error()))
			}
		}
		return m, nil

	case "c":
		if m.ctrl.Screen() != session.ScreenEvaluation {
			if _, err := m.ctrl.StartComparison(m.opts.Comparison); err != nil {
				m.opts.Logger.Debug("comparison not started", slog.String("error", err.Error()))
			}
		}
		return m, nil

	case "x", "esc":
		switch m.ctrl.Screen() {
		case session.ScreenEvaluation:
			m.ctrl.CancelEvaluation()
		case session.ScreenResults:
			m.ctrl.SetScreen(session.ScreenMain)
		default:
			m.ctrl.ClearToast()
		}
		return m, nil
	}

	if m.ctrl.Screen() == session.ScreenResults {
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd
	}
	return m, nil
}

// waitForEvent blocks until the next run event is available.
func waitForEvent(ctx context.Context, q *events.Queue) tea.Cmd {
	return func() tea.Msg {
		if q == nil {
			return nil
		}
		ev, err := q.Recv(ctx)
		if err != nil {
			return queueClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}
