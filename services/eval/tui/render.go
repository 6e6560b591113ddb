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
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/session"
)

const (
	colorTitle = lipgloss.Color("33")
	colorDim   = lipgloss.Color("244")
	colorPass  = lipgloss.Color("42")
	colorFail  = lipgloss.Color("196")
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	parts := []string{m.style("Aleutian Eval", colorTitle, true)}
	if toast := m.ctrl.Toast(); toast != "" {
		parts = append(parts, m.style(toast, colorFail, false))
	}
	parts = append(parts, "")

	switch m.ctrl.Screen() {
	case session.ScreenEvaluation:
		parts = append(parts, m.runningView()...)
	case session.ScreenResults:
		parts = append(parts, m.resultsView()...)
	default:
		parts = append(parts, m.mainView()...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) mainView() []string {
	ev, cmp := m.opts.Evaluation, m.opts.Comparison
	lines := []string{
		"Dataset: " + ev.DatasetPath,
		fmt.Sprintf("  e  evaluate %s", ev.Variant.Name),
		fmt.Sprintf("  c  compare %s (A) vs %s (B)", cmp.A.Name, cmp.B.Name),
		"  q  quit",
	}
	if s := m.ctrl.Session(); s != nil && s.State().Terminal() {
		lines = append(lines, "", m.style(m.ctrl.Status(), colorDim, false))
	}
	return lines
}

func (m Model) runningView() []string {
	s := m.ctrl.Session()
	if s == nil {
		return nil
	}
	p := s.Progress

	fraction := 0.0
	if p.TotalTasks > 0 {
		fraction = float64(p.CurrentTask) / float64(p.TotalTasks)
	}
	lines := []string{
		m.spinner.View() + " " + m.ctrl.Status(),
		m.bar.ViewAs(fraction),
		m.style(fmt.Sprintf("%d tokens | $%.4f | run %s", p.TotalTokens, p.TotalCost, s.RunID), colorDim, false),
	}
	if last := lastResultLine(p.LastResult); last != "" {
		lines = append(lines, last)
	}
	return append(lines, "", m.style("x/esc cancel | q quit", colorDim, false))
}

func (m Model) resultsView() []string {
	s := m.ctrl.Session()
	if s == nil || s.Results() == nil {
		return nil
	}
	r := s.Results()

	lines := []string{m.style(m.ctrl.Status(), colorTitle, false)}
	for _, b := range r.Batches {
		lines = append(lines, fmt.Sprintf("%-16s %5.1f%% solved | avg $%.4f | avg %s",
			b.ConfigName, b.Accuracy, b.AvgCostUSD, formatMs(b.AvgDurationMs)))
	}
	if r.Comparison != nil {
		lines = append(lines, "", strings.TrimRight(r.Comparison.Summary(), "\n"))
	}
	return append(lines, "", m.results.View(), m.style("esc back | e/c run again | q quit", colorDim, false))
}

func lastResultLine(lr *events.LastResult) string {
	if lr == nil {
		return ""
	}
	outcome := "unsolved"
	if lr.Solved {
		outcome = "solved"
	}
	line := fmt.Sprintf("last: %s %s ($%.4f)", lr.TaskID, outcome, lr.CostUSD)
	if lr.Error != "" {
		line += " error: " + lr.Error
	}
	return line
}

// =============================================================================
// Results Table
// =============================================================================

func resultColumns() []table.Column {
	return []table.Column{
		{Title: "Config", Width: 14},
		{Title: "Task", Width: 18},
		{Title: "Complexity", Width: 10},
		{Title: "Solved", Width: 6},
		{Title: "Cost", Width: 9},
		{Title: "Duration", Width: 9},
		{Title: "Error", Width: 30},
	}
}

func resultRows(r *report.Report) []table.Row {
	if r == nil {
		return []table.Row{}
	}
	rows := make([]table.Row, 0)
	for _, b := range r.Batches {
		for _, t := range b.Tasks {
			solved := "no"
			if t.Metrics.Solved {
				solved = "yes"
			}
			rows = append(rows, table.Row{
				b.ConfigName,
				t.TaskID,
				string(t.Complexity),
				solved,
				fmt.Sprintf("$%.4f", t.Metrics.CostUSD),
				formatMs(float64(t.Metrics.DurationMs)),
				t.Error,
			})
		}
	}
	return rows
}

func tableStyles(noColor bool) table.Styles {
	styles := table.DefaultStyles()
	if noColor {
		styles.Header = lipgloss.NewStyle().Bold(true)
		styles.Selected = lipgloss.NewStyle().Reverse(true)
		return styles
	}
	styles.Header = styles.Header.Foreground(colorTitle).Bold(true)
	styles.Selected = styles.Selected.Foreground(colorPass)
	return styles
}

func formatMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}

func (m Model) style(text string, color lipgloss.Color, bold bool) string {
	if m.opts.NoColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Bold(bold).Render(text)
}
