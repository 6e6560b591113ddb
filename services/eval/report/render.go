// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Format selects the output format of a Writer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Writer renders reports.
type Writer struct {
	Format Format

	// NoColor disables terminal styling in text output.
	NoColor bool

	// ShowTasks includes the per-task table in text output.
	ShowTasks bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Write renders r to w.
func (rw Writer) Write(w io.Writer, r *Report) error {
	if rw.Format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := io.WriteString(w, rw.Text(r))
	return err
}

// Text renders r as styled text.
func (rw Writer) Text(r *Report) string {
	var b strings.Builder

	b.WriteString(rw.style(titleStyle, fmt.Sprintf("Run %s (%s)", r.RunID, r.Kind)))
	b.WriteString("\n")
	meta := fmt.Sprintf("dataset %s | started %s | took %s",
		r.Dataset, r.StartedAt.Format("2006-01-02 15:04:05"), r.Duration().Round(time.Millisecond))
	b.WriteString(rw.style(dimStyle, meta))
	b.WriteString("\n\n")

	b.WriteString(rw.batchTable(r.Batches))
	b.WriteString("\n")

	for _, batch := range r.Batches {
		if len(batch.ByComplexity) > 1 {
			b.WriteString(rw.complexityTable(batch))
			b.WriteString("\n")
		}
		if rw.ShowTasks {
			b.WriteString(rw.taskTable(batch))
			b.WriteString("\n")
		}
	}

	if r.Comparison != nil {
		b.WriteString("\n")
		b.WriteString(r.Comparison.Summary())
	}
	return b.String()
}

func (rw Writer) batchTable(batches []EvaluationResults) string {
	t := rw.newTable("Config", "Tasks", "Solved", "Accuracy", "Avg cost", "P95 cost", "Avg duration", "P95 duration", "Tokens")
	for _, e := range batches {
		agg := e.Aggregate
		t.Row(
			e.ConfigName,
			strconv.Itoa(agg.Count),
			strconv.Itoa(agg.Solved),
			fmt.Sprintf("%.1f%%", e.Accuracy),
			fmt.Sprintf("$%.4f", e.AvgCostUSD),
			fmt.Sprintf("$%.4f", agg.Cost.P95),
			formatMs(e.AvgDurationMs),
			formatMs(agg.Duration.P95),
			strconv.Itoa(agg.TotalInputTokens+agg.TotalOutputTokens),
		)
	}
	return t.String()
}

func (rw Writer) complexityTable(e EvaluationResults) string {
	t := rw.newTable(e.ConfigName+" by complexity", "Tasks", "Accuracy", "Avg cost", "Avg duration")
	for _, c := range e.Complexities() {
		g := e.ByComplexity[c]
		t.Row(string(c), strconv.Itoa(g.Count), fmt.Sprintf("%.1f%%", g.Accuracy),
			fmt.Sprintf("$%.4f", g.AvgCostUSD), formatMs(g.AvgDurationMs))
	}
	return t.String()
}

func (rw Writer) taskTable(e EvaluationResults) string {
	t := rw.newTable(e.ConfigName+" task", "Complexity", "Result", "Cost", "Duration", "Steps", "Error")
	for _, tr := range e.Tasks {
		result := rw.style(failStyle, "fail")
		if tr.Metrics.Solved {
			result = rw.style(passStyle, "pass")
		}
		t.Row(tr.TaskID, string(tr.Complexity), result,
			fmt.Sprintf("$%.4f", tr.Metrics.CostUSD),
			formatMs(float64(tr.Metrics.DurationMs)),
			strconv.Itoa(tr.Metrics.AgentSteps),
			truncate(tr.Error, 40))
	}
	return t.String()
}

func (rw Writer) newTable(headers ...string) *table.Table {
	t := table.New().Border(lipgloss.NormalBorder()).Headers(headers...)
	if !rw.NoColor {
		t = t.BorderStyle(dimStyle)
	}
	return t
}

func (rw Writer) style(s lipgloss.Style, text string) string {
	if rw.NoColor {
		return text
	}
	return s.Render(text)
}

func formatMs(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", ms/1000)
	}
	return fmt.Sprintf("%.0fms", ms)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
