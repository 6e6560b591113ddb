// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events carries run updates from a background evaluation to the
// foreground UI loop.
//
// The Queue is the only channel between the two sides. A run sends zero
// or more Progress events followed by exactly one Complete or Error
// event, or stops sending when it is cancelled.
package events

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianEval/services/eval/report"
)

// Kind identifies the event variant.
type Kind int

const (
	KindProgress Kind = iota
	KindComplete
	KindError
)

// String returns the string representation.
func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// LastResult describes the most recently finished task.
type LastResult struct {
	TaskID  string  `json:"task_id"`
	Solved  bool    `json:"solved"`
	CostUSD float64 `json:"cost_usd"`
	Error   string  `json:"error,omitempty"`
}

// Progress is a snapshot of a running evaluation.
//
// CurrentTask counts from 1 and never decreases within a run. In a
// comparison it counts across both batches, so TotalTasks is twice the
// number of selected tasks.
type Progress struct {
	CurrentTask int    `json:"current_task"`
	TotalTasks  int    `json:"total_tasks"`
	TaskID      string `json:"task_id"`
	Config      string `json:"config,omitempty"`

	// Step detail for the task in flight. Zero values mean unknown.
	CurrentStep int    `json:"current_step,omitempty"`
	MaxSteps    int    `json:"max_steps,omitempty"`
	LastTool    string `json:"last_tool,omitempty"`

	// Running totals across the whole run.
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`

	Message    string      `json:"message,omitempty"`
	LastResult *LastResult `json:"last_result,omitempty"`
}

// Status renders a one-line status message.
func (p Progress) Status() string {
	if p.Message != "" {
		return p.Message
	}
	s := fmt.Sprintf("Task %d/%d %s", p.CurrentTask, p.TotalTasks, p.TaskID)
	if p.CurrentStep > 0 {
		if p.MaxSteps > 0 {
			s += fmt.Sprintf(" step %d/%d", p.CurrentStep, p.MaxSteps)
		} else {
			s += fmt.Sprintf(" step %d", p.CurrentStep)
		}
	}
	if p.LastTool != "" {
		s += " (" + p.LastTool + ")"
	}
	return s + fmt.Sprintf(" | %d tokens | $%.4f", p.TotalTokens, p.TotalCost)
}

// Event is one message from a run.
type Event struct {
	RunID     string
	Kind      Kind
	EmittedAt time.Time

	// Progress is set for KindProgress.
	Progress *Progress

	// Results is set for KindComplete.
	Results *report.Report

	// Message is set for KindError.
	Message string
}

// NewProgress builds a progress event.
func NewProgress(runID string, p Progress) Event {
	return Event{RunID: runID, Kind: KindProgress, EmittedAt: time.Now(), Progress: &p}
}

// NewComplete builds a completion event.
func NewComplete(runID string, r *report.Report) Event {
	return Event{RunID: runID, Kind: KindComplete, EmittedAt: time.Now(), Results: r}
}

// NewError builds an error event.
func NewError(runID string, message string) Event {
	return Event{RunID: runID, Kind: KindError, EmittedAt: time.Now(), Message: message}
}
