// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset loads the task sets that evaluation runs execute.
//
// A dataset is a YAML or JSON file:
//
//	name: smoke
//	version: "1"
//	tasks:
//	  - id: fix-off-by-one
//	    prompt: "Fix the off-by-one error in pagination"
//	    complexity: simple
//	    max_steps: 10
//
// Tasks may carry recorded runs per variant, which the replay executor
// plays back without invoking an agent.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDatasetUnreadable indicates the dataset file could not be read.
	ErrDatasetUnreadable = errors.New("dataset unreadable")

	// ErrDatasetMalformed indicates the dataset failed to parse or validate.
	ErrDatasetMalformed = errors.New("dataset malformed")

	// ErrDatasetEmpty indicates the dataset (or selection) has no tasks.
	ErrDatasetEmpty = errors.New("dataset has no tasks")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Complexity buckets tasks for per-group reporting.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Dataset is a named, versioned list of tasks.
type Dataset struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Tasks   []Task `json:"tasks" yaml:"tasks" validate:"dive"`
}

// Task is one coding task given to an agent.
type Task struct {
	ID         string     `json:"id" yaml:"id" validate:"required"`
	Prompt     string     `json:"prompt" yaml:"prompt" validate:"required"`
	Complexity Complexity `json:"complexity" yaml:"complexity" validate:"required,oneof=simple medium complex"`
	Repo       string     `json:"repo,omitempty" yaml:"repo,omitempty"`
	Tags       []string   `json:"tags,omitempty" yaml:"tags,omitempty"`

	// MaxSteps caps agent iterations. Zero means the variant default.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty" validate:"gte=0"`

	// Recorded holds pre-recorded runs keyed by variant name.
	Recorded map[string]RecordedRun `json:"recorded,omitempty" yaml:"recorded,omitempty" validate:"dive"`
}

// RecordedRun is a captured agent run that can be replayed.
type RecordedRun struct {
	ContextRetrievalMs int64           `json:"context_retrieval_ms,omitempty" yaml:"context_retrieval_ms,omitempty" validate:"gte=0"`
	APICalls           []RecordedCall  `json:"api_calls,omitempty" yaml:"api_calls,omitempty" validate:"dive"`
	Steps              []string        `json:"steps,omitempty" yaml:"steps,omitempty"`
	FilesRead          int             `json:"files_read,omitempty" yaml:"files_read,omitempty" validate:"gte=0"`
	FilesWritten       int             `json:"files_written,omitempty" yaml:"files_written,omitempty" validate:"gte=0"`
	EditAttempts       int             `json:"edit_attempts,omitempty" yaml:"edit_attempts,omitempty" validate:"gte=0"`
	TestRuns           int             `json:"test_runs,omitempty" yaml:"test_runs,omitempty" validate:"gte=0"`
	Solved             bool            `json:"solved" yaml:"solved"`
	Quality            metrics.Quality `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Error, when set, replays as a task failure with this message.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RecordedCall is one recorded model API call.
type RecordedCall struct {
	InputTokens  int     `json:"input_tokens" yaml:"input_tokens" validate:"gte=0"`
	OutputTokens int     `json:"output_tokens" yaml:"output_tokens" validate:"gte=0"`
	CachedTokens int     `json:"cached_tokens,omitempty" yaml:"cached_tokens,omitempty" validate:"gte=0"`
	CostUSD      float64 `json:"cost_usd" yaml:"cost_usd" validate:"gte=0"`
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

var validate = validator.New()

// Load reads and validates a dataset file.
//
// Description:
//
//	The format is chosen by extension: .json is JSON, anything else is
//	YAML. Task IDs must be unique.
//
// Inputs:
//   - path: Dataset file path.
//
// Outputs:
//   - *Dataset: The validated dataset.
//   - error: Wraps ErrDatasetUnreadable, ErrDatasetMalformed or
//     ErrDatasetEmpty.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetUnreadable, err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format)
}

// Parse decodes and validates dataset bytes in the given format
// ("json" or "yaml").
func Parse(data []byte, format string) (*Dataset, error) {
	var ds Dataset
	var err error
	if format == "json" {
		err = json.Unmarshal(data, &ds)
	} else {
		err = yaml.Unmarshal(data, &ds)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetMalformed, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks struct constraints, unique task IDs and non-emptiness.
func (d *Dataset) Validate() error {
	if len(d.Tasks) == 0 {
		return ErrDatasetEmpty
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrDatasetMalformed, err)
	}
	seen := make(map[string]struct{}, len(d.Tasks))
	for _, t := range d.Tasks {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %q", ErrDatasetMalformed, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Select returns tasks in file order, optionally filtered by complexity
// and truncated to limit. A zero limit means no limit; an empty
// complexity matches every task.
func (d *Dataset) Select(limit int, complexity Complexity) ([]Task, error) {
	var out []Task
	for _, t := range d.Tasks {
		if complexity != "" && t.Complexity != complexity {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrDatasetEmpty
	}
	return out, nil
}
