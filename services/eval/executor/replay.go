// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Replay plays back runs recorded in the dataset.
//
// Description:
//
//	Replay makes evaluations reproducible and free: the same recorded
//	tokens, costs and counters are fed into the collector every time.
//	Useful for regression-testing the statistics pipeline and for
//	comparing variants whose runs were captured earlier.
//
// Thread Safety: Stateless. Safe for concurrent use.
type Replay struct{}

// NewReplay creates a replay executor.
func NewReplay() *Replay {
	return &Replay{}
}

// Execute implements TaskExecutor.
func (r *Replay) Execute(ctx context.Context, req Request) error {
	rec, ok := req.Task.Recorded[req.Variant.Name]
	if !ok {
		return fmt.Errorf("%w: task %s, variant %s", ErrNoRecording, req.Task.ID, req.Variant.Name)
	}
	c := req.Recorder

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rec.APICalls) > 0 {
		c.RecordFirstResponse()
	}
	c.RecordContextRetrieval(time.Duration(rec.ContextRetrievalMs) * time.Millisecond)

	for _, call := range rec.APICalls {
		c.RecordAPICall(call.InputTokens, call.OutputTokens, call.CachedTokens, call.CostUSD)
	}
	for i := 0; i < rec.FilesRead; i++ {
		c.RecordFileRead()
	}
	for i := 0; i < rec.FilesWritten; i++ {
		c.RecordFileWrite()
	}
	for i := 0; i < rec.EditAttempts; i++ {
		c.RecordEditAttempt()
	}
	for i := 0; i < rec.TestRuns; i++ {
		c.RecordTestRun()
	}
	for i, tool := range rec.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.RecordAgentStep()
		req.step(i+1, tool)
	}

	if rec.Error != "" {
		return errors.New(rec.Error)
	}
	if rec.Solved {
		c.MarkSolved(rec.Quality)
	}
	return nil
}

var _ TaskExecutor = (*Replay)(nil)
