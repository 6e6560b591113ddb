// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs a single evaluation task against an agent variant.
//
// The evaluation engine does not know how an agent solves a task. It
// only needs one outcome per call, recorded into a metrics.Collector:
//
//	err := exec.Execute(ctx, executor.Request{
//	    Task:     task,
//	    Variant:  variant,
//	    Recorder: collector,
//	})
//
// A returned error means the task failed. The runner records it as an
// unsolved task and moves on; it never aborts the batch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianEval/services/eval/dataset"
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoRecording indicates a replay was requested for a task that has
	// no recorded run for the variant.
	ErrNoRecording = errors.New("no recorded run for variant")

	// ErrUnknownExecutor indicates a variant names an executor kind that
	// is not registered.
	ErrUnknownExecutor = errors.New("unknown executor kind")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Kind selects the executor implementation for a variant.
type Kind string

const (
	// KindReplay plays back runs recorded in the dataset.
	KindReplay Kind = "replay"

	// KindCommand runs an external agent process per task.
	KindCommand Kind = "command"
)

// Variant is an agent configuration under evaluation.
type Variant struct {
	Name     string            `json:"name" yaml:"name" validate:"required"`
	Executor Kind              `json:"executor" yaml:"executor" validate:"required,oneof=replay command"`
	Command  []string          `json:"command,omitempty" yaml:"command,omitempty" validate:"required_if=Executor command"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Model    string            `json:"model,omitempty" yaml:"model,omitempty"`

	// MaxSteps is the default step budget when a task does not set one.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty" validate:"gte=0"`

	// Timeout bounds a single task. Zero means no per-task timeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
}

// StepUpdate reports agent progress within a task.
type StepUpdate struct {
	Step     int
	MaxSteps int
	Tool     string
}

// Request is one task execution.
type Request struct {
	Task    dataset.Task
	Variant Variant

	// Recorder receives the task's metrics. The runner has already
	// called Start on it.
	Recorder *metrics.Collector

	// OnStep, when set, is called after each agent step. It runs on the
	// executing goroutine and must not block.
	OnStep func(StepUpdate)
}

// MaxSteps returns the effective step budget for the request.
func (r Request) MaxSteps() int {
	if r.Task.MaxSteps > 0 {
		return r.Task.MaxSteps
	}
	return r.Variant.MaxSteps
}

func (r Request) step(n int, tool string) {
	if r.OnStep != nil {
		r.OnStep(StepUpdate{Step: n, MaxSteps: r.MaxSteps(), Tool: tool})
	}
}

// TaskExecutor produces one task outcome per call.
type TaskExecutor interface {
	// Execute runs req.Task with req.Variant, recording into req.Recorder.
	//
	// A non-nil error marks the task failed. Implementations honor ctx
	// cancellation and return ctx.Err() when interrupted.
	Execute(ctx context.Context, req Request) error
}

// -----------------------------------------------------------------------------
// Dispatcher
// -----------------------------------------------------------------------------

// Dispatcher routes each request to the executor registered for its
// variant's Kind.
//
// Thread Safety: Safe for concurrent Execute calls after construction.
type Dispatcher struct {
	executors map[Kind]TaskExecutor
}

// NewDispatcher creates a dispatcher with the given registrations.
func NewDispatcher(executors map[Kind]TaskExecutor) *Dispatcher {
	m := make(map[Kind]TaskExecutor, len(executors))
	for k, v := range executors {
		m[k] = v
	}
	return &Dispatcher{executors: m}
}

// NewDefaultDispatcher registers the replay and command executors.
func NewDefaultDispatcher() *Dispatcher {
	return NewDispatcher(map[Kind]TaskExecutor{
		KindReplay:  NewReplay(),
		KindCommand: NewCommand(),
	})
}

// Execute implements TaskExecutor.
func (d *Dispatcher) Execute(ctx context.Context, req Request) error {
	exec, ok := d.executors[req.Variant.Executor]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownExecutor, req.Variant.Executor)
	}
	return exec.Execute(ctx, req)
}

var _ TaskExecutor = (*Dispatcher)(nil)
