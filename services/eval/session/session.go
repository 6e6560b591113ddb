// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State names the phase of a session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

// String returns the string representation.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition happens without a new run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Phase is the tagged union of session phases. Only Running can hold a
// cancel handle and only Completed holds results, so a finished session
// with a live handle cannot be expressed.
type Phase interface {
	State() State
}

// Idle is a session that has not started.
type Idle struct{}

// Running is a session with a background run in flight.
type Running struct {
	handle *CancelHandle
}

// Completed holds the final report.
type Completed struct {
	Results *report.Report
}

// Failed holds the run-level failure message.
type Failed struct {
	Message string
}

// Cancelled is a session whose run was cancelled by the user.
type Cancelled struct{}

func (Idle) State() State      { return StateIdle }
func (Running) State() State   { return StateRunning }
func (Completed) State() State { return StateCompleted }
func (Failed) State() State    { return StateFailed }
func (Cancelled) State() State { return StateCancelled }

// -----------------------------------------------------------------------------
// Cancel Handle
// -----------------------------------------------------------------------------

// CancelHandle requests cancellation of one background run.
//
// A handle is owned by exactly one place at a time: the Running phase
// while the run is live, then whoever took it. Taking it out of the
// session is what makes a second cancel a no-op.
type CancelHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newCancelHandle(cancel context.CancelFunc) *CancelHandle {
	return &CancelHandle{cancel: cancel, done: make(chan struct{})}
}

// Cancel requests cancellation and returns immediately.
func (h *CancelHandle) Cancel() {
	h.cancel()
}

// Done is closed when the background run has returned.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.done
}

func (h *CancelHandle) finish() {
	h.once.Do(func() { close(h.done) })
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// Session is the state of the current run as seen by the foreground loop.
//
// Thread Safety: NOT safe for concurrent use. Only the foreground loop
// reads or mutates it, in response to events.
type Session struct {
	RunID     string
	Kind      report.Kind
	StartedAt time.Time

	// Progress is the latest progress snapshot.
	Progress events.Progress

	phase Phase
}

func newSession(runID string, kind report.Kind, handle *CancelHandle) *Session {
	return &Session{
		RunID:     runID,
		Kind:      kind,
		StartedAt: time.Now(),
		phase:     Running{handle: handle},
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	if s.phase == nil {
		return Idle{}
	}
	return s.phase
}

// State returns the current state.
func (s *Session) State() State {
	return s.Phase().State()
}

// Results returns the final report if the session completed.
func (s *Session) Results() *report.Report {
	if c, ok := s.phase.(Completed); ok {
		return c.Results
	}
	return nil
}

// Error returns the failure message if the session failed.
func (s *Session) Error() string {
	if f, ok := s.phase.(Failed); ok {
		return f.Message
	}
	return ""
}

// HasHandle reports whether a live cancel handle is held.
func (s *Session) HasHandle() bool {
	r, ok := s.phase.(Running)
	return ok && r.handle != nil
}

// TakeHandle moves the cancel handle out of the session. It returns nil
// if there is none, including on every call after the first.
func (s *Session) TakeHandle() *CancelHandle {
	r, ok := s.phase.(Running)
	if !ok || r.handle == nil {
		return nil
	}
	h := r.handle
	s.phase = Running{}
	return h
}
