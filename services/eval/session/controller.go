// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives the lifecycle of evaluation runs for a UI.
//
// The Controller starts runs on background goroutines and folds the
// events they send back into an explicit Session value. The run and the
// UI share nothing but the event queue: the run only sends, and the
// session is only touched by the foreground loop that calls HandleEvent.
//
// Lifecycle:
//
//	Idle -> Running -> Completed | Failed | Cancelled
//
// A new run may start when there is no session or the session is in a
// terminal state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoEventChannel is returned when a run is started without an
	// event channel to report through.
	ErrNoEventChannel = errors.New("no event channel")

	// ErrRunInProgress is returned when a run is started while another
	// is still running.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrInvalidArgs is returned when run arguments fail validation.
	ErrInvalidArgs = errors.New("invalid run arguments")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Screen is the view the UI should show.
type Screen int

const (
	ScreenMain Screen = iota
	ScreenEvaluation
	ScreenResults
)

// String returns the string representation.
func (s Screen) String() string {
	switch s {
	case ScreenMain:
		return "main"
	case ScreenEvaluation:
		return "evaluation"
	case ScreenResults:
		return "results"
	default:
		return "unknown"
	}
}

// Launcher executes runs. runner.Runner implements it.
type Launcher interface {
	RunEvaluation(ctx context.Context, runID string, args runner.EvaluationArgs, out events.Sender) error
	RunComparison(ctx context.Context, runID string, args runner.ComparisonArgs, out events.Sender) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Controller owns the current session and the runs behind it.
//
// Thread Safety: NOT safe for concurrent use. All methods must be called
// from the single foreground loop. Background runs communicate only
// through the event channel.
type Controller struct {
	launcher Launcher
	out      events.Sender
	logger   *slog.Logger
	newID    func() string

	session *Session
	screen  Screen
	status  string
	toast   string

	wg sync.WaitGroup
}

var validate = validator.New()

// NewController creates a controller.
//
// Inputs:
//   - launcher: Executes runs.
//   - out: Event channel the runs report through. May be nil, in which
//     case every Start call fails with ErrNoEventChannel.
func NewController(launcher Launcher, out events.Sender, opts ...Option) *Controller {
	c := &Controller{
		launcher: launcher,
		out:      out,
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current session, or nil if none was ever started.
func (c *Controller) Session() *Session { return c.session }

// Screen returns the screen the UI should show.
func (c *Controller) Screen() Screen { return c.screen }

// SetScreen switches the visible screen, e.g. when the user leaves the
// results view.
func (c *Controller) SetScreen(s Screen) { c.screen = s }

// Status returns the one-line status message.
func (c *Controller) Status() string { return c.status }

// Toast returns the pending user-visible notice, if any.
func (c *Controller) Toast() string { return c.toast }

// ClearToast dismisses the pending notice.
func (c *Controller) ClearToast() { c.toast = "" }

// -----------------------------------------------------------------------------
// Starting Runs
// -----------------------------------------------------------------------------

// StartEvaluation launches a single-variant run and returns immediately.
//
// Outputs:
//   - string: The run ID.
//   - error: ErrNoEventChannel, ErrRunInProgress or ErrInvalidArgs. A
//     toast describing the failure is set in every case.
func (c *Controller) StartEvaluation(args runner.EvaluationArgs) (string, error) {
	if err := c.checkStart(args); err != nil {
		return "", err
	}
	return c.launch(report.KindEvaluation, func(ctx context.Context, runID string) error {
		return c.launcher.RunEvaluation(ctx, runID, args, c.out)
	}), nil
}

// StartComparison launches an A/B run and returns immediately.
//
// Outputs are as for StartEvaluation.
func (c *Controller) StartComparison(args runner.ComparisonArgs) (string, error) {
	if err := c.checkStart(args); err != nil {
		return "", err
	}
	if args.A.Name == args.B.Name {
		return "", c.reject(fmt.Errorf("%w: variants A and B are both %q", ErrInvalidArgs, args.A.Name))
	}
	return c.launch(report.KindComparison, func(ctx context.Context, runID string) error {
		return c.launcher.RunComparison(ctx, runID, args, c.out)
	}), nil
}

func (c *Controller) checkStart(args any) error {
	if c.out == nil {
		return c.reject(ErrNoEventChannel)
	}
	if c.session != nil && c.session.State() == StateRunning {
		return c.reject(ErrRunInProgress)
	}
	if err := validate.Struct(args); err != nil {
		return c.reject(fmt.Errorf("%w: %v", ErrInvalidArgs, err))
	}
	return nil
}

func (c *Controller) reject(err error) error {
	c.toast = "Cannot start evaluation: " + err.Error()
	c.logger.Warn("run rejected", slog.String("error", err.Error()))
	return err
}

func (c *Controller) launch(kind report.Kind, run func(ctx context.Context, runID string) error) string {
	runID := c.newID()
	ctx, cancel := context.WithCancel(context.Background())
	handle := newCancelHandle(cancel)

	c.session = newSession(runID, kind, handle)
	c.screen = ScreenEvaluation
	c.status = "Starting " + string(kind) + "..."
	c.toast = ""

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer handle.finish()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				msg := fmt.Sprintf("evaluation aborted: %v", p)
				c.logger.Error("run panicked", slog.String("run_id", runID), slog.Any("panic", p))
				if err := c.out.Send(events.NewError(runID, msg)); err != nil {
					c.logger.Warn("error event not delivered", slog.String("run_id", runID), slog.String("error", err.Error()))
				}
			}
		}()
		if err := run(ctx, runID); err != nil {
			c.logger.Debug("run returned error", slog.String("run_id", runID), slog.String("error", err.Error()))
		}
	}()

	c.logger.Info("run started", slog.String("run_id", runID), slog.String("kind", string(kind)))
	return runID
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// HandleEvent folds ev into the session.
//
// Description:
//
//	Events are ignored when there is no session, when they belong to a
//	different run, or when the session is no longer running (a cancelled
//	run may still report its in-flight task).
//
// Outputs:
//   - bool: True if the event changed the session.
func (c *Controller) HandleEvent(ev events.Event) bool {
	s := c.session
	if s == nil || ev.RunID != s.RunID || s.State() != StateRunning {
		return false
	}

	switch ev.Kind {
	case events.KindProgress:
		if ev.Progress == nil {
			return false
		}
		s.Progress = *ev.Progress
		c.status = ev.Progress.Status()

	case events.KindComplete:
		s.phase = Completed{Results: ev.Results}
		c.screen = ScreenResults
		c.status = completionStatus(ev.Results)

	case events.KindError:
		s.phase = Failed{Message: ev.Message}
		c.screen = ScreenMain
		c.status = "Evaluation failed: " + ev.Message
		c.toast = c.status

	default:
		return false
	}
	return true
}

func completionStatus(r *report.Report) string {
	if r == nil || len(r.Batches) == 0 {
		return "Evaluation complete"
	}
	if r.Comparison != nil {
		return fmt.Sprintf("Comparison complete: %s", r.Comparison.Recommendation.Description())
	}
	b := r.Batches[0]
	return fmt.Sprintf("Evaluation complete: %s solved %.1f%% of %d tasks", b.ConfigName, b.Accuracy, len(b.Tasks))
}

// -----------------------------------------------------------------------------
// Cancellation
// -----------------------------------------------------------------------------

// CancelEvaluation requests cancellation of the running run.
//
// Description:
//
//	Takes the cancel handle out of the session, requests cancellation
//	and returns the UI to the main screen without waiting for the run to
//	stop. With no session or no handle it does nothing.
func (c *Controller) CancelEvaluation() {
	if c.session == nil {
		return
	}
	h := c.session.TakeHandle()
	if h == nil {
		return
	}
	h.Cancel()
	c.session.phase = Cancelled{}
	c.screen = ScreenMain
	c.status = "Evaluation cancelled"
	c.logger.Info("run cancelled", slog.String("run_id", c.session.RunID))
}

// Wait blocks until every background run started by c has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}
