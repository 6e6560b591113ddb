// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
	"github.com/AleutianAI/AleutianEval/services/eval/session"
)

var (
	errRunCancelled = errors.New("evaluation cancelled")
	errRunFailed    = errors.New("evaluation failed")
)

// outputFlags controls how a finished report is printed.
type outputFlags struct {
	json      bool
	showTasks bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&o.showTasks, "tasks", false, "include the per-task table")
}

func (o *outputFlags) writer(noColor bool) report.Writer {
	w := report.Writer{Format: report.FormatText, NoColor: noColor, ShowTasks: o.showTasks}
	if o.json {
		w.Format = report.FormatJSON
	}
	return w
}

// -----------------------------------------------------------------------------
// run
// -----------------------------------------------------------------------------

func newRunCmd(a *app) *cobra.Command {
	var (
		variant string
		out     outputFlags
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate one configuration over the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if variant == "" {
				variant = a.cfg.Compare.A
			}
			v, err := a.cfg.Variant(variant)
			if err != nil {
				return err
			}
			sel, err := a.selection()
			if err != nil {
				return err
			}
			args := runner.EvaluationArgs{Selection: sel, Variant: v}
			return a.runForeground(cmd, out, func(c *session.Controller) (string, error) {
				return c.StartEvaluation(args)
			})
		},
	}
	cmd.Flags().StringVarP(&variant, "variant", "v", "", "variant to evaluate (default compare.a from config)")
	a.addSelectionFlags(cmd)
	out.register(cmd)
	return cmd
}

// -----------------------------------------------------------------------------
// compare
// -----------------------------------------------------------------------------

func newCompareCmd(a *app) *cobra.Command {
	var (
		nameA, nameB string
		interactive  bool
		out          outputFlags
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "A/B compare two configurations over the same tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nameA == "" {
				nameA = a.cfg.Compare.A
			}
			if nameB == "" {
				nameB = a.cfg.Compare.B
			}
			if interactive {
				if !isTerminal(cmd.InOrStdin()) {
					return errors.New("--interactive needs a terminal on stdin")
				}
				var err error
				if nameA, nameB, err = pickVariants(a.cfg.VariantNames(), nameA, nameB); err != nil {
					return err
				}
			}
			va, err := a.cfg.Variant(nameA)
			if err != nil {
				return err
			}
			vb, err := a.cfg.Variant(nameB)
			if err != nil {
				return err
			}
			sel, err := a.selection()
			if err != nil {
				return err
			}
			args := runner.ComparisonArgs{Selection: sel, A: va, B: vb}
			return a.runForeground(cmd, out, func(c *session.Controller) (string, error) {
				return c.StartComparison(args)
			})
		},
	}
	cmd.Flags().StringVar(&nameA, "a", "", "baseline variant (default compare.a from config)")
	cmd.Flags().StringVar(&nameB, "b", "", "candidate variant (default compare.b from config)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "pick the variants from a menu")
	a.addSelectionFlags(cmd)
	out.register(cmd)
	return cmd
}

// pickVariants asks for the baseline and candidate variants.
func pickVariants(names []string, defA, defB string) (string, string, error) {
	a, b := defA, defB
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Baseline (A)").
				Options(huh.NewOptions(names...)...).
				Value(&a),
			huh.NewSelect[string]().
				Title("Candidate (B)").
				Options(huh.NewOptions(names...)...).
				Value(&b).
				Validate(func(s string) error {
					if s == a {
						return errors.New("candidate must differ from the baseline")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", err
	}
	return a, b, nil
}

// -----------------------------------------------------------------------------
// Foreground Pump
// -----------------------------------------------------------------------------

// runForeground opens the engine, starts a run through a Controller and
// pumps its events until the session ends. Ctrl+C cancels the run.
func (a *app) runForeground(cmd *cobra.Command, out outputFlags, start func(*session.Controller) (string, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, a.cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			a.logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	q := events.NewQueue()
	defer q.Close()
	ctrl := session.NewController(rt.newRunner(), q, session.WithLogger(a.logger.Slog()))

	s, err := drive(ctx, ctrl, q, start, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return finish(s, out.writer(a.noColor), cmd.OutOrStdout())
}

// drive starts a run and folds its events into ctrl until the session
// reaches a terminal state or ctx is done, in which case the run is
// cancelled. Each finished task is reported on progress.
func drive(ctx context.Context, ctrl *session.Controller, q *events.Queue, start func(*session.Controller) (string, error), progress io.Writer) (*session.Session, error) {
	if _, err := start(ctrl); err != nil {
		return nil, err
	}
	defer ctrl.Wait()

	for {
		ev, err := q.Recv(ctx)
		if err != nil {
			ctrl.CancelEvaluation()
			return ctrl.Session(), nil
		}
		if !ctrl.HandleEvent(ev) {
			continue
		}
		if ev.Kind == events.KindProgress && ev.Progress.LastResult != nil {
			fmt.Fprintln(progress, ctrl.Status())
		}
		if ctrl.Session().State().Terminal() {
			return ctrl.Session(), nil
		}
	}
}

// finish prints the outcome of a session.
func finish(s *session.Session, w report.Writer, out io.Writer) error {
	switch s.State() {
	case session.StateCompleted:
		return w.Write(out, s.Results())
	case session.StateFailed:
		return fmt.Errorf("%w: %s", errRunFailed, s.Error())
	default:
		return errRunCancelled
	}
}
