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
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
	"github.com/AleutianAI/AleutianEval/services/eval/session"
	"github.com/AleutianAI/AleutianEval/services/eval/tui"
)

func newTUICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive console for evaluations and comparisons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := a.selection()
			if err != nil {
				return err
			}
			va, err := a.cfg.Variant(a.cfg.Compare.A)
			if err != nil {
				return err
			}
			vb, err := a.cfg.Variant(a.cfg.Compare.B)
			if err != nil {
				return err
			}

			// Console output would corrupt the alt screen; keep the file log.
			quiet, err := logging.New(logging.Config{
				Level:   logging.LevelInfo,
				LogDir:  a.cfg.Logging.Dir,
				Service: "aleutian-eval",
				Quiet:   true,
				Output:  io.Discard,
			})
			if err != nil {
				a.logger.Warn("TUI file logging disabled", "error", err)
			}
			defer quiet.Close()
			quiet.SetDefault()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := openRuntime(ctx, a.cfg, quiet.Slog())
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			q := events.NewQueue()
			defer q.Close()
			ctrl := session.NewController(rt.newRunner(), q, session.WithLogger(quiet.Slog()))
			defer ctrl.Wait()

			model := tui.NewModel(ctx, ctrl, q, tui.Options{
				Evaluation: runner.EvaluationArgs{Selection: sel, Variant: va},
				Comparison: runner.ComparisonArgs{Selection: sel, A: va, B: vb},
				NoColor:    a.noColor,
			})
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			ctrl.CancelEvaluation()
			return err
		},
	}
	a.addSelectionFlags(cmd)
	return cmd
}
