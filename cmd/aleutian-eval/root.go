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
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/eval/config"
	"github.com/AleutianAI/AleutianEval/services/eval/dataset"
	"github.com/AleutianAI/AleutianEval/services/eval/runner"
)

// app holds state shared by every subcommand once the root pre-run has
// loaded the configuration.
type app struct {
	// Persistent flags
	configPath string
	logLevel   string
	noColor    bool

	// Selection flags shared by run, compare and tui
	datasetPath string
	limit       int
	complexity  string

	cfg    config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "aleutian-eval",
		Short: "Evaluate and A/B compare coding-agent configurations",
		Long: `aleutian-eval runs a dataset of coding tasks against one or two agent
configurations, records per-task metrics and decides with Welch's t-test
whether a candidate configuration should replace the baseline.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian/eval.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCmd(a),
		newCompareCmd(a),
		newHistoryCmd(a),
		newShowCmd(a),
		newServeCmd(a),
		newTUICmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "aleutian-eval",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		logger.Warn("File logging disabled", "error", err)
	}
	a.logger = logger
	logger.SetDefault()

	if !isTerminal(cmd.OutOrStdout()) {
		a.noColor = true
	}
	return nil
}

// isTerminal reports whether stream, a reader or writer, is a terminal.
func isTerminal(stream any) bool {
	f, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// addSelectionFlags registers --dataset, --limit and --complexity.
func (a *app) addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.datasetPath, "dataset", "", "dataset file (default from config)")
	cmd.Flags().IntVar(&a.limit, "limit", -1, "maximum tasks per batch, 0 for all (default from config)")
	cmd.Flags().StringVar(&a.complexity, "complexity", "", "only run tasks of this complexity (simple, medium, complex)")
}

// selection merges the selection flags over the configuration.
func (a *app) selection() (runner.Selection, error) {
	sel := runner.Selection{
		DatasetPath: a.cfg.Dataset,
		Limit:       a.cfg.Limit,
		Complexity:  a.cfg.Complexity,
	}
	if a.datasetPath != "" {
		sel.DatasetPath = a.datasetPath
	}
	if a.limit >= 0 {
		sel.Limit = a.limit
	}
	if a.complexity != "" {
		switch c := dataset.Complexity(a.complexity); c {
		case dataset.ComplexitySimple, dataset.ComplexityMedium, dataset.ComplexityComplex:
			sel.Complexity = c
		default:
			return runner.Selection{}, fmt.Errorf("invalid --complexity %q", a.complexity)
		}
	}
	return sel, nil
}
