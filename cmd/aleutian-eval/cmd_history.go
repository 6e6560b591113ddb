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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/services/eval/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, store, err := openStore(a.cfg, a.logger.Slog())
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return writeHistory(cmd.OutOrStdout(), runs, a.noColor)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var out outputFlags
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, store, err := openStore(a.cfg, a.logger.Slog())
			if err != nil {
				return err
			}
			defer db.Close()

			r, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return out.writer(a.noColor).Write(cmd.OutOrStdout(), r)
		},
	}
	out.register(cmd)
	return cmd
}

func writeHistory(w io.Writer, runs []storage.RunSummary, noColor bool) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs stored yet.")
		return err
	}

	t := table.New().
		Headers("Run", "Kind", "Dataset", "Started", "Configs", "Accuracy", "Recommendation")
	if !noColor {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240")))
	}
	for _, r := range runs {
		acc := make([]string, len(r.Accuracy))
		for i, v := range r.Accuracy {
			acc[i] = fmt.Sprintf("%.1f%%", v)
		}
		t.Row(
			r.RunID,
			string(r.Kind),
			r.Dataset,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(r.Configs, " vs "),
			strings.Join(acc, " / "),
			r.Recommendation,
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
