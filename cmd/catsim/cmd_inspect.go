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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCAT/cmd/catsim/config"
	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/logging"
	"github.com/AleutianAI/AleutianCAT/pkg/validation"
)

type inspectFlags struct {
	corpus config.CorpusConfig
	format string
	cats   []string
}

func newInspectCorpusCmd(gf *globalFlags) *cobra.Command {
	f := inspectFlags{corpus: config.DefaultConfig().Corpus}

	cmd := &cobra.Command{
		Use:   "inspect-corpus",
		Short: "Prepare an item bank and report per-cat availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspectCorpus(cmd, gf, &f)
		},
	}
	cmd.Flags().StringVar(&f.corpus.Path, "corpus", "", "item bank CSV (required)")
	cmd.Flags().StringSliceVar(&f.cats, "cats", nil, "comma-separated cat names (required)")
	cmd.Flags().StringVar(&f.corpus.Delimiter, "delimiter", f.corpus.Delimiter, "separator between cat and parameter in column names")
	cmd.Flags().StringVar(&f.corpus.IDKey, "id-key", f.corpus.IDKey, "identifier column")
	cmd.Flags().StringVar(&f.format, "format", "symbolic", "parameter format: symbolic or semantic")
	_ = cmd.MarkFlagRequired("corpus")
	_ = cmd.MarkFlagRequired("cats")
	return cmd
}

func runInspectCorpus(cmd *cobra.Command, gf *globalFlags, f *inspectFlags) error {
	logger, err := newLogger(cmd, gf, logging.LevelInfo, "", false)
	if err != nil {
		return err
	}
	defer logger.Close()

	if err := validation.ValidateCatNames(f.cats); err != nil {
		return err
	}
	format, err := corpus.ParseFormat(f.format)
	if err != nil {
		return err
	}
	f.corpus.Format = format

	items, err := config.LoadCorpus(f.corpus, f.cats)
	if err != nil {
		return err
	}
	logger.Slog().Debug("corpus prepared", "path", f.corpus.Path, "items", len(items))

	unvalidated := 0
	for _, it := range items {
		if !it.Validated() {
			unvalidated++
		}
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "items\t%d\n", len(items))
	fmt.Fprintf(tw, "unvalidated\t%d\n", unvalidated)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "CAT\tAVAILABLE\tMISSING")
	for _, name := range f.cats {
		available, missing := corpus.FilterByCatAvailability(items, name)
		fmt.Fprintf(tw, "%s\t%d\t%d\n", name, len(available), len(missing))
	}
	return tw.Flush()
}
