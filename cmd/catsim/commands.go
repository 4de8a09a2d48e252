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
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCAT/pkg/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel string
	logDir   string
	json     bool
}

func newRootCmd() *cobra.Command {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:   "catsim",
		Short: "Simulate computerized adaptive tests",
		Long: `catsim drives multi-cat adaptive tests over an item bank with
simulated respondents and writes one CSV row per administered item.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&gf.logDir, "log-dir", "", "also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&gf.json, "json", false, "log JSON to stderr (default when stderr is not a terminal)")

	rootCmd.AddCommand(
		newSimulateCmd(&gf),
		newInspectCorpusCmd(&gf),
	)
	return rootCmd
}

// newLogger builds the process logger. Flags win over file settings;
// stderr gets JSON unless it is a terminal.
func newLogger(cmd *cobra.Command, gf *globalFlags, fileLevel logging.Level, fileDir string, fileJSON bool) (*logging.Logger, error) {
	level := fileLevel
	if gf.logLevel != "" {
		parsed, err := logging.ParseLevel(gf.logLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	dir := fileDir
	if gf.logDir != "" {
		dir = gf.logDir
	}

	out := cmd.ErrOrStderr()
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  dir,
		Service: "catsim",
		JSON:    gf.json || fileJSON || !isTerminal(out),
		Output:  out,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
