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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCAT/cmd/catsim/config"
	"github.com/AleutianAI/AleutianCAT/pkg/telemetry"
	"github.com/AleutianAI/AleutianCAT/services/simulation"
)

type simulateFlags struct {
	configPath    string
	out           string
	metricsFile   string
	traceExporter string
	seed          string
	concurrency   int
	respondents   int
}

func newSimulateCmd(gf *globalFlags) *cobra.Command {
	var f simulateFlags

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulation described by a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, gf, &f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "simulation YAML file (required)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", `trial CSV path, "-" for stdout (overrides output.trials_csv)`)
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	cmd.Flags().StringVar(&f.traceExporter, "trace-exporter", "", "trace exporter: none, stdout, otlp")
	cmd.Flags().StringVar(&f.seed, "seed", "", "random seed (overrides random_seed)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "respondents in flight (overrides concurrency)")
	cmd.Flags().IntVar(&f.respondents, "respondents", 0, "generated respondent count (overrides respondents.count)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// applyOverrides copies explicitly set flags over the file values.
func (f *simulateFlags) applyOverrides(cmd *cobra.Command, cfg *config.SimulationConfig) {
	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Output.TrialsCSV = f.out
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile = f.metricsFile
	}
	if flags.Changed("trace-exporter") {
		cfg.Telemetry.TraceExporter = f.traceExporter
	}
	if flags.Changed("seed") {
		cfg.Plan.RandomSeed = f.seed
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if flags.Changed("respondents") {
		cfg.Respondents.Count = f.respondents
		cfg.Respondents.List = nil
	}
}

func runSimulate(cmd *cobra.Command, gf *globalFlags, f *simulateFlags) error {
	ctx := cmd.Context()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.applyOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cmd, gf, cfg.Logging.Level, cfg.Logging.Dir, cfg.Logging.JSON)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	plan, err := cfg.BuildPlan()
	if err != nil {
		return err
	}
	respondents := cfg.BuildRespondents()

	runner, err := simulation.NewRunner(plan, simulation.Options{
		Concurrency: cfg.Concurrency,
		RunID:       cfg.RunID,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	log.Info("simulation starting",
		"run_id", runner.RunID(),
		"cats", cfg.CatNames(),
		"items", len(plan.Corpus),
		"respondents", len(respondents),
	)

	results, err := runner.Run(ctx, respondents)
	if err != nil {
		return err
	}

	if err := writeTrials(cmd.OutOrStdout(), cfg.Output.TrialsCSV, results); err != nil {
		return err
	}
	if cfg.Output.MetricsFile != "" {
		if err := telemetry.WriteMetricsFile(cfg.Output.MetricsFile, nil); err != nil {
			return err
		}
	}

	log.Info("simulation finished", summarize(results)...)
	return nil
}

func writeTrials(stdout io.Writer, path string, results []simulation.Result) error {
	switch path {
	case "":
		return nil
	case "-":
		return simulation.WriteCSV(stdout, results)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trials file: %w", err)
	}
	if err := simulation.WriteCSV(file, results); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// summarize returns slog args with the mean test length and stop reasons.
func summarize(results []simulation.Result) []any {
	reasons := make(map[string]int)
	trials := 0
	for _, res := range results {
		trials += len(res.Trials)
		reasons[res.StopReason]++
	}
	mean := 0.0
	if len(results) > 0 {
		mean = float64(trials) / float64(len(results))
	}
	return []any{
		"respondents", len(results),
		"trials", trials,
		"mean_test_length", mean,
		"stop_reasons", reasons,
	}
}
