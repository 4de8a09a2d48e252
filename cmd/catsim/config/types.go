// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/logging"
	"github.com/AleutianAI/AleutianCAT/pkg/telemetry"
	"github.com/AleutianAI/AleutianCAT/services/simulation"
)

// SimulationConfig is the catsim simulate configuration file.
//
// The simulation plan (cats, early_stopping, random_seed, max_items,
// select_order, cats_to_update, corpus_to_select_from, mixing,
// exhaustion) sits at the top level; the corpus itself is loaded from
// Corpus.Path.
type SimulationConfig struct {
	// Plan is validated by simulation.NewRunner once the corpus is loaded.
	Plan simulation.Plan `yaml:",inline" validate:"-"`

	// RunID labels every trial row. Default: a random UUID.
	RunID string `yaml:"run_id,omitempty"`

	// Concurrency bounds respondents in flight. 0 means GOMAXPROCS.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`

	Corpus      CorpusConfig      `yaml:"corpus"`
	Respondents RespondentsConfig `yaml:"respondents"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   telemetry.Config  `yaml:"telemetry" validate:"-"`
}

// CorpusConfig locates and parses the item bank.
type CorpusConfig struct {
	// Path is the CSV file. Relative paths resolve against the config
	// file's directory.
	Path string `yaml:"path" validate:"required"`

	// Delimiter separates cat and parameter in column names ("cat1.a").
	Delimiter string `yaml:"delimiter" validate:"required"`

	// Format is the parameter naming format of the prepared items.
	Format corpus.Format `yaml:"format"`

	// IDKey names the identifier column.
	IDKey string `yaml:"id_key" validate:"required"`
}

// RespondentsConfig either lists respondents or describes a generated
// population.
type RespondentsConfig struct {
	// Count respondents are generated when List is empty.
	Count int     `yaml:"count" validate:"gte=0"`
	Mean  float64 `yaml:"mean"`
	SD    float64 `yaml:"sd" validate:"gte=0"`

	// List gives explicit respondents, with true thetas or response
	// matrices.
	List []simulation.Respondent `yaml:"list,omitempty" validate:"omitempty,dive"`
}

// OutputConfig names result files. Empty disables each output; "-" writes
// trials to stdout.
type OutputConfig struct {
	TrialsCSV   string `yaml:"trials_csv"`
	MetricsFile string `yaml:"metrics_file"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level logging.Level `yaml:"level"`
	Dir   string        `yaml:"dir"`
	JSON  bool          `yaml:"json"`
}

// DefaultConfig returns the values a configuration file starts from.
func DefaultConfig() SimulationConfig {
	tel := telemetry.DefaultConfig()
	return SimulationConfig{
		Corpus: CorpusConfig{
			Delimiter: ".",
			Format:    corpus.Symbolic,
			IDKey:     corpus.DefaultIDKey,
		},
		Respondents: RespondentsConfig{
			Count: 100,
			Mean:  0,
			SD:    1,
		},
		Output: OutputConfig{
			TrialsCSV: "-",
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
		Telemetry: tel,
	}
}
