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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/logging"
	"github.com/AleutianAI/AleutianCAT/services/cat"
	"github.com/AleutianAI/AleutianCAT/services/clowder"
	"github.com/AleutianAI/AleutianCAT/services/stopping"
)

const testCorpus = `id,cat1.a,cat1.b,cat2.b,content
q1,1.2,-1,0.5,first
q2,0.8,0,NA,second
q3,1.0,1,,third
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
cats:
  cat1: {}
corpus:
  path: items.csv
`))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Respondents.Count)
	assert.Equal(t, 1.0, cfg.Respondents.SD)
	assert.Equal(t, ".", cfg.Corpus.Delimiter)
	assert.Equal(t, corpus.DefaultIDKey, cfg.Corpus.IDKey)
	assert.Equal(t, "-", cfg.Output.TrialsCSV)
	assert.Equal(t, logging.LevelInfo, cfg.Logging.Level)
	assert.Equal(t, "catsim", cfg.Telemetry.ServiceName)
	assert.Equal(t, []string{"cat1"}, cfg.CatNames())
	assert.Nil(t, cfg.Plan.EarlyStopping)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
run_id: nightly
concurrency: 8
random_seed: abc
max_items: 20
cats:
  math:
    method: eap
    item_select: closest
    n_start_items: 2
    start_select: random
    prior_dist: uniform
    prior_par: [-3, 3]
  reading: {}
select_order: [math, unvalidated]
cats_to_update: [math, reading]
mixing: proportional
exhaustion: random-missing
early_stopping:
  kind: se-threshold
  logical_operation: and
  patience: {math: 2}
  se_measurement_threshold: {math: 0.3, reading: 0.4}
corpus:
  path: bank.csv
  delimiter: _
  format: semantic
respondents:
  list:
    - id: r1
      true_theta: {math: 1.5}
    - id: r2
      responses: {q1: 1}
output:
  trials_csv: trials.csv
  metrics_file: run.prom
logging:
  level: debug
  json: true
telemetry:
  trace_exporter: stdout
`))
	require.NoError(t, err)

	assert.Equal(t, "nightly", cfg.RunID)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "abc", cfg.Plan.RandomSeed)
	assert.Equal(t, 20, cfg.Plan.MaxItems)

	math := cfg.Plan.Cats["math"]
	assert.Equal(t, cat.MethodEAP, math.Method)
	assert.Equal(t, cat.SelectClosest, math.ItemSelect)
	assert.Equal(t, cat.SelectRandom, math.StartSelect)
	assert.Equal(t, 2, math.NStartItems)
	assert.Equal(t, cat.PriorUniform, math.PriorDist)
	assert.Equal(t, []float64{-3, 3}, math.PriorPar)

	assert.Equal(t, []string{"math", clowder.ReservedCatName}, cfg.Plan.SelectOrder)
	assert.Equal(t, clowder.MixProportional, cfg.Plan.Mixing)
	assert.Equal(t, clowder.ExhaustionRandomMissing, cfg.Plan.Exhaustion)

	require.NotNil(t, cfg.Plan.EarlyStopping)
	assert.Equal(t, stopping.KindSEThreshold, cfg.Plan.EarlyStopping.Kind)
	assert.Equal(t, stopping.OperationAnd, cfg.Plan.EarlyStopping.LogicalOperation)
	assert.Equal(t, map[string]int{"math": 2}, cfg.Plan.EarlyStopping.Patience)

	assert.Equal(t, corpus.Semantic, cfg.Corpus.Format)
	assert.Equal(t, "_", cfg.Corpus.Delimiter)
	require.Len(t, cfg.Respondents.List, 2)
	assert.Equal(t, 1.5, cfg.Respondents.List[0].TrueTheta["math"])

	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "catsim", cfg.Telemetry.ServiceName, "unset telemetry fields keep defaults")

	assert.Len(t, cfg.BuildRespondents(), 2)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nrespondent_count: 3\n"},
		{"no cats", "corpus: {path: x.csv}\n"},
		{"reserved cat", "cats: {unvalidated: {}}\ncorpus: {path: x.csv}\n"},
		{"no corpus path", "cats: {cat1: {}}\n"},
		{"no respondents", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nrespondents: {count: 0}\n"},
		{"negative concurrency", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nconcurrency: -1\n"},
		{"negative sd", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nrespondents: {sd: -1}\n"},
		{"respondent without id", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nrespondents: {list: [{true_theta: {cat1: 1}}]}\n"},
		{"bad method", "cats: {cat1: {method: bayes}}\ncorpus: {path: x.csv}\n"},
		{"bad stopping kind", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nearly_stopping: {kind: never}\n"},
		{"bad log level", "cats: {cat1: {}}\ncorpus: {path: x.csv}\nlogging: {level: loud}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("corpus: {path: x.csv}\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte("cats: {cat1: {}}\ncorpus: {path: x.csv}\nrespondents: {count: 0}\n"))
	assert.ErrorIs(t, err, ErrNoRespondents)
}

func TestLoad_BuildPlan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "items.csv", testCorpus)
	path := writeFile(t, dir, "sim.yaml", `
random_seed: seed
cats:
  cat1: {}
  cat2: {method: eap}
corpus:
  path: items.csv
respondents:
  count: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "items.csv"), cfg.Corpus.Path)

	plan, err := cfg.BuildPlan()
	require.NoError(t, err)
	require.Len(t, plan.Corpus, 3)

	q1 := plan.Corpus[0]
	assert.Equal(t, "q1", q1.ID)
	assert.True(t, q1.HasCat("cat1"))
	assert.True(t, q1.HasCat("cat2"))
	assert.Equal(t, "first", q1.Metadata["content"])

	assert.True(t, plan.Corpus[1].HasCat("cat1"))
	assert.False(t, plan.Corpus[1].HasCat("cat2"), "NA drops the cat2 group")
	assert.False(t, plan.Corpus[2].HasCat("cat2"), "empty group is omitted")

	first := cfg.BuildRespondents()
	second := cfg.BuildRespondents()
	require.Len(t, first, 5)
	assert.Equal(t, first, second, "seeded respondents are reproducible")
	assert.Contains(t, first[0].TrueTheta, "cat2")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	path := writeFile(t, dir, "sim.yaml", "cats: {cat1: {}}\ncorpus: {path: nowhere.csv}\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	_, err = cfg.BuildPlan()
	assert.Error(t, err)
}

func TestLoadCorpus_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "bank.csv", "item,m_a,m_b\nx,1,0\n")

	items, err := LoadCorpus(CorpusConfig{Path: csvPath, Delimiter: "_", IDKey: "item", Format: corpus.Semantic}, []string{"m"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].ID)

	zeta, ok := items[0].ZetaFor("m")
	require.True(t, ok)
	assert.Contains(t, zeta, "discrimination")
	assert.Contains(t, zeta, "difficulty")
	assert.Equal(t, 0.0, zeta["guessing"], "absent parameters take defaults")
	assert.Equal(t, 1.0, zeta["slipping"])
}
