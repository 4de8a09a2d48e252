// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads catsim configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/validation"
	"github.com/AleutianAI/AleutianCAT/services/simulation"
)

var (
	// ErrInvalidConfig indicates a configuration file failing validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoRespondents indicates neither a respondent list nor a count.
	ErrNoRespondents = errors.New("no respondents configured")
)

// Load reads the simulation configuration at path over DefaultConfig.
//
// Description:
//
//	Unknown keys are rejected so that a misspelled option fails loudly.
//	A relative corpus path is resolved against the directory holding the
//	configuration file.
//
// Inputs:
//
//	path - YAML configuration file.
//
// Outputs:
//
//	*SimulationConfig - The merged configuration.
//	error - Read, parse, or validation failure (wraps ErrInvalidConfig).
func Load(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Corpus.Path != "" && !filepath.IsAbs(cfg.Corpus.Path) {
		cfg.Corpus.Path = filepath.Join(filepath.Dir(path), cfg.Corpus.Path)
	}
	return cfg, nil
}

// Parse decodes and validates configuration bytes over DefaultConfig.
func Parse(data []byte) (*SimulationConfig, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the simulation runner cannot check itself.
func (c *SimulationConfig) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(c.Plan.Cats) == 0 {
		return fmt.Errorf("%w: at least one cat is required", ErrInvalidConfig)
	}
	if err := validation.ValidateCatNames(c.CatNames()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Respondents.Count == 0 && len(c.Respondents.List) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNoRespondents)
	}
	return nil
}

// CatNames returns the configured cat names, sorted.
func (c *SimulationConfig) CatNames() []string {
	return slices.Sorted(maps.Keys(c.Plan.Cats))
}

// BuildPlan loads the corpus and returns the plan ready for
// simulation.NewRunner.
func (c *SimulationConfig) BuildPlan() (simulation.Plan, error) {
	items, err := LoadCorpus(c.Corpus, c.CatNames())
	if err != nil {
		return simulation.Plan{}, err
	}
	plan := c.Plan
	plan.Corpus = items
	return plan, nil
}

// BuildRespondents returns the listed respondents, or a generated population
// seeded from the plan's random seed.
func (c *SimulationConfig) BuildRespondents() []simulation.Respondent {
	if len(c.Respondents.List) > 0 {
		return slices.Clone(c.Respondents.List)
	}
	seed := ""
	if c.Plan.RandomSeed != "" {
		seed = c.Plan.RandomSeed + "/respondents"
	}
	return simulation.GenerateRespondents(c.Respondents.Count, c.CatNames(), c.Respondents.Mean, c.Respondents.SD, seed)
}

// LoadCorpus reads cfg.Path and prepares its rows for catNames. Parameters
// absent from a cat's columns take their defaults, so every prepared
// parameter set is complete.
func LoadCorpus(cfg CorpusConfig, catNames []string) ([]corpus.Item, error) {
	records, err := corpus.LoadCSVFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	items, err := corpus.Prepare(records, corpus.PrepareOptions{
		CatNames:  catNames,
		Delimiter: cfg.Delimiter,
		Format:    cfg.Format,
		IDKey:     cfg.IDKey,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare corpus %s: %w", cfg.Path, err)
	}
	if err := corpus.CheckNoDuplicateCatNames(items); err != nil {
		return nil, fmt.Errorf("prepare corpus %s: %w", cfg.Path, err)
	}
	for i := range items {
		for j, zm := range items[i].Zetas {
			items[i].Zetas[j].Zeta = corpus.FillDefaults(zm.Zeta, cfg.Format)
		}
	}
	return items, nil
}
