// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stopping

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Stop After N Items
// =============================================================================

// StopAfterNItems stops once a cat has seen its required number of items.
// Relevant cats are the keys of Input.RequiredItems.
type StopAfterNItems struct {
	base
}

// NewStopAfterNItems validates in and returns the policy.
func NewStopAfterNItems(in Input) (*StopAfterNItems, error) {
	b, err := newBase(string(KindAfterNItems), in)
	if err != nil {
		return nil, err
	}
	return &StopAfterNItems{base: b}, nil
}

// Update implements EarlyStopping.
func (s *StopAfterNItems) Update(cats map[string]Measurement, catToEvaluate string) error {
	return s.update(cats, catToEvaluate, sortedKeys(s.input.RequiredItems), s.satisfied)
}

func (s *StopAfterNItems) satisfied(name string) bool {
	required, ok := s.input.RequiredItems[name]
	if !ok {
		return false
	}
	return s.nItems[name] >= required
}

// =============================================================================
// Stop On SE Plateau
// =============================================================================

// StopOnSEMeasurementPlateau stops once a cat's last Patience standard
// errors all lie within Tolerance of their mean. Relevant cats are the keys
// of Input.Patience.
type StopOnSEMeasurementPlateau struct {
	base
}

// NewStopOnSEMeasurementPlateau validates in and returns the policy.
func NewStopOnSEMeasurementPlateau(in Input) (*StopOnSEMeasurementPlateau, error) {
	b, err := newBase(string(KindSEPlateau), in)
	if err != nil {
		return nil, err
	}
	return &StopOnSEMeasurementPlateau{base: b}, nil
}

// Update implements EarlyStopping.
func (s *StopOnSEMeasurementPlateau) Update(cats map[string]Measurement, catToEvaluate string) error {
	return s.update(cats, catToEvaluate, sortedKeys(s.input.Patience), s.satisfied)
}

func (s *StopOnSEMeasurementPlateau) satisfied(name string) bool {
	patience, ok := s.input.Patience[name]
	if !ok {
		return false
	}
	window := lastN(s.seMeasurements[name], patience)
	if window == nil {
		return false
	}

	var mean float64
	for _, se := range window {
		mean += se
	}
	mean /= float64(len(window))

	tol := s.input.Tolerance[name]
	for _, se := range window {
		if math.Abs(se-mean) > tol {
			return false
		}
	}
	return true
}

// =============================================================================
// Stop If SE Below Threshold
// =============================================================================

// StopIfSEMeasurementBelowThreshold stops once a cat's last Patience
// standard errors are all at or below Threshold plus Tolerance.
//
// Relevant cats are the union of the keys of Input.Patience and
// Input.SEMeasurementThreshold. Missing values default to patience 1,
// threshold 0 and tolerance 0.
type StopIfSEMeasurementBelowThreshold struct {
	base
}

// NewStopIfSEMeasurementBelowThreshold validates in and returns the policy.
func NewStopIfSEMeasurementBelowThreshold(in Input) (*StopIfSEMeasurementBelowThreshold, error) {
	b, err := newBase(string(KindSEThreshold), in)
	if err != nil {
		return nil, err
	}
	return &StopIfSEMeasurementBelowThreshold{base: b}, nil
}

// Update implements EarlyStopping.
func (s *StopIfSEMeasurementBelowThreshold) Update(cats map[string]Measurement, catToEvaluate string) error {
	relevant := sortedKeys(s.input.Patience)
	for _, k := range sortedKeys(s.input.SEMeasurementThreshold) {
		if _, ok := s.input.Patience[k]; !ok {
			relevant = append(relevant, k)
		}
	}
	return s.update(cats, catToEvaluate, relevant, s.satisfied)
}

func (s *StopIfSEMeasurementBelowThreshold) satisfied(name string) bool {
	patience, ok := s.input.Patience[name]
	if !ok {
		patience = 1
	}
	window := lastN(s.seMeasurements[name], patience)
	if window == nil {
		return false
	}

	limit := s.input.SEMeasurementThreshold[name] + s.input.Tolerance[name]
	for _, se := range window {
		if se > limit {
			return false
		}
	}
	return true
}

// =============================================================================
// Factory
// =============================================================================

// Kind names a policy for configuration files.
type Kind string

const (
	// KindAfterNItems selects StopAfterNItems.
	KindAfterNItems Kind = "after-n-items"

	// KindSEPlateau selects StopOnSEMeasurementPlateau.
	KindSEPlateau Kind = "se-plateau"

	// KindSEThreshold selects StopIfSEMeasurementBelowThreshold.
	KindSEThreshold Kind = "se-threshold"
)

// ParseKind parses a policy kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAfterNItems, KindSEPlateau, KindSEThreshold:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseKind(value.Value)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Config is the file form of a policy: a kind plus its input.
type Config struct {
	Kind  Kind `yaml:"kind"`
	Input `yaml:",inline"`
}

// New builds the policy named by kind.
func New(kind Kind, in Input) (EarlyStopping, error) {
	var (
		policy EarlyStopping
		err    error
	)
	switch kind {
	case KindAfterNItems:
		policy, err = NewStopAfterNItems(in)
	case KindSEPlateau:
		policy, err = NewStopOnSEMeasurementPlateau(in)
	case KindSEThreshold:
		policy, err = NewStopIfSEMeasurementBelowThreshold(in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return policy, nil
}

// Build builds the policy described by cfg.
func (cfg Config) Build() (EarlyStopping, error) {
	return New(cfg.Kind, cfg.Input)
}
