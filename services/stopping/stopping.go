// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stopping provides early-stopping policies for multi-cat sessions.
//
// A policy observes each cat's item count and standard error after every
// update, evaluates a per-cat condition for the cats it is configured for,
// and combines the results with a logical operation:
//
//   - OR: any relevant cat's condition holds (default).
//   - AND: every relevant cat's condition holds.
//   - ONLY: the condition of the cat being selected for holds.
//
// Once a policy reports a stop it keeps reporting it for the rest of its
// lifetime. There is no reset.
package stopping

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCAT/pkg/validation"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidLogicalOperation indicates an unknown logical operation.
	ErrInvalidLogicalOperation = errors.New("invalid logical operation")

	// ErrInvalidInput indicates an early stopping input failing validation.
	ErrInvalidInput = errors.New("invalid early stopping input")

	// ErrMissingCatToEvaluate indicates ONLY mode without a cat to evaluate.
	ErrMissingCatToEvaluate = errors.New("must provide a cat to evaluate when using the 'only' logical operation")

	// ErrInvalidKind indicates an unknown policy kind.
	ErrInvalidKind = errors.New("invalid early stopping kind")
)

// =============================================================================
// Logical Operation
// =============================================================================

// LogicalOperation combines per-cat stop conditions.
type LogicalOperation int

const (
	// OperationOr stops when any relevant cat's condition holds.
	OperationOr LogicalOperation = iota

	// OperationAnd stops when every relevant cat's condition holds.
	OperationAnd

	// OperationOnly stops when the evaluated cat's condition holds.
	OperationOnly
)

// String returns "or", "and" or "only".
func (op LogicalOperation) String() string {
	switch op {
	case OperationOr:
		return "or"
	case OperationAnd:
		return "and"
	case OperationOnly:
		return "only"
	default:
		return fmt.Sprintf("LogicalOperation(%d)", int(op))
	}
}

// ParseLogicalOperation parses "and", "or" or "only", case-insensitively.
// The empty string parses to OperationOr.
func ParseLogicalOperation(s string) (LogicalOperation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or":
		return OperationOr, nil
	case "and":
		return OperationAnd, nil
	case "only":
		return OperationOnly, nil
	default:
		return OperationOr, fmt.Errorf("%w: expected one of 'and', 'or', or 'only', received %q", ErrInvalidLogicalOperation, s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (op LogicalOperation) MarshalYAML() (any, error) {
	return op.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (op *LogicalOperation) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseLogicalOperation(value.Value)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// =============================================================================
// Input
// =============================================================================

// Input configures an early stopping policy. Every map is keyed by cat name.
type Input struct {
	// Patience is the number of most recent SE measurements inspected.
	Patience map[string]int `yaml:"patience,omitempty" validate:"omitempty,dive,keys,catname,endkeys,gte=1"`

	// Tolerance widens the plateau band or the threshold. Default 0.
	Tolerance map[string]float64 `yaml:"tolerance,omitempty" validate:"omitempty,dive,keys,catname,endkeys,gte=0"`

	// RequiredItems is the item count at which a cat stops.
	RequiredItems map[string]int `yaml:"required_items,omitempty" validate:"omitempty,dive,keys,catname,endkeys,gte=0"`

	// SEMeasurementThreshold is the SE at or below which a cat stops.
	SEMeasurementThreshold map[string]float64 `yaml:"se_measurement_threshold,omitempty" validate:"omitempty,dive,keys,catname,endkeys,gte=0"`

	// LogicalOperation combines per-cat conditions. Default OR.
	LogicalOperation LogicalOperation `yaml:"logical_operation" validate:"-"`

	// Logger receives the stop event. Nil discards it.
	Logger *slog.Logger `yaml:"-" validate:"-"`
}

func (in Input) validate() error {
	switch in.LogicalOperation {
	case OperationOr, OperationAnd, OperationOnly:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogicalOperation, in.LogicalOperation)
	}
	if err := validation.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// =============================================================================
// Policy Contract
// =============================================================================

// Measurement is the per-cat summary a policy observes.
type Measurement interface {
	NItems() int
	SEMeasurement() float64
}

// EarlyStopping is the contract shared by all policies.
type EarlyStopping interface {
	// Update ingests each cat's current measurement and re-evaluates the
	// stop condition. catToEvaluate is required in ONLY mode.
	Update(cats map[string]Measurement, catToEvaluate string) error

	// EarlyStop reports whether the policy has triggered.
	EarlyStop() bool

	// NItems returns the last recorded item count per cat.
	NItems() map[string]int

	// SEMeasurements returns the recorded SE history per cat.
	SEMeasurements() map[string][]float64

	// LogicalOperation returns the combination mode.
	LogicalOperation() LogicalOperation
}

// =============================================================================
// Shared State
// =============================================================================

// base holds the measurement history and the one-way stop flag.
type base struct {
	name           string
	input          Input
	nItems         map[string]int
	seMeasurements map[string][]float64
	stopped        bool
	logger         *slog.Logger
}

func newBase(name string, in Input) (base, error) {
	if err := in.validate(); err != nil {
		return base{}, err
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	in.Patience = maps.Clone(in.Patience)
	in.Tolerance = maps.Clone(in.Tolerance)
	in.RequiredItems = maps.Clone(in.RequiredItems)
	in.SEMeasurementThreshold = maps.Clone(in.SEMeasurementThreshold)
	return base{
		name:           name,
		input:          in,
		nItems:         make(map[string]int),
		seMeasurements: make(map[string][]float64),
		logger:         logger,
	}, nil
}

// EarlyStop reports whether the policy has triggered.
func (b *base) EarlyStop() bool { return b.stopped }

// LogicalOperation returns the combination mode.
func (b *base) LogicalOperation() LogicalOperation { return b.input.LogicalOperation }

// Patience returns a copy of the configured patience per cat.
func (b *base) Patience() map[string]int { return maps.Clone(b.input.Patience) }

// Tolerance returns a copy of the configured tolerance per cat.
func (b *base) Tolerance() map[string]float64 { return maps.Clone(b.input.Tolerance) }

// RequiredItems returns a copy of the configured item counts per cat.
func (b *base) RequiredItems() map[string]int { return maps.Clone(b.input.RequiredItems) }

// SEMeasurementThreshold returns a copy of the configured thresholds per cat.
func (b *base) SEMeasurementThreshold() map[string]float64 {
	return maps.Clone(b.input.SEMeasurementThreshold)
}

// NItems returns the last recorded item count per cat.
func (b *base) NItems() map[string]int { return maps.Clone(b.nItems) }

// SEMeasurements returns a copy of the recorded SE history per cat.
func (b *base) SEMeasurements() map[string][]float64 {
	out := make(map[string][]float64, len(b.seMeasurements))
	for k, v := range b.seMeasurements {
		out[k] = slices.Clone(v)
	}
	return out
}

// record appends a cat's SE only when its item count increased.
func (b *base) record(cats map[string]Measurement) {
	for name, m := range cats {
		n := m.NItems()
		if n > b.nItems[name] {
			b.nItems[name] = n
			b.seMeasurements[name] = append(b.seMeasurements[name], m.SEMeasurement())
		}
	}
}

// update records measurements, evaluates relevant cats with cond and
// combines the results.
func (b *base) update(cats map[string]Measurement, catToEvaluate string, relevant []string, cond func(string) bool) error {
	op := b.input.LogicalOperation
	if op == OperationOnly && catToEvaluate == "" {
		return ErrMissingCatToEvaluate
	}

	b.record(cats)
	if b.stopped {
		return nil
	}

	var stop bool
	switch op {
	case OperationAnd:
		stop = len(relevant) > 0
		for _, name := range relevant {
			if !cond(name) {
				stop = false
				break
			}
		}
	case OperationOnly:
		stop = slices.Contains(relevant, catToEvaluate) && cond(catToEvaluate)
	default:
		for _, name := range relevant {
			if cond(name) {
				stop = true
				break
			}
		}
	}

	if stop {
		b.stopped = true
		b.logger.Info("early stopping triggered",
			"policy", b.name,
			"logical_operation", op.String(),
			"cat_to_evaluate", catToEvaluate,
			"n_items", b.nItems,
		)
	}
	return nil
}

// lastN returns the trailing n values of xs, or nil when xs is shorter.
func lastN(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) < n {
		return nil
	}
	return xs[len(xs)-n:]
}

func sortedKeys[V any](ms ...map[string]V) []string {
	seen := make(map[string]bool)
	for _, m := range ms {
		for k := range m {
			seen[k] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
