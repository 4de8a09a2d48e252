// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clowder

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MixingPolicy decides between validated and unvalidated items when both
// remain for the selection corpus.
type MixingPolicy int

const (
	// MixValidatedOnly always returns the validated pick.
	MixValidatedOnly MixingPolicy = iota

	// MixProportional returns a random unvalidated item with probability
	// equal to the unvalidated share of the remaining items.
	MixProportional
)

// String returns the configuration name of the policy.
func (m MixingPolicy) String() string {
	switch m {
	case MixValidatedOnly:
		return "validated-only"
	case MixProportional:
		return "proportional"
	default:
		return fmt.Sprintf("MixingPolicy(%d)", int(m))
	}
}

// ParseMixingPolicy parses "validated-only" or "proportional". The empty
// string parses to MixValidatedOnly.
func ParseMixingPolicy(s string) (MixingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "validated-only":
		return MixValidatedOnly, nil
	case "proportional":
		return MixProportional, nil
	default:
		return MixValidatedOnly, fmt.Errorf("%w: mixing policy %q", ErrInvalidPolicy, s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (m MixingPolicy) MarshalYAML() (any, error) {
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MixingPolicy) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseMixingPolicy(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ExhaustionPolicy decides what happens when no validated items remain
// for the selection corpus.
type ExhaustionPolicy int

const (
	// ExhaustionStop returns no item and records a stop reason.
	ExhaustionStop ExhaustionPolicy = iota

	// ExhaustionRandomMissing returns a random item lacking parameters for
	// the selection corpus, if any remain.
	ExhaustionRandomMissing
)

// String returns the configuration name of the policy.
func (e ExhaustionPolicy) String() string {
	switch e {
	case ExhaustionStop:
		return "stop"
	case ExhaustionRandomMissing:
		return "random-missing"
	default:
		return fmt.Sprintf("ExhaustionPolicy(%d)", int(e))
	}
}

// ParseExhaustionPolicy parses "stop" or "random-missing". The empty
// string parses to ExhaustionStop.
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop":
		return ExhaustionStop, nil
	case "random-missing", "random":
		return ExhaustionRandomMissing, nil
	default:
		return ExhaustionStop, fmt.Errorf("%w: exhaustion policy %q", ErrInvalidPolicy, s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (e ExhaustionPolicy) MarshalYAML() (any, error) {
	return e.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *ExhaustionPolicy) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseExhaustionPolicy(value.Value)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
