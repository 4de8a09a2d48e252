// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cat

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Estimation Method
// =============================================================================

// Method is an ability estimation method.
//
// The zero value means "use the configured default".
type Method int

const (
	// MethodDefault defers to the cat's configured method.
	MethodDefault Method = iota

	// MethodMLE is maximum likelihood estimation.
	MethodMLE

	// MethodEAP is expected a posteriori estimation over the prior table.
	MethodEAP
)

// String returns "MLE", "EAP" or "default".
func (m Method) String() string {
	switch m {
	case MethodDefault:
		return "default"
	case MethodMLE:
		return "MLE"
	case MethodEAP:
		return "EAP"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Valid reports whether m names a concrete estimation method.
func (m Method) Valid() bool {
	return m == MethodMLE || m == MethodEAP
}

// ParseMethod parses "MLE" or "EAP", case-insensitively. The empty string
// parses to MethodDefault.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return MethodDefault, nil
	case "mle":
		return MethodMLE, nil
	case "eap":
		return MethodEAP, nil
	default:
		return MethodDefault, fmt.Errorf("%w: expected one of MLE, EAP, received %q", ErrInvalidMethod, s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (m Method) MarshalYAML() (any, error) {
	if m == MethodDefault {
		return "", nil
	}
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Method) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseMethod(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// Item Selection
// =============================================================================

// ItemSelect is an item selection strategy.
//
// SelectMiddle is only valid as a start-phase strategy. The zero value
// means "use the configured default".
type ItemSelect int

const (
	// SelectDefault defers to the cat's configured strategy.
	SelectDefault ItemSelect = iota

	// SelectMaxInformation picks the item with the largest Fisher
	// information at the current theta.
	SelectMaxInformation

	// SelectRandom picks a uniformly random item.
	SelectRandom

	// SelectClosest picks the item whose difficulty is nearest to
	// theta + ClosestOffset.
	SelectClosest

	// SelectFixed picks items in input order.
	SelectFixed

	// SelectMiddle picks near the median difficulty (start phase only).
	SelectMiddle
)

// ClosestOffset is added to theta by SelectClosest. At this offset a
// 2PL item yields roughly 60% success at the respondent's ability.
const ClosestOffset = 0.481

var itemSelectNames = map[ItemSelect]string{
	SelectDefault:        "default",
	SelectMaxInformation: "max-information",
	SelectRandom:         "random",
	SelectClosest:        "closest",
	SelectFixed:          "fixed",
	SelectMiddle:         "middle",
}

// String returns the canonical strategy name.
func (s ItemSelect) String() string {
	if name, ok := itemSelectNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ItemSelect(%d)", int(s))
}

// ValidItemSelect reports whether s is a concrete per-item strategy.
func (s ItemSelect) ValidItemSelect() bool {
	switch s {
	case SelectMaxInformation, SelectRandom, SelectClosest, SelectFixed:
		return true
	}
	return false
}

// ValidStartSelect reports whether s is a concrete start-phase strategy.
func (s ItemSelect) ValidStartSelect() bool {
	switch s {
	case SelectRandom, SelectMiddle, SelectFixed:
		return true
	}
	return false
}

// parseSelectName maps any accepted spelling to a strategy.
func parseSelectName(s string) (ItemSelect, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SelectDefault, true
	case "max-information", "maxinformation", "max_information", "mfi":
		return SelectMaxInformation, true
	case "random":
		return SelectRandom, true
	case "closest":
		return SelectClosest, true
	case "fixed":
		return SelectFixed, true
	case "middle":
		return SelectMiddle, true
	}
	return SelectDefault, false
}

// ParseItemSelect parses a per-item strategy name, case-insensitively.
//
// Accepted: max-information (alias mfi), random, closest, fixed. The empty
// string parses to SelectDefault.
func ParseItemSelect(s string) (ItemSelect, error) {
	sel, ok := parseSelectName(s)
	if !ok || (sel != SelectDefault && !sel.ValidItemSelect()) {
		return SelectDefault, fmt.Errorf("%w: expected one of max-information, random, closest, fixed, received %q", ErrInvalidItemSelect, s)
	}
	return sel, nil
}

// ParseStartSelect parses a start-phase strategy name, case-insensitively.
//
// Accepted: random, middle, fixed. The empty string parses to
// SelectDefault.
func ParseStartSelect(s string) (ItemSelect, error) {
	sel, ok := parseSelectName(s)
	if !ok || (sel != SelectDefault && !sel.ValidStartSelect()) {
		return SelectDefault, fmt.Errorf("%w: expected one of random, middle, fixed, received %q", ErrInvalidStartSelect, s)
	}
	return sel, nil
}

// MarshalYAML implements yaml.Marshaler.
func (s ItemSelect) MarshalYAML() (any, error) {
	if s == SelectDefault {
		return "", nil
	}
	return s.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
//
// Any strategy name is accepted here; whether it is legal for the field
// it populates is checked when the cat is constructed.
func (s *ItemSelect) UnmarshalYAML(value *yaml.Node) error {
	sel, ok := parseSelectName(value.Value)
	if !ok {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidItemSelect, value.Value)
	}
	*s = sel
	return nil
}

// =============================================================================
// Prior Distribution
// =============================================================================

// PriorKind is the family of the EAP prior distribution.
type PriorKind int

const (
	// PriorDefault resolves to PriorNormal.
	PriorDefault PriorKind = iota

	// PriorNormal is a normal prior with parameters (mean, sd).
	PriorNormal

	// PriorUniform is a uniform prior with parameters (lo, hi).
	PriorUniform
)

// String returns "normal", "uniform" or "default".
func (k PriorKind) String() string {
	switch k {
	case PriorDefault:
		return "default"
	case PriorNormal:
		return "normal"
	case PriorUniform:
		return "uniform"
	default:
		return fmt.Sprintf("PriorKind(%d)", int(k))
	}
}

// ParsePriorKind parses "normal" (alias "norm") or "uniform" (alias "unif").
func ParsePriorKind(s string) (PriorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorDefault, nil
	case "normal", "norm":
		return PriorNormal, nil
	case "uniform", "unif":
		return PriorUniform, nil
	default:
		return PriorDefault, fmt.Errorf("%w: prior distribution must be normal or uniform, received %q", ErrInvalidPrior, s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (k PriorKind) MarshalYAML() (any, error) {
	if k == PriorDefault {
		return "", nil
	}
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *PriorKind) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParsePriorKind(value.Value)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
