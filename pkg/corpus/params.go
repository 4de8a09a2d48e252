// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus holds item parameter records and the utilities that
// normalize, validate and partition them.
//
// Item parameters can be named two ways that denote the same quantities:
//
//	symbolic   semantic
//	a          discrimination
//	b          difficulty
//	c          guessing
//	d          slipping
//
// A single parameter set must not carry both names for one quantity.
package corpus

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/AleutianAI/AleutianCAT/pkg/irt"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRedundantParam indicates both names of one quantity are present.
	ErrRedundantParam = errors.New("redundant item parameter")

	// ErrMissingParam indicates a required quantity is absent.
	ErrMissingParam = errors.New("missing item parameter")

	// ErrInvalidFormat indicates an unknown parameter naming format.
	ErrInvalidFormat = errors.New("invalid parameter format")

	// ErrDuplicateCatNames indicates a cat name attached to more than one
	// zeta entry of the same item.
	ErrDuplicateCatNames = errors.New("cat names are present in multiple corpora")

	// ErrInvalidValue indicates a parameter value that is not numeric.
	ErrInvalidValue = errors.New("invalid item parameter value")
)

// =============================================================================
// Formats
// =============================================================================

// Format selects the parameter naming convention.
type Format int

const (
	// Symbolic uses a, b, c, d.
	Symbolic Format = iota

	// Semantic uses discrimination, difficulty, guessing, slipping.
	Semantic
)

// String returns "symbolic" or "semantic".
func (f Format) String() string {
	switch f {
	case Symbolic:
		return "symbolic"
	case Semantic:
		return "semantic"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "symbolic":
		return Symbolic, nil
	case "semantic":
		return Semantic, nil
	default:
		return 0, fmt.Errorf("%w: expected 'symbolic' or 'semantic', received %q", ErrInvalidFormat, s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (f Format) MarshalYAML() (any, error) {
	return f.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler for scalar nodes.
func (f *Format) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseFormat(value.Value)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// =============================================================================
// Key Mapping
// =============================================================================

// Symbolic parameter keys.
const (
	KeyA = "a"
	KeyB = "b"
	KeyC = "c"
	KeyD = "d"
)

// Semantic parameter keys.
const (
	KeyDiscrimination = "discrimination"
	KeyDifficulty     = "difficulty"
	KeyGuessing       = "guessing"
	KeySlipping       = "slipping"
)

var (
	symbolicToSemantic = map[string]string{
		KeyA: KeyDiscrimination,
		KeyB: KeyDifficulty,
		KeyC: KeyGuessing,
		KeyD: KeySlipping,
	}
	semanticToSymbolic = map[string]string{
		KeyDiscrimination: KeyA,
		KeyDifficulty:     KeyB,
		KeyGuessing:       KeyC,
		KeySlipping:       KeyD,
	}
	symbolicOrder = []string{KeyA, KeyB, KeyC, KeyD}
)

// =============================================================================
// Params
// =============================================================================

// Params is a possibly partial item parameter set keyed by symbolic or
// semantic names. Keys that are not parameter names are carried through
// conversions untouched.
type Params map[string]float64

// Clone returns a copy of p. A nil Params clones to nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// lookup returns the value of the quantity named by its symbolic key,
// checking both spellings.
func (p Params) lookup(symbolic string) (float64, bool) {
	if v, ok := p[symbolic]; ok {
		return v, true
	}
	v, ok := p[symbolicToSemantic[symbolic]]
	return v, ok
}

// Zeta resolves p into typed parameters, filling absent quantities with
// the defaults {a: 1, b: 0, c: 0, d: 1}.
func (p Params) Zeta() irt.Zeta {
	z := irt.DefaultZeta()
	if v, ok := p.lookup(KeyA); ok {
		z.Discrimination = v
	}
	if v, ok := p.lookup(KeyB); ok {
		z.Difficulty = v
	}
	if v, ok := p.lookup(KeyC); ok {
		z.Guessing = v
	}
	if v, ok := p.lookup(KeyD); ok {
		z.Slipping = v
	}
	return z
}

// FromZeta renders typed parameters as Params in the given format.
func FromZeta(z irt.Zeta, format Format) Params {
	p := Params{
		KeyA: z.Discrimination,
		KeyB: z.Difficulty,
		KeyC: z.Guessing,
		KeyD: z.Slipping,
	}
	return Convert(p, format)
}

// ToSymbolic renames semantic keys to their symbolic counterparts.
func ToSymbolic(p Params) Params {
	return remap(p, semanticToSymbolic)
}

// ToSemantic renames symbolic keys to their semantic counterparts.
func ToSemantic(p Params) Params {
	return remap(p, symbolicToSemantic)
}

// Convert renames keys into the given format.
func Convert(p Params, format Format) Params {
	if format == Semantic {
		return ToSemantic(p)
	}
	return ToSymbolic(p)
}

func remap(p Params, mapping map[string]string) Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		if to, ok := mapping[k]; ok {
			out[to] = v
			continue
		}
		out[k] = v
	}
	return out
}

// DefaultParams returns the default parameter set in the given format.
func DefaultParams(format Format) Params {
	return FromZeta(irt.DefaultZeta(), format)
}

// FillDefaults converts p into format and adds defaults for any absent
// quantity. Present values always win over defaults.
func FillDefaults(p Params, format Format) Params {
	out := DefaultParams(format)
	maps.Copy(out, Convert(p, format))
	return out
}

// Validate checks p for redundant names and, when requireAll is set, for
// missing quantities.
//
// Description:
//
//	Quantities are checked in a, b, c, d order and the first violation is
//	returned. Redundancy is always checked before completeness.
//
// Outputs:
//
//	error - Wraps ErrRedundantParam or ErrMissingParam, or nil.
func Validate(p Params, requireAll bool) error {
	for _, sym := range symbolicOrder {
		sem := symbolicToSemantic[sym]
		_, hasSym := p[sym]
		_, hasSem := p[sem]
		if hasSym && hasSem {
			return fmt.Errorf("%w: item has both %q and %q, provide only one", ErrRedundantParam, sym, sem)
		}
	}
	if !requireAll {
		return nil
	}
	for _, sym := range symbolicOrder {
		if _, ok := p.lookup(sym); !ok {
			return fmt.Errorf("%w: item is missing %q or %q", ErrMissingParam, sym, symbolicToSemantic[sym])
		}
	}
	return nil
}
