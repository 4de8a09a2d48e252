// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package irt

import "math"

// =============================================================================
// Item Parameters
// =============================================================================

// Zeta is a fully resolved set of 4PL item parameters.
//
// Use DefaultZeta for the 2PL-equivalent fallback and fill only the fields
// that are known. Callers holding partially specified parameter maps should
// resolve them through corpus.Params.Zeta, which applies the defaults.
type Zeta struct {
	// Discrimination is the slope of the response curve (a). Assumed > 0.
	Discrimination float64 `json:"discrimination" yaml:"discrimination"`

	// Difficulty is the location of the response curve (b).
	Difficulty float64 `json:"difficulty" yaml:"difficulty"`

	// Guessing is the lower asymptote (c), in [0, 1).
	Guessing float64 `json:"guessing" yaml:"guessing"`

	// Slipping is the upper asymptote (d), in (0, 1].
	Slipping float64 `json:"slipping" yaml:"slipping"`
}

// Default item parameter values.
const (
	DefaultDiscrimination = 1.0
	DefaultDifficulty     = 0.0
	DefaultGuessing       = 0.0
	DefaultSlipping       = 1.0
)

// DefaultZeta returns {a: 1, b: 0, c: 0, d: 1}.
func DefaultZeta() Zeta {
	return Zeta{
		Discrimination: DefaultDiscrimination,
		Difficulty:     DefaultDifficulty,
		Guessing:       DefaultGuessing,
		Slipping:       DefaultSlipping,
	}
}

// =============================================================================
// Response Model
// =============================================================================

// ResponseProbability returns the probability that a respondent with ability
// theta answers the item correctly under the 4PL model.
//
// The result lies strictly between Guessing and Slipping for finite theta
// and is monotonically increasing in theta when Discrimination > 0.
func ResponseProbability(theta float64, z Zeta) float64 {
	return z.Guessing + (z.Slipping-z.Guessing)/(1+math.Exp(-z.Discrimination*(theta-z.Difficulty)))
}

// Information returns the Fisher information of the item at theta.
//
// Description:
//
//	Computes a² · (q/p) · (p - c)² / (1 - c)², where p is the response
//	probability and q = 1 - p. The value is non-negative whenever
//	Guessing < 1.
//
// Inputs:
//
//	theta - Ability level at which to evaluate.
//	z - Item parameters.
//
// Outputs:
//
//	float64 - The item information.
func Information(theta float64, z Zeta) float64 {
	p := ResponseProbability(theta, z)
	q := 1 - p
	return z.Discrimination * z.Discrimination * (q / p) *
		((p - z.Guessing) * (p - z.Guessing)) / ((1 - z.Guessing) * (1 - z.Guessing))
}

// TotalInformation sums the item information of every zeta at theta.
func TotalInformation(theta float64, zetas []Zeta) float64 {
	var sum float64
	for _, z := range zetas {
		sum += Information(theta, z)
	}
	return sum
}

// StandardError returns 1/√(test information) at theta.
//
// When no information has been accumulated the result is +Inf, which
// callers treat as maximal uncertainty rather than a numeric failure.
func StandardError(theta float64, zetas []Zeta) float64 {
	info := TotalInformation(theta, zetas)
	if info <= 0 {
		return math.Inf(1)
	}
	return 1 / math.Sqrt(info)
}
