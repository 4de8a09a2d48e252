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

// DefaultStep is the grid spacing used for prior tables.
const DefaultStep = 0.1

// gridPrecision is the number of decimals grid points are rounded to.
const gridPrecision = 1e6

// Point is a single (theta, weight) entry of a discretized distribution.
type Point struct {
	Theta  float64 `json:"theta"`
	Weight float64 `json:"weight"`
}

// Table is a discretized distribution ordered by ascending theta.
type Table []Point

// Sum returns the total weight of the table.
func (t Table) Sum() float64 {
	var sum float64
	for _, p := range t {
		sum += p.Weight
	}
	return sum
}

// NormalDensity is the Gaussian probability density at x.
func NormalDensity(x, mean, sd float64) float64 {
	return (1 / (math.Sqrt(2*math.Pi) * sd)) * math.Exp(-((x-mean)*(x-mean))/(2*sd*sd))
}

// NormalTable discretizes a normal distribution over [min, max].
//
// Description:
//
//	Evaluates the Gaussian density at every grid point of [min, max] with
//	the given step, then scales the densities so the table sums to 1. Grid
//	points are rounded to 6 decimals so step accumulation neither
//	overshoots max nor produces near-duplicate points.
//
// Inputs:
//
//	mean - Distribution mean.
//	sd - Standard deviation. Must be > 0.
//	min, max - Inclusive grid bounds.
//	step - Grid spacing. Non-positive values use DefaultStep.
//
// Outputs:
//
//	Table - Probability masses proportional to the density.
func NormalTable(mean, sd, min, max, step float64) Table {
	xs := grid(min, max, step)
	table := make(Table, len(xs))
	var total float64
	for i, x := range xs {
		d := NormalDensity(x, mean, sd)
		table[i] = Point{Theta: x, Weight: d}
		total += d
	}
	if total > 0 {
		for i := range table {
			table[i].Weight /= total
		}
	}
	return table
}

// DefaultNormalTable is the standard normal over [-4, 4] with DefaultStep.
func DefaultNormalTable() Table {
	return NormalTable(0, 1, -4, 4, DefaultStep)
}

// UniformTable discretizes a uniform distribution.
//
// The grid spans [fullMin, fullMax]. Points inside [supportMin, supportMax]
// share equal mass 1/n where n is the number of support points; every
// other point has weight 0. When no grid point falls inside the support
// all weights are 0.
func UniformTable(supportMin, supportMax, step, fullMin, fullMax float64) Table {
	xs := grid(fullMin, fullMax, step)
	lo, hi := round6(supportMin), round6(supportMax)

	var n int
	for _, x := range xs {
		if x >= lo && x <= hi {
			n++
		}
	}

	table := make(Table, len(xs))
	for i, x := range xs {
		table[i] = Point{Theta: x}
		if n > 0 && x >= lo && x <= hi {
			table[i].Weight = 1 / float64(n)
		}
	}
	return table
}

// grid returns the rounded points min, min+step, ..., up to and including
// max when max lies on the lattice.
func grid(min, max, step float64) []float64 {
	if step <= 0 {
		step = DefaultStep
	}
	if max < min {
		return nil
	}
	n := int(math.Floor(round6((max-min)/step))) + 1
	xs := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x := round6(min + float64(i)*step)
		if x > max {
			break
		}
		xs = append(xs, x)
	}
	return xs
}

func round6(x float64) float64 {
	return math.Round(x*gridPrecision) / gridPrecision
}
