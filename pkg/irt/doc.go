// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package irt provides the item response theory primitives used by the
// adaptive testing engine.
//
// # Overview
//
// Everything in this package is a pure function of its inputs:
//
//   - ResponseProbability and Information evaluate the four parameter
//     logistic (4PL) model for a single item.
//   - TotalInformation and StandardError aggregate over administered items.
//   - NormalTable and UniformTable discretize prior distributions over a
//     theta grid for expected a posteriori (EAP) estimation.
//   - FindClosest performs a nearest neighbor lookup over items sorted by
//     difficulty.
//
// # The 4PL Model
//
//	p(θ) = c + (d - c) / (1 + exp(-a(θ - b)))
//
// where a is discrimination, b is difficulty, c is guessing (lower
// asymptote) and d is slipping (upper asymptote).
//
// # Thread Safety
//
// All functions are safe for concurrent use. Tables are plain slices and
// must not be mutated while shared.
package irt
