// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package simulation

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/irt"
	"github.com/AleutianAI/AleutianCAT/services/cat"
)

// respondentNamespace scopes deterministic respondent IDs.
var respondentNamespace = uuid.MustParse("5b0c8a52-3f0e-4c55-9f6a-0d1f6f0e7a11")

// Respondent is a simulated test taker.
//
// Answers come from Responses when the item's ID is listed there and are
// otherwise drawn from the 4PL model at the respondent's true ability.
type Respondent struct {
	ID        string             `yaml:"id" validate:"required"`
	TrueTheta map[string]float64 `yaml:"true_theta,omitempty"`
	Responses map[string]int     `yaml:"responses,omitempty" validate:"omitempty,dive,oneof=0 1"`
}

// Answer returns the respondent's answer to it when selected for catName.
//
// The item is scored with its parameters for catName, falling back to the
// first entry naming a cat with a known true theta, then to the default
// parameters. A cat without a true theta is answered at theta 0.
func (r Respondent) Answer(it corpus.Item, catName string, rng *rand.Rand) int {
	if a, ok := r.Responses[it.ID]; ok {
		return a
	}

	zeta, ok := it.ZetaFor(catName)
	theta := r.TrueTheta[catName]
	if !ok {
		for _, zm := range it.Zetas {
			for _, name := range zm.Cats {
				if t, known := r.TrueTheta[name]; known && !ok {
					zeta, theta, ok = zm.Zeta, t, true
				}
			}
		}
	}

	p := irt.ResponseProbability(theta, zeta.Zeta())
	if rng.Float64() < p {
		return 1
	}
	return 0
}

// GenerateRespondents draws n respondents with true abilities from a
// normal distribution over catNames.
//
// With a non-empty seed the IDs and abilities are reproducible; IDs are
// then name-based UUIDs derived from the seed and index.
func GenerateRespondents(n int, catNames []string, mean, sd float64, seed string) []Respondent {
	rng := cat.NewRand(seed)
	out := make([]Respondent, n)
	for i := range out {
		id := uuid.NewString()
		if seed != "" {
			id = uuid.NewSHA1(respondentNamespace, fmt.Appendf(nil, "%s/%d", seed, i)).String()
		}
		theta := make(map[string]float64, len(catNames))
		for _, name := range catNames {
			theta[name] = mean + sd*rng.NormFloat64()
		}
		out[i] = Respondent{ID: id, TrueTheta: theta}
	}
	return out
}
