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
	"cmp"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/irt"
)

// Selection is the outcome of an item selection.
type Selection struct {
	// Next is the selected stimulus, or nil when no candidates remained.
	Next *corpus.Stimulus

	// Remaining holds the other candidates. Every strategy except fixed
	// returns them sorted ascending by difficulty.
	Remaining []corpus.Stimulus
}

// FindNextItem selects the next stimulus from a copy of stimuli.
//
// Description:
//
//	The caller's slice and its maps are never modified. Candidates have
//	their parameter defaults filled in semantic format. While fewer than
//	NStartItems items have been administered, the start-phase strategy
//	overrides sel. An empty candidate list yields a nil Next and an empty
//	Remaining.
//
// Inputs:
//
//	stimuli - Candidate stimuli.
//	sel - Strategy for this call. SelectDefault uses the configured one.
//
// Outputs:
//
//	Selection - The selected stimulus and the rest of the pool.
//	error - Wraps ErrInvalidItemSelect for an unknown or start-only strategy.
func (c *Cat) FindNextItem(stimuli []corpus.Stimulus, sel ItemSelect) (Selection, error) {
	arr := make([]corpus.Stimulus, len(stimuli))
	for i, s := range stimuli {
		arr[i] = s.Clone()
	}
	return c.selectFrom(arr, sel)
}

// FindNextItemInPlace selects the next stimulus without copying.
//
// It behaves like FindNextItem but reorders stimuli and replaces their
// Params in place. Selection.Remaining aliases the caller's backing array,
// so stimuli must not be used afterwards except through the returned
// Selection.
func (c *Cat) FindNextItemInPlace(stimuli []corpus.Stimulus, sel ItemSelect) (Selection, error) {
	return c.selectFrom(stimuli, sel)
}

func (c *Cat) selectFrom(arr []corpus.Stimulus, sel ItemSelect) (Selection, error) {
	if sel == SelectDefault {
		sel = c.cfg.ItemSelect
	}
	if !sel.ValidItemSelect() {
		return Selection{}, fmt.Errorf("%w: %s", ErrInvalidItemSelect, sel)
	}

	for i := range arr {
		arr[i].Params = corpus.FillDefaults(arr[i].Params, corpus.Semantic)
	}

	if c.NItems() < c.cfg.NStartItems {
		sel = c.cfg.StartSelect
	}
	if len(arr) == 0 {
		return Selection{Remaining: []corpus.Stimulus{}}, nil
	}

	// Max-information orders by information and fixed keeps input order.
	if sel != SelectMaxInformation && sel != SelectFixed {
		sortByDifficulty(arr)
	}

	var out Selection
	switch sel {
	case SelectMiddle:
		out = c.selectMiddle(arr)
	case SelectClosest:
		out = c.selectClosest(arr)
	case SelectRandom:
		out = c.selectRandom(arr)
	case SelectFixed:
		out = takeAt(arr, 0)
	default:
		out = c.selectMaxInformation(arr)
	}

	c.logger.Debug("item selected",
		"strategy", sel.String(),
		"item_id", out.Next.ID,
		"theta", c.theta,
		"remaining", len(out.Remaining),
	)
	return out, nil
}

// selectMaxInformation picks the most informative item; ties go to the
// earliest candidate.
func (c *Cat) selectMaxInformation(arr []corpus.Stimulus) Selection {
	info := make([]float64, len(arr))
	order := make([]int, len(arr))
	for i := range arr {
		info[i] = irt.Information(c.theta, arr[i].Params.Zeta())
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(info[b], info[a])
	})

	ordered := make([]corpus.Stimulus, len(arr))
	for i, idx := range order {
		ordered[i] = arr[idx]
	}
	copy(arr, ordered)

	next := arr[0]
	remaining := arr[1:]
	sortByDifficulty(remaining)
	return Selection{Next: &next, Remaining: remaining}
}

// selectMiddle picks the median item jittered by up to half the start
// phase length. arr must be sorted by difficulty.
func (c *Cat) selectMiddle(arr []corpus.Stimulus) Selection {
	index := len(arr) / 2
	if len(arr) >= c.cfg.NStartItems {
		half := c.cfg.NStartItems / 2
		index += RandomInteger(c.rng, -half, half)
	}
	index = max(0, min(index, len(arr)-1))
	return takeAt(arr, index)
}

// selectClosest picks the item nearest theta + ClosestOffset. arr must be
// sorted by difficulty.
func (c *Cat) selectClosest(arr []corpus.Stimulus) Selection {
	index := irt.FindClosest(arr, c.theta+ClosestOffset, corpus.Stimulus.Difficulty)
	return takeAt(arr, index)
}

// selectRandom picks a uniformly random item from the seeded source.
func (c *Cat) selectRandom(arr []corpus.Stimulus) Selection {
	return takeAt(arr, RandomInteger(c.rng, 0, len(arr)-1))
}

// takeAt removes arr[i] and returns it with the rest in order.
func takeAt(arr []corpus.Stimulus, i int) Selection {
	next := arr[i]
	return Selection{Next: &next, Remaining: slices.Delete(arr, i, i+1)}
}

func sortByDifficulty(arr []corpus.Stimulus) {
	slices.SortStableFunc(arr, func(a, b corpus.Stimulus) int {
		return cmp.Compare(a.Difficulty(), b.Difficulty())
	})
}
