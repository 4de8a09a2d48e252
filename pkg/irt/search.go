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

import (
	"math"
	"sort"
)

// FindClosest returns the index of the item whose difficulty is nearest
// to target.
//
// Description:
//
//	Targets at or below the first difficulty return 0 and targets at or
//	above the last difficulty return the last index. An exact match returns
//	its index. Otherwise the straddling pair is located by binary search
//	and the strictly closer neighbor wins; equal distances resolve to the
//	higher index.
//
// Inputs:
//
//	items - Items sorted ascending by difficulty. The order is NOT checked;
//	        an unsorted slice yields an unspecified index.
//	target - Difficulty to search for.
//	difficulty - Accessor returning an item's difficulty.
//
// Outputs:
//
//	int - Index into items, or -1 when items is empty.
func FindClosest[T any](items []T, target float64, difficulty func(T) float64) int {
	n := len(items)
	if n == 0 {
		return -1
	}
	if target <= difficulty(items[0]) {
		return 0
	}
	if target >= difficulty(items[n-1]) {
		return n - 1
	}

	// First index whose difficulty is >= target; 0 < high < n here.
	high := sort.Search(n, func(i int) bool {
		return difficulty(items[i]) >= target
	})
	if difficulty(items[high]) == target {
		return high
	}
	low := high - 1

	lowDiff := math.Abs(difficulty(items[low]) - target)
	highDiff := math.Abs(difficulty(items[high]) - target)
	if lowDiff < highDiff {
		return low
	}
	return high
}
