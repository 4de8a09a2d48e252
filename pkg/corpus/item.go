// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// =============================================================================
// Stimulus
// =============================================================================

// Stimulus is a single-model item: one parameter set plus opaque metadata.
//
// Stimuli handed to selection routines are copied with Clone unless the
// caller explicitly opts into in-place selection.
type Stimulus struct {
	// ID uniquely identifies the item within its corpus.
	ID string `json:"id" yaml:"id"`

	// Params holds the item parameters in either naming format.
	Params Params `json:"params" yaml:"params"`

	// Metadata carries arbitrary passthrough fields (content, display, ...).
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Difficulty returns the resolved difficulty, defaulting to 0.
func (s Stimulus) Difficulty() float64 {
	return s.Params.Zeta().Difficulty
}

// Clone returns a copy of s that shares no maps with the original.
//
// Metadata values are copied shallowly.
func (s Stimulus) Clone() Stimulus {
	return Stimulus{
		ID:       s.ID,
		Params:   s.Params.Clone(),
		Metadata: maps.Clone(s.Metadata),
	}
}

// =============================================================================
// Multi-Cat Items
// =============================================================================

// ZetaCatMap binds one parameter set to the cats that share it.
type ZetaCatMap struct {
	Cats []string `json:"cats" yaml:"cats"`
	Zeta Params   `json:"zeta" yaml:"zeta"`
}

// Item is an item whose parameters are scoped per named cat.
//
// A cat absent from every ZetaCatMap has no parameters for the item, which
// marks the item as unvalidated for that cat.
type Item struct {
	ID       string         `json:"id" yaml:"id"`
	Zetas    []ZetaCatMap   `json:"zetas" yaml:"zetas"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ZetaFor returns the parameter set of the first entry naming cat.
func (it Item) ZetaFor(cat string) (Params, bool) {
	for _, zm := range it.Zetas {
		if slices.Contains(zm.Cats, cat) {
			return zm.Zeta, true
		}
	}
	return nil, false
}

// HasCat reports whether any entry names cat.
func (it Item) HasCat(cat string) bool {
	_, ok := it.ZetaFor(cat)
	return ok
}

// Validated reports whether any entry is attached to at least one cat.
func (it Item) Validated() bool {
	for _, zm := range it.Zetas {
		if len(zm.Cats) > 0 {
			return true
		}
	}
	return false
}

// StimulusFor projects the item onto cat. The Stimulus always carries the
// item's ID and metadata; ok reports whether it also carries parameters.
func (it Item) StimulusFor(cat string) (Stimulus, bool) {
	zeta, ok := it.ZetaFor(cat)
	return Stimulus{
		ID:       it.ID,
		Params:   zeta.Clone(),
		Metadata: maps.Clone(it.Metadata),
	}, ok
}

// Equal reports value equality between two items. Nil and empty Zetas,
// Cats, parameter sets and Metadata compare equal.
func (it Item) Equal(other Item) bool {
	if it.ID != other.ID || !metadataEqual(it.Metadata, other.Metadata) {
		return false
	}
	return slices.EqualFunc(it.Zetas, other.Zetas, func(a, b ZetaCatMap) bool {
		return slices.Equal(a.Cats, b.Cats) && maps.Equal(a.Zeta, b.Zeta)
	})
}

func metadataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || reflect.DeepEqual(a, b)
}

// Clone returns a deep copy of the item's zeta entries and metadata map.
func (it Item) Clone() Item {
	out := Item{
		ID:       it.ID,
		Metadata: maps.Clone(it.Metadata),
	}
	if it.Zetas != nil {
		out.Zetas = make([]ZetaCatMap, len(it.Zetas))
		for i, zm := range it.Zetas {
			out.Zetas[i] = ZetaCatMap{
				Cats: slices.Clone(zm.Cats),
				Zeta: zm.Zeta.Clone(),
			}
		}
	}
	return out
}

// CloneItems deep copies a slice of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// =============================================================================
// Corpus Checks
// =============================================================================

// CheckNoDuplicateCatNames verifies that no item attaches the same cat
// name to more than one of its zeta entries.
//
// The check is per item: the same cat may appear in the entries of
// different items. The returned error names every duplicated cat of the
// first offending item.
func CheckNoDuplicateCatNames(items []Item) error {
	for _, it := range items {
		seen := make(map[string]bool)
		var dups []string
		for _, zm := range it.Zetas {
			for _, cat := range zm.Cats {
				if seen[cat] && !slices.Contains(dups, cat) {
					dups = append(dups, cat)
				}
				seen[cat] = true
			}
		}
		if len(dups) > 0 {
			return fmt.Errorf("%w: %s (item %q)", ErrDuplicateCatNames, strings.Join(dups, ", "), it.ID)
		}
	}
	return nil
}

// FilterByCatAvailability splits items into those with parameters for
// cat and those without. Input order is preserved in both outputs.
func FilterByCatAvailability(items []Item, cat string) (available, missing []Item) {
	for _, it := range items {
		if it.HasCat(cat) {
			available = append(available, it)
		} else {
			missing = append(missing, it)
		}
	}
	return available, missing
}

// CatNames returns every cat name referenced by items, in first-seen order.
func CatNames(items []Item) []string {
	var names []string
	for _, it := range items {
		for _, zm := range it.Zetas {
			for _, cat := range zm.Cats {
				if !slices.Contains(names, cat) {
					names = append(names, cat)
				}
			}
		}
	}
	return names
}
