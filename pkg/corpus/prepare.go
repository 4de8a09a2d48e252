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
	"strconv"
	"strings"
)

// MissingValue marks a parameter as not estimated for a cat.
const MissingValue = "NA"

// DefaultIDKey is the record column holding item identifiers.
const DefaultIDKey = "id"

// Record is one flat item row, as produced by LoadCSV.
//
// Values are float64 for numeric cells and string otherwise.
type Record map[string]any

// PrepareOptions controls how flat records become multi-cat items.
type PrepareOptions struct {
	// CatNames lists the cats whose prefixed columns are extracted.
	CatNames []string

	// Delimiter separates the cat name from the parameter name, as in
	// "cat1.a". Default: ".".
	Delimiter string

	// Format is the naming format of the produced parameter sets.
	Format Format

	// IDKey names the identifier column. Default: DefaultIDKey.
	IDKey string
}

// Prepare converts flat records into multi-cat items.
//
// Description:
//
//	For every cat, columns named "<cat><delimiter><param>" are collected
//	into that cat's parameter set and converted into opts.Format. A cat
//	whose group is empty, or holds any "NA" value, is omitted from the
//	item, leaving the item unvalidated for that cat. All prefixed columns
//	are removed and every remaining column except the ID becomes metadata.
//
// Outputs:
//
//	[]Item - One item per record, in input order.
//	error - Wraps ErrInvalidValue for non-numeric parameter values, or
//	        ErrRedundantParam when a group mixes naming formats.
func Prepare(records []Record, opts PrepareOptions) ([]Item, error) {
	delim := opts.Delimiter
	if delim == "" {
		delim = "."
	}
	idKey := opts.IDKey
	if idKey == "" {
		idKey = DefaultIDKey
	}

	items := make([]Item, 0, len(records))
	for row, rec := range records {
		item := Item{Zetas: []ZetaCatMap{}}
		if id, ok := rec[idKey]; ok {
			item.ID = formatID(id)
		}

		for _, cat := range opts.CatNames {
			zeta, err := extractGroup(rec, cat+delim, delim)
			if err != nil {
				return nil, fmt.Errorf("record %d, cat %q: %w", row, cat, err)
			}
			if len(zeta) == 0 {
				continue
			}
			if err := Validate(zeta, false); err != nil {
				return nil, fmt.Errorf("record %d, cat %q: %w", row, cat, err)
			}
			item.Zetas = append(item.Zetas, ZetaCatMap{
				Cats: []string{cat},
				Zeta: Convert(zeta, opts.Format),
			})
		}

		for key, value := range rec {
			if key == idKey || hasCatPrefix(key, opts.CatNames, delim) {
				continue
			}
			if item.Metadata == nil {
				item.Metadata = make(map[string]any)
			}
			item.Metadata[key] = value
		}
		items = append(items, item)
	}
	return items, nil
}

// extractGroup collects the parameters of one cat. It returns an empty
// Params when the group holds a missing value.
func extractGroup(rec Record, prefix, delim string) (Params, error) {
	zeta := Params{}
	for key, value := range rec {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		param := strings.TrimPrefix(key, prefix)
		if i := strings.Index(param, delim); i >= 0 {
			param = param[:i]
		}
		switch v := value.(type) {
		case float64:
			zeta[param] = v
		case int:
			zeta[param] = float64(v)
		case string:
			if v == MissingValue {
				return Params{}, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
			}
			zeta[param] = f
		default:
			return nil, fmt.Errorf("%w: %s has type %T", ErrInvalidValue, key, value)
		}
	}
	return zeta, nil
}

func hasCatPrefix(key string, cats []string, delim string) bool {
	for _, cat := range cats {
		if strings.HasPrefix(key, cat+delim) {
			return true
		}
	}
	return false
}

func formatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}
