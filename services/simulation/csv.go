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
	"encoding/csv"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
)

// WriteCSV writes one row per trial.
//
// Columns are run_id, respondent_id, trial, cat_to_select, item_id,
// answer, then theta_<cat> and se_<cat> for every cat in sorted order, then
// stop_reason, which is filled on each respondent's last row only. A
// respondent without trials gets a single row with trial 0 and its final
// estimates.
func WriteCSV(w io.Writer, results []Result) error {
	cats := catColumns(results)

	header := []string{"run_id", "respondent_id", "trial", "cat_to_select", "item_id", "answer"}
	for _, name := range cats {
		header = append(header, "theta_"+name)
	}
	for _, name := range cats {
		header = append(header, "se_"+name)
	}
	header = append(header, "stop_reason")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, res := range results {
		if len(res.Trials) == 0 {
			row := []string{res.RunID, res.RespondentID, "0", "", "", ""}
			row = appendEstimates(row, cats, res.Theta, res.SEMeasurement)
			if err := cw.Write(append(row, res.StopReason)); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
			continue
		}
		for i, tr := range res.Trials {
			row := []string{
				tr.RunID,
				tr.RespondentID,
				strconv.Itoa(tr.TrialNum),
				tr.CatToSelect,
				tr.ItemID,
				strconv.Itoa(tr.Answer),
			}
			row = appendEstimates(row, cats, tr.Theta, tr.SEMeasurement)
			reason := ""
			if i == len(res.Trials)-1 {
				reason = res.StopReason
			}
			if err := cw.Write(append(row, reason)); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func catColumns(results []Result) []string {
	seen := make(map[string]bool)
	for _, res := range results {
		for name := range res.Theta {
			seen[name] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

func appendEstimates(row, cats []string, theta, se map[string]float64) []string {
	for _, name := range cats {
		row = append(row, formatFloat(theta, name))
	}
	for _, name := range cats {
		row = append(row, formatFloat(se, name))
	}
	return row
}

func formatFloat(m map[string]float64, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}
