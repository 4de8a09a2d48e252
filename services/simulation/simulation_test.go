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
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/services/cat"
	"github.com/AleutianAI/AleutianCAT/services/clowder"
	"github.com/AleutianAI/AleutianCAT/services/stopping"
)

func testItems(n int) []corpus.Item {
	items := make([]corpus.Item, n)
	for i := range items {
		items[i] = corpus.Item{
			ID: fmt.Sprintf("item-%02d", i),
			Zetas: []corpus.ZetaCatMap{{
				Cats: []string{"cat1"},
				Zeta: corpus.Params{"a": 1.2, "b": -2 + 0.4*float64(i), "c": 0.2, "d": 1},
			}},
		}
	}
	return items
}

func testPlan() Plan {
	return Plan{
		Cats:       map[string]cat.Config{"cat1": {}},
		Corpus:     testItems(10),
		RandomSeed: "sim-seed",
	}
}

func newTestRunner(t *testing.T, plan Plan) *Runner {
	t.Helper()
	r, err := NewRunner(plan, Options{Concurrency: 4, RunID: "run-1"})
	require.NoError(t, err)
	return r
}

func TestGenerateRespondents(t *testing.T) {
	a := GenerateRespondents(20, []string{"cat1", "cat2"}, 0, 1, "gen-seed")
	b := GenerateRespondents(20, []string{"cat1", "cat2"}, 0, 1, "gen-seed")

	require.Len(t, a, 20)
	assert.Equal(t, a, b)

	ids := make(map[string]bool)
	for _, r := range a {
		ids[r.ID] = true
		assert.Len(t, r.TrueTheta, 2)
	}
	assert.Len(t, ids, 20)

	c := GenerateRespondents(20, []string{"cat1"}, 0, 1, "")
	d := GenerateRespondents(20, []string{"cat1"}, 0, 1, "")
	assert.NotEqual(t, c[0].ID, d[0].ID)
}

func TestRespondentAnswer(t *testing.T) {
	rng := cat.NewRand("answer-seed")
	it := corpus.Item{
		ID:    "x",
		Zetas: []corpus.ZetaCatMap{{Cats: []string{"cat2"}, Zeta: corpus.Params{"a": 1, "b": 0}}},
	}

	t.Run("response matrix wins", func(t *testing.T) {
		r := Respondent{ID: "r", TrueTheta: map[string]float64{"cat2": 50}, Responses: map[string]int{"x": 0}}
		assert.Equal(t, 0, r.Answer(it, "cat2", rng))
	})

	t.Run("model at true theta", func(t *testing.T) {
		high := Respondent{ID: "h", TrueTheta: map[string]float64{"cat2": 50}}
		low := Respondent{ID: "l", TrueTheta: map[string]float64{"cat2": -50}}
		for range 20 {
			assert.Equal(t, 1, high.Answer(it, "cat2", rng))
			assert.Equal(t, 0, low.Answer(it, "cat2", rng))
		}
	})

	t.Run("falls back to a cat with known theta", func(t *testing.T) {
		r := Respondent{ID: "r", TrueTheta: map[string]float64{"cat2": 50}}
		assert.Equal(t, 1, r.Answer(it, "cat1", rng))
	})
}

func TestRunner_MaxItems(t *testing.T) {
	plan := testPlan()
	plan.MaxItems = 4
	r := newTestRunner(t, plan)

	results, err := r.Run(context.Background(), GenerateRespondents(5, []string{"cat1"}, 0, 1, "resp"))
	require.NoError(t, err)
	require.Len(t, results, 5)

	for _, res := range results {
		require.Len(t, res.Trials, 4)
		assert.Equal(t, ReasonMaxItems, res.StopReason)
		assert.Equal(t, 4, res.NItems["cat1"])
		for i, tr := range res.Trials {
			assert.Equal(t, i+1, tr.TrialNum)
			assert.Equal(t, "run-1", tr.RunID)
			assert.Equal(t, "cat1", tr.CatToSelect)
			assert.Contains(t, tr.Theta, "cat1")
			assert.Contains(t, tr.SEMeasurement, "cat1")
		}
		assert.Equal(t, res.Theta, res.Trials[3].Theta)
	}
}

func TestRunner_EarlyStopping(t *testing.T) {
	plan := testPlan()
	plan.EarlyStopping = &stopping.Config{
		Kind:  stopping.KindAfterNItems,
		Input: stopping.Input{RequiredItems: map[string]int{"cat1": 3}},
	}
	r := newTestRunner(t, plan)

	results, err := r.Run(context.Background(), GenerateRespondents(3, []string{"cat1"}, 0, 1, "resp"))
	require.NoError(t, err)
	for _, res := range results {
		assert.Len(t, res.Trials, 3)
		assert.Equal(t, clowder.ReasonEarlyStopping, res.StopReason)
	}
}

func TestRunner_Exhaustion(t *testing.T) {
	r := newTestRunner(t, testPlan())

	res, err := r.RunRespondent(context.Background(), Respondent{ID: "solo", TrueTheta: map[string]float64{"cat1": 0.3}})
	require.NoError(t, err)
	assert.Len(t, res.Trials, 10)
	assert.Equal(t, "No validated items remaining for specified corpus cat1", res.StopReason)

	seen := make(map[string]bool)
	for _, tr := range res.Trials {
		seen[tr.ItemID] = true
	}
	assert.Len(t, seen, 10, "every item is administered once")
}

func TestRunner_ResponseMatrix(t *testing.T) {
	plan := testPlan()
	plan.MaxItems = 5
	r := newTestRunner(t, plan)

	responses := make(map[string]int)
	for _, it := range plan.Corpus {
		responses[it.ID] = 1
	}
	res, err := r.RunRespondent(context.Background(), Respondent{ID: "all-correct", Responses: responses})
	require.NoError(t, err)
	for _, tr := range res.Trials {
		assert.Equal(t, 1, tr.Answer)
	}
	assert.Equal(t, []int{1, 1, 1, 1, 1}, answersOf(res))
}

func answersOf(res Result) []int {
	out := make([]int, len(res.Trials))
	for i, tr := range res.Trials {
		out[i] = tr.Answer
	}
	return out
}

func TestRunner_Reproducible(t *testing.T) {
	plan := testPlan()
	plan.Cats["cat1"] = cat.Config{ItemSelect: cat.SelectRandom}
	respondents := GenerateRespondents(8, []string{"cat1"}, 0, 1, "resp")

	first, err := newTestRunner(t, plan).Run(context.Background(), respondents)
	require.NoError(t, err)
	second, err := newTestRunner(t, plan).Run(context.Background(), respondents)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for i, res := range first {
		assert.Equal(t, respondents[i].ID, res.RespondentID, "results keep respondent order")
	}
}

func TestNewRunner_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"no cats", func(p *Plan) { p.Cats = nil }},
		{"no corpus", func(p *Plan) { p.Corpus = nil }},
		{"negative max items", func(p *Plan) { p.MaxItems = -1 }},
		{"unknown select cat", func(p *Plan) { p.SelectOrder = []string{"cat9"} }},
		{"unknown selection corpus", func(p *Plan) { p.CorpusToSelectFrom = "cat_typo" }},
		{"unknown update cat", func(p *Plan) { p.CatsToUpdate = []string{clowder.ReservedCatName} }},
		{"reserved cat configured", func(p *Plan) { p.Cats[clowder.ReservedCatName] = cat.Config{} }},
		{"bad stopping kind", func(p *Plan) { p.EarlyStopping = &stopping.Config{Kind: "bogus"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testPlan()
			tt.mutate(&plan)
			_, err := NewRunner(plan, Options{})
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}

	plan := testPlan()
	plan.SelectOrder = []string{"cat1", clowder.ReservedCatName}
	r, err := NewRunner(plan, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, r.RunID())
}

func TestRun_InvalidRespondent(t *testing.T) {
	r := newTestRunner(t, testPlan())

	_, err := r.Run(context.Background(), []Respondent{{ID: ""}})
	assert.ErrorIs(t, err, ErrInvalidRespondent)

	_, err = r.Run(context.Background(), []Respondent{{ID: "r", Responses: map[string]int{"item-00": 2}}})
	assert.ErrorIs(t, err, ErrInvalidRespondent)
}

func TestRun_ContextCanceled(t *testing.T) {
	r := newTestRunner(t, testPlan())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, GenerateRespondents(3, []string{"cat1"}, 0, 1, "resp"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteCSV(t *testing.T) {
	results := []Result{
		{
			RunID:        "run",
			RespondentID: "r1",
			Trials: []Trial{
				{RunID: "run", RespondentID: "r1", TrialNum: 1, ItemID: "i1", CatToSelect: "cat1", Answer: 1,
					Theta: map[string]float64{"cat1": 0.5}, SEMeasurement: map[string]float64{"cat1": 1.25}},
				{RunID: "run", RespondentID: "r1", TrialNum: 2, ItemID: "i2", CatToSelect: "cat1", Answer: 0,
					Theta: map[string]float64{"cat1": -0.25}, SEMeasurement: map[string]float64{"cat1": 0.75}},
			},
			Theta:      map[string]float64{"cat1": -0.25},
			StopReason: "Early stopping",
		},
		{
			RunID:         "run",
			RespondentID:  "r2",
			Theta:         map[string]float64{"cat1": 0},
			SEMeasurement: map[string]float64{"cat1": 2},
			StopReason:    "No validated items remaining for specified corpus cat1",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, results))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"run_id", "respondent_id", "trial", "cat_to_select", "item_id", "answer", "theta_cat1", "se_cat1", "stop_reason"},
		{"run", "r1", "1", "cat1", "i1", "1", "0.5", "1.25", ""},
		{"run", "r1", "2", "cat1", "i2", "0", "-0.25", "0.75", "Early stopping"},
		{"run", "r2", "0", "", "", "", "0", "2", "No validated items remaining for specified corpus cat1"},
	}, rows)
}
