// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clowder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/services/cat"
	"github.com/AleutianAI/AleutianCAT/services/stopping"
)

func defaultZeta() corpus.Params {
	return corpus.Params{"a": 1, "b": 0, "c": 0, "d": 1}
}

func mkItem(id string, groups ...[]string) corpus.Item {
	zetas := make([]corpus.ZetaCatMap, 0, len(groups))
	for _, g := range groups {
		zetas = append(zetas, corpus.ZetaCatMap{Cats: g, Zeta: defaultZeta()})
	}
	return corpus.Item{
		ID:       id,
		Zetas:    zetas,
		Metadata: map[string]any{"content": "Multi-Zeta Stimulus content " + id},
	}
}

func testCorpus() []corpus.Item {
	return []corpus.Item{
		mkItem("0", []string{"cat1"}, []string{"cat2"}),
		mkItem("1", []string{"cat1"}, []string{"cat2"}),
		mkItem("2", []string{"cat1"}),
		mkItem("3", []string{"cat2"}),
		mkItem("4"),
	}
}

func testConfig() Config {
	return Config{
		Cats: map[string]cat.Config{
			"cat1": {Method: cat.MethodMLE, Theta: 0.5},
			"cat2": {Method: cat.MethodEAP, Theta: -1.0},
		},
		Corpus:     testCorpus(),
		RandomSeed: "clowder-seed",
	}
}

func newTestClowder(t *testing.T, mutate func(*Config)) *Clowder {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func itemIDs(items []corpus.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestNew(t *testing.T) {
	c := newTestClowder(t, nil)

	assert.Len(t, c.Cats(), 2)
	assert.Contains(t, c.Cats(), "cat1")
	assert.NotContains(t, c.Cats(), ReservedCatName)
	assert.Len(t, c.RemainingItems(), 5)
	assert.Len(t, c.Corpus(), 5)
	assert.Empty(t, c.SeenItems())
	assert.False(t, c.Stopped())
	assert.Empty(t, c.StopReason())
	assert.Nil(t, c.EarlyStopping())
	assert.Equal(t, map[string]float64{"cat1": 0.5, "cat2": -1.0}, c.Theta())
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name: "reserved cat name",
			mutate: func(cfg *Config) {
				cfg.Cats[ReservedCatName] = cat.Config{}
			},
			wantErr: ErrReservedCatName,
		},
		{
			name: "empty cat name",
			mutate: func(cfg *Config) {
				cfg.Cats[""] = cat.Config{}
			},
			wantErr: ErrInvalidCatName,
		},
		{
			name: "padded cat name",
			mutate: func(cfg *Config) {
				cfg.Cats[" cat3"] = cat.Config{}
			},
			wantErr: ErrInvalidCatName,
		},
		{
			name: "invalid cat config",
			mutate: func(cfg *Config) {
				cfg.Cats["cat1"] = cat.Config{Method: cat.Method(42)}
			},
			wantErr: cat.ErrInvalidMethod,
		},
		{
			name: "duplicate cat names",
			mutate: func(cfg *Config) {
				cfg.Corpus = append(cfg.Corpus, mkItem("5", []string{"cat1"}, []string{"cat1", "cat2"}))
			},
			wantErr: corpus.ErrDuplicateCatNames,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			c, err := New(cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, c)
		})
	}
}

func TestUpdateAbilityEstimates_OnlyNamedCats(t *testing.T) {
	c := newTestClowder(t, nil)

	require.NoError(t, c.UpdateAbilityEstimates([]string{"cat1"}, []corpus.Params{defaultZeta()}, []int{0}))

	assert.NotEqual(t, 0.5, c.Theta()["cat1"])
	assert.Equal(t, -1.0, c.Theta()["cat2"])
	assert.Equal(t, map[string]int{"cat1": 1, "cat2": 0}, c.NItems())
}

func TestUpdateAbilityEstimates_InvalidCat(t *testing.T) {
	c := newTestClowder(t, nil)

	err := c.UpdateAbilityEstimates([]string{"cat1", "invalidCatName"}, []corpus.Params{defaultZeta()}, []int{0})
	assert.ErrorIs(t, err, ErrInvalidCatName)
	assert.EqualError(t, err, "invalid cat name. Expected one of cat1, cat2. Received invalidCatName.")
	assert.Equal(t, 0, c.NItems()["cat1"], "no cat is updated when a name is invalid")

	err = c.UpdateAbilityEstimates([]string{ReservedCatName}, []corpus.Params{defaultZeta()}, []int{0})
	assert.ErrorIs(t, err, ErrInvalidCatName)
}

func TestAccessorsMirrorCats(t *testing.T) {
	c := newTestClowder(t, nil)
	require.NoError(t, c.UpdateAbilityEstimates([]string{"cat1"}, []corpus.Params{defaultZeta()}, []int{0}))
	require.NoError(t, c.UpdateAbilityEstimates([]string{"cat2"}, []corpus.Params{defaultZeta()}, []int{1}))

	cats := c.Cats()
	for name, ct := range cats {
		assert.Equal(t, ct.Theta(), c.Theta()[name], name)
		assert.Equal(t, ct.SEMeasurement(), c.SEMeasurement()[name], name)
		assert.Equal(t, ct.NItems(), c.NItems()[name], name)
		assert.Equal(t, ct.Resps(), c.Resps()[name], name)
		assert.Equal(t, ct.Zetas(), c.Zetas()[name], name)
	}
}

func TestUpdateCatAndGetNextItem_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	items := testCorpus()

	tests := []struct {
		name    string
		in      UpdateInput
		wantErr error
		wantMsg string
	}{
		{
			name:    "unknown cat to select",
			in:      UpdateInput{CatToSelect: "invalidCatName"},
			wantErr: ErrInvalidCatName,
			wantMsg: "Expected one of cat1, cat2. Received invalidCatName.",
		},
		{
			name:    "unknown cat to update",
			in:      UpdateInput{CatToSelect: "cat1", CatsToUpdate: []string{"invalidCatName", "cat2"}},
			wantErr: ErrInvalidCatName,
			wantMsg: "Received invalidCatName.",
		},
		{
			name:    "reserved cat to update",
			in:      UpdateInput{CatToSelect: "cat1", CatsToUpdate: []string{ReservedCatName}},
			wantErr: ErrInvalidCatName,
		},
		{
			name:    "unknown corpus to select from",
			in:      UpdateInput{CatToSelect: "cat1", CorpusToSelectFrom: "cat_typo"},
			wantErr: ErrInvalidCatName,
			wantMsg: "Received cat_typo.",
		},
		{
			name:    "length mismatch",
			in:      UpdateInput{CatToSelect: "cat1", Items: items[1:2], Answers: []int{1, 0}},
			wantErr: ErrLengthMismatch,
			wantMsg: "previous items and answers must have the same length",
		},
		{
			name:    "invalid answer",
			in:      UpdateInput{CatToSelect: "cat1", CatsToUpdate: []string{"cat1"}, Items: items[:1], Answers: []int{2}},
			wantErr: cat.ErrInvalidAnswer,
		},
		{
			name:    "invalid method",
			in:      UpdateInput{CatToSelect: "cat1", Method: cat.Method(9)},
			wantErr: cat.ErrInvalidMethod,
		},
		{
			name:    "start-only item select",
			in:      UpdateInput{CatToSelect: "cat1", ItemSelect: cat.SelectMiddle},
			wantErr: cat.ErrInvalidItemSelect,
		},
		{
			name:    "invalid mixing policy",
			in:      UpdateInput{CatToSelect: "cat1", Mixing: MixingPolicy(7)},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "invalid exhaustion policy",
			in:      UpdateInput{CatToSelect: "cat1", Exhaustion: ExhaustionPolicy(7)},
			wantErr: ErrInvalidPolicy,
		},
		{
			name: "redundant item params",
			in: UpdateInput{
				CatToSelect:  "cat1",
				CatsToUpdate: []string{"cat1"},
				Items: []corpus.Item{{
					ID:    "bad",
					Zetas: []corpus.ZetaCatMap{{Cats: []string{"cat1"}, Zeta: corpus.Params{"a": 1, "discrimination": 1}}},
				}},
				Answers: []int{1},
			},
			wantErr: corpus.ErrRedundantParam,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClowder(t, nil)
			next, err := c.UpdateCatAndGetNextItem(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.ErrorContains(t, err, tt.wantMsg)
			}
			assert.Nil(t, next)
			assert.Empty(t, c.SeenItems(), "state is untouched on error")
			assert.Len(t, c.RemainingItems(), 5)
			assert.Equal(t, map[string]int{"cat1": 0, "cat2": 0}, c.NItems())
		})
	}
}

func TestUpdateCatAndGetNextItem_SeenAndRemaining(t *testing.T) {
	ctx := context.Background()
	c := newTestClowder(t, nil)
	items := c.RemainingItems()

	_, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{
		CatToSelect:  "cat1",
		CatsToUpdate: []string{"cat1", "cat2"},
		Items:        items[:3],
		Answers:      []int{1, 1, 1},
	})
	require.NoError(t, err)

	assert.Len(t, c.SeenItems(), 3)
	assert.Len(t, c.RemainingItems(), 2)
	assert.Equal(t, []string{"3", "4"}, itemIDs(c.RemainingItems()))
	// Item 2 carries no parameters for cat2.
	assert.Equal(t, map[string]int{"cat1": 3, "cat2": 2}, c.NItems())
}

func TestUpdateCatAndGetNextItem_RebuiltItemIsSeen(t *testing.T) {
	c := newTestClowder(t, func(cfg *Config) {
		cfg.Corpus = append(cfg.Corpus, corpus.Item{ID: "bare", Zetas: []corpus.ZetaCatMap{}, Metadata: map[string]any{}})
	})

	_, err := c.UpdateCatAndGetNextItem(context.Background(), UpdateInput{
		CatToSelect: "cat1",
		Items:       []corpus.Item{{ID: "bare"}},
		Answers:     []int{0},
	})
	require.NoError(t, err)
	assert.NotContains(t, itemIDs(c.RemainingItems()), "bare")
	assert.Equal(t, []string{"bare"}, itemIDs(c.SeenItems()))
}

func TestUpdateCatAndGetNextItem_Exhaustion(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *Clowder {
		c := newTestClowder(t, nil)
		items := c.RemainingItems()
		_, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{
			CatToSelect:  "cat2",
			CatsToUpdate: []string{"cat1", "cat2"},
			Items:        items[:3],
			Answers:      []int{1, 1, 1},
		})
		require.NoError(t, err)
		return c
	}

	t.Run("stop", func(t *testing.T) {
		c := setup(t)
		next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat1"})
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.Equal(t, "No validated items remaining for specified corpus cat1", c.StopReason())
		assert.False(t, c.Stopped(), "exhaustion is not an early stop")
	})

	t.Run("random missing", func(t *testing.T) {
		c := setup(t)
		next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{
			CatToSelect: "cat1",
			Exhaustion:  ExhaustionRandomMissing,
		})
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Contains(t, []string{"3", "4"}, next.ID)
		assert.Empty(t, c.StopReason())
	})

	t.Run("validated pick clears reason", func(t *testing.T) {
		c := setup(t)
		_, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat1"})
		require.NoError(t, err)
		require.NotEmpty(t, c.StopReason())

		next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat2"})
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "3", next.ID)
		assert.Empty(t, c.StopReason())
	})
}

func TestUpdateCatAndGetNextItem_LogsCarryTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := newTestClowder(t, func(cfg *Config) {
		cfg.Corpus = []corpus.Item{mkItem("only-cat2", []string{"cat2"}), mkItem("stray", []string{"cat9"})}
		cfg.Logger = logger
	})
	assert.Contains(t, buf.String(), "corpus references unconfigured cats")
	assert.Contains(t, buf.String(), "cat9")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("clowder-test").Start(context.Background(), "session")
	defer span.End()

	next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat1"})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Contains(t, buf.String(), "corpus exhausted")
	assert.Contains(t, buf.String(), "trace_id="+span.SpanContext().TraceID().String())
}

func TestUpdateCatAndGetNextItem_CorpusToSelectFrom(t *testing.T) {
	ctx := context.Background()
	c := newTestClowder(t, nil)
	items := c.RemainingItems()

	next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{
		CatToSelect:        "cat1",
		CatsToUpdate:       []string{"cat1"},
		Items:              items[:3],
		Answers:            []int{1, 0, 1},
		CorpusToSelectFrom: "cat2",
	})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "3", next.ID)
	assert.Equal(t, items[3], *next)
}

func TestUpdateCatAndGetNextItem_Unvalidated(t *testing.T) {
	ctx := context.Background()
	c := newTestClowder(t, nil)

	next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: ReservedCatName})
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "4", next.ID)

	next, err = c.UpdateCatAndGetNextItem(ctx, UpdateInput{
		CatToSelect: ReservedCatName,
		Items:       []corpus.Item{*next},
		Answers:     []int{1},
	})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, ReasonNoUnvalidated, c.StopReason())
	assert.Equal(t, []string{"4"}, itemIDs(c.SeenItems()))
}

func TestUpdateCatAndGetNextItem_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	c := newTestClowder(t, nil)

	next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat1"})
	require.NoError(t, err)
	require.NotNil(t, next)

	next.Metadata["content"] = "changed"
	next.Zetas[0].Zeta["a"] = 99
	for _, it := range c.RemainingItems() {
		assert.NotEqual(t, "changed", it.Metadata["content"])
		for _, zm := range it.Zetas {
			assert.Equal(t, 1.0, zm.Zeta["a"], "item %s", it.ID)
		}
	}
}

func TestUpdateCatAndGetNextItem_MethodOverride(t *testing.T) {
	ctx := context.Background()
	mle := newTestClowder(t, nil)
	eap := newTestClowder(t, nil)
	items := mle.RemainingItems()

	in := UpdateInput{
		CatToSelect:  "cat1",
		CatsToUpdate: []string{"cat1"},
		Items:        items[:2],
		Answers:      []int{1, 1},
	}
	_, err := mle.UpdateCatAndGetNextItem(ctx, in)
	require.NoError(t, err)

	in.Method = cat.MethodEAP
	_, err = eap.UpdateCatAndGetNextItem(ctx, in)
	require.NoError(t, err)

	// All-correct responses push MLE to the bound; the prior keeps EAP finite.
	assert.InDelta(t, cat.DefaultMaxTheta, mle.Theta()["cat1"], 1e-9)
	assert.Greater(t, mle.Theta()["cat1"], eap.Theta()["cat1"])
	assert.Positive(t, eap.Theta()["cat1"])
}

func TestUpdateCatAndGetNextItem_MixingPolicy(t *testing.T) {
	ctx := context.Background()
	pool := []corpus.Item{mkItem("v", []string{"cat1"})}
	for i := range 9 {
		pool = append(pool, mkItem(fmt.Sprintf("u%d", i)))
	}
	mk := func(seed string) *Clowder {
		c, err := New(Config{
			Cats:       map[string]cat.Config{"cat1": {}},
			Corpus:     pool,
			RandomSeed: seed,
		})
		require.NoError(t, err)
		return c
	}

	var validated, unvalidated int
	for i := range 200 {
		c := mk(fmt.Sprintf("seed-%d", i))

		next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat1"})
		require.NoError(t, err)
		assert.Equal(t, "v", next.ID, "validated-only never mixes")

		next, err = c.UpdateCatAndGetNextItem(ctx, UpdateInput{CatToSelect: "cat1", Mixing: MixProportional})
		require.NoError(t, err)
		if next.ID == "v" {
			validated++
		} else {
			unvalidated++
		}
	}
	assert.Positive(t, validated)
	assert.Greater(t, unvalidated, validated)
}

func TestUpdateCatAndGetNextItem_EarlyStopping(t *testing.T) {
	ctx := context.Background()
	policy, err := stopping.NewStopAfterNItems(stopping.Input{
		RequiredItems: map[string]int{"cat1": 2},
	})
	require.NoError(t, err)

	c := newTestClowder(t, func(cfg *Config) { cfg.EarlyStopping = policy })
	items := c.RemainingItems()

	next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{
		CatToSelect:  "cat1",
		CatsToUpdate: []string{"cat1"},
		Items:        items[:1],
		Answers:      []int{1},
	})
	require.NoError(t, err)
	assert.NotNil(t, next)
	assert.False(t, c.Stopped())

	next, err = c.UpdateCatAndGetNextItem(ctx, UpdateInput{
		CatToSelect:  "cat1",
		CatsToUpdate: []string{"cat1"},
		Items:        items[1:2],
		Answers:      []int{0},
	})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.True(t, c.Stopped())
	assert.Equal(t, ReasonEarlyStopping, c.StopReason())

	// Sticky: later calls still update but never select.
	next, err = c.UpdateCatAndGetNextItem(ctx, UpdateInput{
		CatToSelect:  "cat2",
		CatsToUpdate: []string{"cat2"},
		Items:        items[3:4],
		Answers:      []int{1},
	})
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, ReasonEarlyStopping, c.StopReason())
	assert.Equal(t, 1, c.NItems()["cat2"])
	assert.Same(t, policy, c.EarlyStopping())
}

func TestUpdateCatAndGetNextItem_RandomIsReproducible(t *testing.T) {
	ctx := context.Background()
	run := func() []string {
		c := newTestClowder(t, func(cfg *Config) {
			cfg.Cats["cat1"] = cat.Config{ItemSelect: cat.SelectRandom, RandomSeed: "cat1-seed"}
		})
		var ids []string
		var last []corpus.Item
		var answers []int
		for {
			next, err := c.UpdateCatAndGetNextItem(ctx, UpdateInput{
				CatToSelect:  "cat1",
				CatsToUpdate: []string{"cat1"},
				Items:        last,
				Answers:      answers,
				Exhaustion:   ExhaustionRandomMissing,
			})
			require.NoError(t, err)
			if next == nil {
				return ids
			}
			ids = append(ids, next.ID)
			last, answers = []corpus.Item{*next}, []int{1}
		}
	}

	first := run()
	assert.ElementsMatch(t, []string{"0", "1", "2", "3", "4"}, first)
	assert.Equal(t, first, run())
}

func TestParsePolicies(t *testing.T) {
	m, err := ParseMixingPolicy("Proportional")
	require.NoError(t, err)
	assert.Equal(t, MixProportional, m)

	m, err = ParseMixingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MixValidatedOnly, m)

	_, err = ParseMixingPolicy("sometimes")
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	e, err := ParseExhaustionPolicy("random-missing")
	require.NoError(t, err)
	assert.Equal(t, ExhaustionRandomMissing, e)

	e, err = ParseExhaustionPolicy("stop")
	require.NoError(t, err)
	assert.Equal(t, ExhaustionStop, e)

	_, err = ParseExhaustionPolicy("panic")
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	assert.Equal(t, "validated-only", MixValidatedOnly.String())
	assert.Equal(t, "random-missing", ExhaustionRandomMissing.String())
}
