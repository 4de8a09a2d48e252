// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clowder coordinates several named cats over one shared corpus of
// multi-cat items.
//
// A Clowder keeps the remaining and seen partitions of its corpus, routes
// each answered item to the cats it carries parameters for, consults an
// optional early stopping policy, and selects the next item for one cat.
// It always holds a reserved cat named "unvalidated" that draws items
// carrying no parameters for any cat.
//
// # Thread Safety
//
// A Clowder is not safe for concurrent use.
package clowder

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/telemetry"
	"github.com/AleutianAI/AleutianCAT/pkg/validation"
	"github.com/AleutianAI/AleutianCAT/services/cat"
	"github.com/AleutianAI/AleutianCAT/services/stopping"
)

// =============================================================================
// Errors and Constants
// =============================================================================

var (
	// ErrInvalidCatName indicates a reference to an unknown cat.
	ErrInvalidCatName = errors.New("invalid cat name")

	// ErrReservedCatName indicates a configured cat using the reserved name.
	ErrReservedCatName = errors.New("reserved cat name")

	// ErrLengthMismatch indicates items and answers of different lengths.
	ErrLengthMismatch = errors.New("previous items and answers must have the same length")

	// ErrInvalidPolicy indicates an unknown mixing or exhaustion policy.
	ErrInvalidPolicy = errors.New("invalid clowder policy")
)

const (
	// ReservedCatName is the pseudo-cat that selects unvalidated items.
	ReservedCatName = validation.ReservedCatName

	// ReasonEarlyStopping is the stop reason recorded when the early
	// stopping policy triggers.
	ReasonEarlyStopping = "Early stopping"

	// ReasonNoUnvalidated is the stop reason recorded when the reserved cat
	// finds no unvalidated items.
	ReasonNoUnvalidated = "No unvalidated items remaining"
)

// exhaustedReason is the stop reason recorded when corpusName has no
// validated items left.
func exhaustedReason(corpusName string) string {
	return fmt.Sprintf("No validated items remaining for specified corpus %s", corpusName)
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Clowder.
type Config struct {
	// Cats maps cat names to their configurations. "unvalidated" is reserved.
	Cats map[string]cat.Config

	// Corpus is the shared item pool. It is copied on construction.
	Corpus []corpus.Item

	// RandomSeed seeds the clowder and the reserved cat. Empty means
	// non-reproducible.
	RandomSeed string

	// EarlyStopping is an optional stopping policy.
	EarlyStopping stopping.EarlyStopping

	// Logger receives clowder events. Nil discards them. Cats without their
	// own logger inherit it with a "cat" attribute.
	Logger *slog.Logger
}

// UpdateInput is the argument to UpdateCatAndGetNextItem.
type UpdateInput struct {
	// CatToSelect is the cat selecting the next item. The reserved name is
	// allowed and draws from items without parameters.
	CatToSelect string

	// CatsToUpdate are the cats whose estimates absorb Items and Answers.
	CatsToUpdate []string

	// Items are the items answered since the previous call.
	Items []corpus.Item

	// Answers are the responses to Items, 0 or 1.
	Answers []int

	// Method overrides each updated cat's estimation method.
	Method cat.Method

	// ItemSelect overrides CatToSelect's selection strategy.
	ItemSelect cat.ItemSelect

	// CorpusToSelectFrom names the parameter group used for selection.
	// Empty means CatToSelect. Otherwise it must name a configured cat or
	// the reserved cat.
	CorpusToSelectFrom string

	// Mixing controls interleaving of unvalidated items.
	Mixing MixingPolicy

	// Exhaustion controls what happens when no validated items remain.
	Exhaustion ExhaustionPolicy
}

// =============================================================================
// Clowder
// =============================================================================

// Clowder manages named cats sharing a corpus.
type Clowder struct {
	// cats includes the reserved cat.
	cats map[string]*cat.Cat

	corpus    []corpus.Item
	remaining []corpus.Item
	seen      []corpus.Item

	earlyStopping stopping.EarlyStopping
	stopped       bool
	stopReason    string

	rng    *rand.Rand
	logger *slog.Logger
}

// New creates a Clowder.
//
// Description:
//
//	Builds one cat per configuration plus the reserved "unvalidated" cat
//	with random selection and the clowder's seed. Rejects the reserved name
//	and malformed names as configured cats, and rejects a corpus in which
//	any item lists the same cat in more than one of its entries.
//
// Outputs:
//
//	*Clowder - The new clowder with every corpus item remaining.
//	error - Wraps ErrReservedCatName, ErrInvalidCatName,
//	        corpus.ErrDuplicateCatNames or a cat configuration error.
func New(cfg Config) (*Clowder, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cats := make(map[string]*cat.Cat, len(cfg.Cats)+1)
	for _, name := range slices.Sorted(maps.Keys(cfg.Cats)) {
		if name == ReservedCatName {
			return nil, fmt.Errorf("%w: %q may not be used as a cat name", ErrReservedCatName, name)
		}
		if err := validation.ValidateCatName(name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatName, err)
		}
		cc := cfg.Cats[name]
		if cc.Logger == nil {
			cc.Logger = logger.With("cat", name)
		}
		c, err := cat.New(cc)
		if err != nil {
			return nil, fmt.Errorf("cat %q: %w", name, err)
		}
		cats[name] = c
	}

	unvalidated, err := cat.New(cat.Config{
		ItemSelect: cat.SelectRandom,
		RandomSeed: cfg.RandomSeed,
		Logger:     logger.With("cat", ReservedCatName),
	})
	if err != nil {
		return nil, fmt.Errorf("cat %q: %w", ReservedCatName, err)
	}
	cats[ReservedCatName] = unvalidated

	if err := corpus.CheckNoDuplicateCatNames(cfg.Corpus); err != nil {
		return nil, err
	}
	var unconfigured []string
	for _, name := range corpus.CatNames(cfg.Corpus) {
		if _, ok := cfg.Cats[name]; !ok {
			unconfigured = append(unconfigured, name)
		}
	}
	if len(unconfigured) > 0 {
		logger.Debug("corpus references unconfigured cats", "cats", unconfigured)
	}

	return &Clowder{
		cats:          cats,
		corpus:        corpus.CloneItems(cfg.Corpus),
		remaining:     corpus.CloneItems(cfg.Corpus),
		seen:          []corpus.Item{},
		earlyStopping: cfg.EarlyStopping,
		rng:           cat.NewRand(cfg.RandomSeed),
		logger:        logger,
	}, nil
}

// =============================================================================
// Accessors
// =============================================================================

// Cats returns the configured cats by name, excluding the reserved cat.
func (c *Clowder) Cats() map[string]*cat.Cat {
	out := make(map[string]*cat.Cat, len(c.cats)-1)
	for name, ct := range c.cats {
		if name != ReservedCatName {
			out[name] = ct
		}
	}
	return out
}

// Corpus returns a copy of the corpus given at construction.
func (c *Clowder) Corpus() []corpus.Item { return corpus.CloneItems(c.corpus) }

// RemainingItems returns a copy of the items not yet seen.
func (c *Clowder) RemainingItems() []corpus.Item { return corpus.CloneItems(c.remaining) }

// SeenItems returns a copy of the items seen so far, in order.
func (c *Clowder) SeenItems() []corpus.Item { return corpus.CloneItems(c.seen) }

// Theta returns each configured cat's ability estimate.
func (c *Clowder) Theta() map[string]float64 {
	return collect(c, (*cat.Cat).Theta)
}

// SEMeasurement returns each configured cat's standard error.
func (c *Clowder) SEMeasurement() map[string]float64 {
	return collect(c, (*cat.Cat).SEMeasurement)
}

// NItems returns each configured cat's item count.
func (c *Clowder) NItems() map[string]int {
	return collect(c, (*cat.Cat).NItems)
}

// Resps returns each configured cat's response history.
func (c *Clowder) Resps() map[string][]int {
	return collect(c, (*cat.Cat).Resps)
}

// Zetas returns each configured cat's administered parameter sets.
func (c *Clowder) Zetas() map[string][]corpus.Params {
	return collect(c, (*cat.Cat).Zetas)
}

// EarlyStopping returns the attached policy, or nil.
func (c *Clowder) EarlyStopping() stopping.EarlyStopping { return c.earlyStopping }

// Stopped reports whether the early stopping policy has halted the clowder.
func (c *Clowder) Stopped() bool { return c.stopped }

// StopReason explains the most recent call that returned no item. It is
// empty after a call that returned one, unless the clowder has stopped.
func (c *Clowder) StopReason() string { return c.stopReason }

func collect[V any](c *Clowder, get func(*cat.Cat) V) map[string]V {
	out := make(map[string]V, len(c.cats)-1)
	for name, ct := range c.cats {
		if name != ReservedCatName {
			out[name] = get(ct)
		}
	}
	return out
}

// configuredNames returns the sorted configured cat names.
func (c *Clowder) configuredNames() []string {
	return slices.Sorted(maps.Keys(c.Cats()))
}

// validateCatName rejects unknown names. The reserved name is accepted only
// when allowReserved is set.
func (c *Clowder) validateCatName(name string, allowReserved bool) error {
	if _, ok := c.cats[name]; ok && (allowReserved || name != ReservedCatName) {
		return nil
	}
	return fmt.Errorf("%w. Expected one of %s. Received %s.",
		ErrInvalidCatName, strings.Join(c.configuredNames(), ", "), name)
}

// =============================================================================
// Updates
// =============================================================================

// UpdateAbilityEstimates applies the same responses to each named cat.
//
// Every name is checked before any cat is updated. The reserved cat cannot
// be updated.
func (c *Clowder) UpdateAbilityEstimates(catNames []string, zetas []corpus.Params, answers []int) error {
	for _, name := range catNames {
		if err := c.validateCatName(name, false); err != nil {
			return err
		}
	}
	for _, name := range catNames {
		if err := c.cats[name].UpdateAbilityEstimate(zetas, answers); err != nil {
			return fmt.Errorf("cat %q: %w", name, err)
		}
	}
	return nil
}

// UpdateCatAndGetNextItem records answered items and selects the next one.
//
// Description:
//
//	The call validates its input, moves Items from remaining to seen,
//	updates each cat in CatsToUpdate with the parameters the items carry
//	for it, feeds the early stopping policy and finally selects the next
//	item for CatToSelect. All validation happens before any state change.
//
//	Items without parameters for an updated cat are skipped for that cat.
//	Once the early stopping policy triggers, this and every later call
//	returns nil with StopReason "Early stopping". Exhausting the validated
//	items of the selection corpus is not an error: depending on
//	Exhaustion the call returns nil with a stop reason or a random item
//	lacking parameters.
//
// Inputs:
//
//	ctx - Context for tracing.
//	in - Names, answered items, overrides and policies.
//
// Outputs:
//
//	*corpus.Item - A copy of the next item, or nil.
//	error - Wraps ErrInvalidCatName, ErrLengthMismatch, ErrInvalidPolicy or
//	        a cat validation error.
func (c *Clowder) UpdateCatAndGetNextItem(ctx context.Context, in UpdateInput) (*corpus.Item, error) {
	start := time.Now()
	ctx, span := startUpdateSpan(ctx, in)
	defer span.End()

	next, source, err := c.updateAndSelect(ctx, in)

	var itemID string
	if next != nil {
		itemID = next.ID
	}
	setUpdateSpanResult(span, source, itemID, c.stopReason, err)
	recordUpdateMetrics(ctx, time.Since(start), len(in.Items), source, err == nil)
	return next, err
}

func (c *Clowder) updateAndSelect(ctx context.Context, in UpdateInput) (*corpus.Item, string, error) {
	//           +------------+
	// ----------|  Validate  |----------|
	//           +------------+
	batches, err := c.validateUpdate(in)
	if err != nil {
		return nil, sourceNone, err
	}
	logger := telemetry.LoggerWithTrace(ctx, c.logger)

	//           +----------+
	// ----------|  Update  |----------|
	//           +----------+
	c.markSeen(in.Items)
	for _, b := range batches {
		if err := c.cats[b.cat].UpdateAbilityEstimateWith(in.Method, b.zetas, b.answers); err != nil {
			return nil, sourceNone, fmt.Errorf("cat %q: %w", b.cat, err)
		}
	}

	if c.earlyStopping != nil && !c.stopped {
		if err := c.earlyStopping.Update(c.measurements(), in.CatToSelect); err != nil {
			return nil, sourceNone, err
		}
		if c.earlyStopping.EarlyStop() {
			c.stopped = true
			c.stopReason = ReasonEarlyStopping
			logger.Info("clowder stopped early",
				"cat_to_select", in.CatToSelect,
				"n_items", c.NItems(),
			)
			recordEarlyStop(ctx)
		}
	}
	if c.stopped {
		return nil, sourceNone, nil
	}

	//           +----------+
	// ----------|  Select  |----------|
	//           +----------+
	c.stopReason = ""
	if in.CatToSelect == ReservedCatName {
		return c.selectUnvalidated()
	}
	return c.selectValidated(in, logger)
}

// catBatch is the subsequence of an update that applies to one cat.
type catBatch struct {
	cat     string
	zetas   []corpus.Params
	answers []int
}

// validateUpdate checks in and builds the per-cat update batches without
// touching any state.
func (c *Clowder) validateUpdate(in UpdateInput) ([]catBatch, error) {
	if err := c.validateCatName(in.CatToSelect, true); err != nil {
		return nil, err
	}
	if in.CorpusToSelectFrom != "" {
		if err := c.validateCatName(in.CorpusToSelectFrom, true); err != nil {
			return nil, fmt.Errorf("corpus to select from: %w", err)
		}
	}
	for _, name := range in.CatsToUpdate {
		if err := c.validateCatName(name, false); err != nil {
			return nil, err
		}
	}
	if len(in.Items) != len(in.Answers) {
		return nil, fmt.Errorf("%w: %d items, %d answers", ErrLengthMismatch, len(in.Items), len(in.Answers))
	}
	if in.Method != cat.MethodDefault && !in.Method.Valid() {
		return nil, fmt.Errorf("%w: %s", cat.ErrInvalidMethod, in.Method)
	}
	if in.ItemSelect != cat.SelectDefault && !in.ItemSelect.ValidItemSelect() {
		return nil, fmt.Errorf("%w: %s", cat.ErrInvalidItemSelect, in.ItemSelect)
	}
	switch in.Mixing {
	case MixValidatedOnly, MixProportional:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, in.Mixing)
	}
	switch in.Exhaustion {
	case ExhaustionStop, ExhaustionRandomMissing:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, in.Exhaustion)
	}
	for i, a := range in.Answers {
		if a != 0 && a != 1 {
			return nil, fmt.Errorf("%w: answer %d is %d", cat.ErrInvalidAnswer, i, a)
		}
	}

	var batches []catBatch
	for _, name := range in.CatsToUpdate {
		b := catBatch{cat: name}
		for i, it := range in.Items {
			zeta, ok := it.ZetaFor(name)
			if !ok {
				continue
			}
			if err := corpus.Validate(zeta, true); err != nil {
				return nil, fmt.Errorf("cat %q, item %q: %w", name, it.ID, err)
			}
			b.zetas = append(b.zetas, zeta)
			b.answers = append(b.answers, in.Answers[i])
		}
		if len(b.zetas) > 0 {
			batches = append(batches, b)
		}
	}
	return batches, nil
}

// markSeen appends items to seen and removes every equal item from
// remaining.
func (c *Clowder) markSeen(items []corpus.Item) {
	if len(items) == 0 {
		return
	}
	for _, it := range items {
		c.seen = append(c.seen, it.Clone())
	}
	c.remaining = slices.DeleteFunc(c.remaining, func(r corpus.Item) bool {
		return slices.ContainsFunc(items, r.Equal)
	})
}

func (c *Clowder) measurements() map[string]stopping.Measurement {
	out := make(map[string]stopping.Measurement, len(c.cats)-1)
	for name, ct := range c.cats {
		if name != ReservedCatName {
			out[name] = ct
		}
	}
	return out
}

// =============================================================================
// Selection
// =============================================================================

// selectValidated selects for a configured cat from the items carrying
// parameters for the selection corpus, then applies the mixing and
// exhaustion policies.
func (c *Clowder) selectValidated(in UpdateInput, logger *slog.Logger) (*corpus.Item, string, error) {
	corpusName := cmp.Or(in.CorpusToSelectFrom, in.CatToSelect)
	available, missing := corpus.FilterByCatAvailability(c.remaining, corpusName)

	if len(available) == 0 {
		if in.Exhaustion == ExhaustionRandomMissing && len(missing) > 0 {
			return c.pickRandom(missing), sourceFallback, nil
		}
		c.stopReason = exhaustedReason(corpusName)
		logger.Info("corpus exhausted",
			"cat_to_select", in.CatToSelect,
			"corpus", corpusName,
			"remaining", len(c.remaining),
		)
		return nil, sourceNone, nil
	}

	next, err := c.selectWith(c.cats[in.CatToSelect], available, corpusName, in.ItemSelect)
	if err != nil {
		return nil, sourceNone, err
	}

	if in.Mixing == MixProportional && len(missing) > 0 {
		share := float64(len(missing)) / float64(len(available)+len(missing))
		if c.rng.Float64() < share {
			return c.pickRandom(missing), sourceMixed, nil
		}
	}
	return next, sourceValidated, nil
}

// selectUnvalidated draws through the reserved cat from the remaining
// items that carry no parameters for any cat.
func (c *Clowder) selectUnvalidated() (*corpus.Item, string, error) {
	var pool []corpus.Item
	for _, it := range c.remaining {
		if !it.Validated() {
			pool = append(pool, it)
		}
	}
	if len(pool) == 0 {
		c.stopReason = ReasonNoUnvalidated
		return nil, sourceNone, nil
	}

	next, err := c.selectWith(c.cats[ReservedCatName], pool, ReservedCatName, cat.SelectDefault)
	if err != nil {
		return nil, sourceNone, err
	}
	return next, sourceUnvalidated, nil
}

// selectWith projects pool onto corpusName, lets ct choose and maps the
// chosen stimulus back to its item.
func (c *Clowder) selectWith(ct *cat.Cat, pool []corpus.Item, corpusName string, sel cat.ItemSelect) (*corpus.Item, error) {
	stimuli := make([]corpus.Stimulus, len(pool))
	for i, it := range pool {
		stimuli[i], _ = it.StimulusFor(corpusName)
	}

	out, err := ct.FindNextItemInPlace(stimuli, sel)
	if err != nil {
		return nil, err
	}
	if out.Next == nil {
		return nil, nil
	}
	return reconcile(pool, corpusName, *out.Next), nil
}

// reconcile finds the item in pool that s was projected from.
func reconcile(pool []corpus.Item, corpusName string, s corpus.Stimulus) *corpus.Item {
	for _, it := range pool {
		if it.ID != s.ID || !reflect.DeepEqual(it.Metadata, s.Metadata) {
			continue
		}
		zeta, _ := it.ZetaFor(corpusName)
		if maps.Equal(corpus.FillDefaults(zeta, corpus.Semantic), s.Params) {
			out := it.Clone()
			return &out
		}
	}
	return nil
}

// pickRandom returns a copy of a uniformly drawn item.
func (c *Clowder) pickRandom(items []corpus.Item) *corpus.Item {
	out := items[cat.RandomInteger(c.rng, 0, len(items)-1)].Clone()
	return &out
}
