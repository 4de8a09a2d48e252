// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package simulation drives clowders with simulated respondents.
//
// Every respondent gets a fresh Clowder built from the same Plan, so
// respondents run concurrently without sharing tracker state. Seeds are
// derived per respondent and per cat, which makes a seeded run
// reproducible regardless of scheduling order.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/validation"
	"github.com/AleutianAI/AleutianCAT/services/cat"
	"github.com/AleutianAI/AleutianCAT/services/clowder"
	"github.com/AleutianAI/AleutianCAT/services/stopping"
)

var (
	// ErrInvalidPlan indicates a plan failing validation.
	ErrInvalidPlan = errors.New("invalid simulation plan")

	// ErrInvalidRespondent indicates a respondent failing validation.
	ErrInvalidRespondent = errors.New("invalid respondent")
)

// ReasonMaxItems is the stop reason recorded when a respondent reaches
// Plan.MaxItems.
const ReasonMaxItems = "Maximum items reached"

// DefaultProgressInterval is the minimum spacing of progress log lines.
const DefaultProgressInterval = 5 * time.Second

// =============================================================================
// Plan and Results
// =============================================================================

// Plan describes one simulated test form.
type Plan struct {
	// Cats configures the clowder's cats.
	Cats map[string]cat.Config `yaml:"cats" validate:"required,min=1"`

	// Corpus is the item pool.
	Corpus []corpus.Item `yaml:"-" validate:"required,min=1"`

	// EarlyStopping optionally builds a fresh policy per respondent.
	EarlyStopping *stopping.Config `yaml:"early_stopping,omitempty" validate:"-"`

	// RandomSeed makes the run reproducible. Empty means random.
	RandomSeed string `yaml:"random_seed"`

	// MaxItems caps items per respondent. 0 means no cap.
	MaxItems int `yaml:"max_items" validate:"gte=0"`

	// SelectOrder lists the cats that select items, in rotation.
	// Default: every cat, sorted by name.
	SelectOrder []string `yaml:"select_order,omitempty" validate:"omitempty,dive,required"`

	// CatsToUpdate are updated after every answer. Default: every cat.
	CatsToUpdate []string `yaml:"cats_to_update,omitempty" validate:"omitempty,dive,required"`

	// CorpusToSelectFrom overrides the selection corpus for every call.
	CorpusToSelectFrom string `yaml:"corpus_to_select_from,omitempty"`

	Mixing     clowder.MixingPolicy     `yaml:"mixing"`
	Exhaustion clowder.ExhaustionPolicy `yaml:"exhaustion"`
}

// Trial is one administered item.
type Trial struct {
	RunID        string
	RespondentID string
	TrialNum     int
	ItemID       string
	CatToSelect  string
	Answer       int

	// Theta and SEMeasurement are the estimates after the answer.
	Theta         map[string]float64
	SEMeasurement map[string]float64
}

// Result is one respondent's session.
type Result struct {
	RunID         string
	RespondentID  string
	Trials        []Trial
	Theta         map[string]float64
	SEMeasurement map[string]float64
	NItems        map[string]int
	StopReason    string
}

// =============================================================================
// Runner
// =============================================================================

// Options tunes a Runner.
type Options struct {
	// Concurrency bounds respondents in flight. Default: GOMAXPROCS.
	Concurrency int

	// RunID labels every trial. Default: a random UUID.
	RunID string

	// Logger receives progress. Nil discards it.
	Logger *slog.Logger

	// ProgressInterval spaces progress lines. Default 5s.
	ProgressInterval time.Duration
}

// Runner executes a Plan for many respondents.
type Runner struct {
	plan     Plan
	order    []string
	update   []string
	opts     Options
	logger   *slog.Logger
	progress *rate.Sometimes
}

// NewRunner validates plan and returns a Runner.
//
// Description:
//
//	Beyond tag validation, every name in SelectOrder must be a configured
//	cat or the reserved cat, every name in CatsToUpdate must be a
//	configured cat, and one clowder is built eagerly so that cat, corpus
//	and stopping configuration errors surface here instead of per
//	respondent.
func NewRunner(plan Plan, opts Options) (*Runner, error) {
	if err := validation.Struct(plan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	names := slices.Sorted(maps.Keys(plan.Cats))
	order := plan.SelectOrder
	if len(order) == 0 {
		order = names
	}
	for _, name := range order {
		if _, ok := plan.Cats[name]; !ok && name != clowder.ReservedCatName {
			return nil, fmt.Errorf("%w: select_order names unknown cat %q", ErrInvalidPlan, name)
		}
	}
	if name := plan.CorpusToSelectFrom; name != "" {
		if _, ok := plan.Cats[name]; !ok && name != clowder.ReservedCatName {
			return nil, fmt.Errorf("%w: corpus_to_select_from names unknown cat %q", ErrInvalidPlan, name)
		}
	}
	update := plan.CatsToUpdate
	if len(update) == 0 {
		update = names
	}
	for _, name := range update {
		if _, ok := plan.Cats[name]; !ok {
			return nil, fmt.Errorf("%w: cats_to_update names unknown cat %q", ErrInvalidPlan, name)
		}
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Runner{
		plan:     plan,
		order:    slices.Clone(order),
		update:   slices.Clone(update),
		opts:     opts,
		logger:   logger.With("run_id", opts.RunID),
		progress: &rate.Sometimes{First: 1, Interval: opts.ProgressInterval},
	}
	if _, err := r.newClowder(plan.RandomSeed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return r, nil
}

// RunID returns the run identifier stamped on every trial.
func (r *Runner) RunID() string { return r.opts.RunID }

func (r *Runner) newClowder(seed string) (*clowder.Clowder, error) {
	var policy stopping.EarlyStopping
	if r.plan.EarlyStopping != nil {
		in := r.plan.EarlyStopping.Input
		in.Logger = r.logger
		p, err := stopping.New(r.plan.EarlyStopping.Kind, in)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	cats := make(map[string]cat.Config, len(r.plan.Cats))
	for name, cc := range r.plan.Cats {
		if cc.RandomSeed == "" && seed != "" {
			cc.RandomSeed = seed + "/" + name
		}
		cats[name] = cc
	}
	return clowder.New(clowder.Config{
		Cats:          cats,
		Corpus:        r.plan.Corpus,
		RandomSeed:    seed,
		EarlyStopping: policy,
		Logger:        r.logger,
	})
}

// Run simulates every respondent.
//
// Description:
//
//	Respondents are validated up front, then run concurrently, bounded by
//	Options.Concurrency. The first failure cancels the remaining work.
//	Results are returned in respondent order.
//
// Outputs:
//
//	[]Result - One result per respondent.
//	error - Wraps ErrInvalidRespondent, a clowder error or ctx's error.
func (r *Runner) Run(ctx context.Context, respondents []Respondent) ([]Result, error) {
	for i, resp := range respondents {
		if err := validation.Struct(resp); err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidRespondent, i, err)
		}
	}

	start := time.Now()
	results := make([]Result, len(respondents))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, resp := range respondents {
		g.Go(func() error {
			res, err := r.RunRespondent(gctx, resp)
			if err != nil {
				return fmt.Errorf("respondent %q: %w", resp.ID, err)
			}
			results[i] = res

			n := done.Add(1)
			r.progress.Do(func() {
				r.logger.Info("simulation progress",
					"completed", n,
					"total", len(respondents),
				)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("simulation complete",
		"respondents", len(respondents),
		"duration", time.Since(start),
	)
	return results, nil
}

// RunRespondent simulates one respondent with a fresh clowder.
//
// Each iteration answers the previously selected item, updates every cat
// in CatsToUpdate and selects the next item for the next cat in
// SelectOrder. The session ends when the clowder returns no item or
// MaxItems is reached.
func (r *Runner) RunRespondent(ctx context.Context, resp Respondent) (Result, error) {
	start := time.Now()

	var seed, responseSeed string
	if r.plan.RandomSeed != "" {
		seed = r.plan.RandomSeed + "/" + resp.ID
		responseSeed = seed + "/responses"
	}
	c, err := r.newClowder(seed)
	if err != nil {
		return Result{}, err
	}
	rng := cat.NewRand(responseSeed)

	res := Result{RunID: r.opts.RunID, RespondentID: resp.ID}
	outcome := outcomeExhausted

	var items []corpus.Item
	var answers []int
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		catToSelect := r.order[i%len(r.order)]
		next, err := c.UpdateCatAndGetNextItem(ctx, clowder.UpdateInput{
			CatToSelect:        catToSelect,
			CatsToUpdate:       r.update,
			Items:              items,
			Answers:            answers,
			CorpusToSelectFrom: r.plan.CorpusToSelectFrom,
			Mixing:             r.plan.Mixing,
			Exhaustion:         r.plan.Exhaustion,
		})
		if err != nil {
			return Result{}, err
		}
		if n := len(res.Trials); n > 0 {
			res.Trials[n-1].Theta = c.Theta()
			res.Trials[n-1].SEMeasurement = c.SEMeasurement()
		}

		if r.plan.MaxItems > 0 && len(res.Trials) >= r.plan.MaxItems {
			res.StopReason = ReasonMaxItems
			outcome = outcomeMaxItems
			break
		}
		if next == nil {
			res.StopReason = c.StopReason()
			if c.Stopped() {
				outcome = outcomeEarlyStop
			}
			break
		}

		answer := resp.Answer(*next, catToSelect, rng)
		res.Trials = append(res.Trials, Trial{
			RunID:        r.opts.RunID,
			RespondentID: resp.ID,
			TrialNum:     len(res.Trials) + 1,
			ItemID:       next.ID,
			CatToSelect:  catToSelect,
			Answer:       answer,
		})
		items, answers = []corpus.Item{*next}, []int{answer}
	}

	res.Theta = c.Theta()
	res.SEMeasurement = c.SEMeasurement()
	res.NItems = c.NItems()

	respondentsTotal.WithLabelValues(outcome).Inc()
	trialsTotal.Add(float64(len(res.Trials)))
	testLength.Observe(float64(len(res.Trials)))
	respondentDuration.Observe(time.Since(start).Seconds())

	r.logger.Debug("respondent finished",
		"respondent_id", resp.ID,
		"trials", len(res.Trials),
		"stop_reason", res.StopReason,
	)
	return res, nil
}
