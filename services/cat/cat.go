// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cat implements a single computerized adaptive testing session:
// ability estimation from a response history and selection of the next
// item from a candidate pool.
//
// # Lifecycle
//
//	c, err := cat.New(cat.Config{Method: cat.MethodEAP, RandomSeed: "s1"})
//	sel, err := c.FindNextItem(stimuli, cat.SelectDefault)
//	// administer sel.Next ...
//	err = c.Update(sel.Next.Params, 1)
//
// # Thread Safety
//
// A Cat is not safe for concurrent use. Callers sharing one Cat across
// goroutines must serialize access.
package cat

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/optimize"

	"github.com/AleutianAI/AleutianCAT/pkg/corpus"
	"github.com/AleutianAI/AleutianCAT/pkg/irt"
)

// mleMaxIterations bounds the MLE minimizer.
const mleMaxIterations = 1000

// Cat tracks one respondent's ability on one construct.
type Cat struct {
	cfg Config

	zetas []corpus.Params
	resps []int

	theta         float64
	seMeasurement float64

	// prior is nil when the prior configuration is invalid; priorErr then
	// explains why and EAP updates fail with it.
	prior    irt.Table
	priorErr error

	rng    *rand.Rand
	logger *slog.Logger
}

// New creates a Cat from cfg.
//
// Description:
//
//	Resolves defaults and validates the configuration eagerly. The prior
//	configuration is only required to be valid when the configured method
//	is EAP; for MLE cats an invalid prior is reported lazily if an EAP
//	update is requested.
//
// Outputs:
//
//	*Cat - The new cat with SEMeasurement at math.MaxFloat64.
//	error - Wraps ErrInvalidMethod, ErrInvalidItemSelect,
//	        ErrInvalidStartSelect, ErrInvalidPrior or ErrInvalidConfig.
func New(cfg Config) (*Cat, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	prior, priorErr := cfg.buildPrior()
	if priorErr != nil && cfg.Method == MethodEAP {
		return nil, priorErr
	}

	return &Cat{
		cfg:           cfg,
		zetas:         []corpus.Params{},
		resps:         []int{},
		theta:         cfg.Theta,
		seMeasurement: math.MaxFloat64,
		prior:         prior,
		priorErr:      priorErr,
		rng:           NewRand(cfg.RandomSeed),
		logger:        cfg.Logger,
	}, nil
}

// =============================================================================
// Accessors
// =============================================================================

// Theta returns the current ability estimate.
func (c *Cat) Theta() float64 { return c.theta }

// SEMeasurement returns the current standard error of measurement.
//
// Before any update it is math.MaxFloat64; once items are administered it
// is +Inf if they carry no information.
func (c *Cat) SEMeasurement() float64 { return c.seMeasurement }

// NItems returns the number of administered items.
func (c *Cat) NItems() int { return len(c.resps) }

// Resps returns a copy of the response history.
func (c *Cat) Resps() []int { return slices.Clone(c.resps) }

// Zetas returns a copy of the administered parameter sets.
func (c *Cat) Zetas() []corpus.Params {
	out := make([]corpus.Params, len(c.zetas))
	for i, z := range c.zetas {
		out[i] = z.Clone()
	}
	return out
}

// Prior returns the discretized prior, or nil if the prior configuration is invalid.
func (c *Cat) Prior() irt.Table { return c.prior }

// Config returns the resolved configuration.
func (c *Cat) Config() Config {
	cfg := c.cfg
	cfg.PriorPar = slices.Clone(cfg.PriorPar)
	cfg.MinTheta = ThetaBound(*cfg.MinTheta)
	cfg.MaxTheta = ThetaBound(*cfg.MaxTheta)
	return cfg
}

// Method returns the configured estimation method.
func (c *Cat) Method() Method { return c.cfg.Method }

// ItemSelect returns the configured selection strategy.
func (c *Cat) ItemSelect() ItemSelect { return c.cfg.ItemSelect }

// StartSelect returns the configured start-phase strategy.
func (c *Cat) StartSelect() ItemSelect { return c.cfg.StartSelect }

// NStartItems returns the length of the start phase.
func (c *Cat) NStartItems() int { return c.cfg.NStartItems }

// MinTheta returns the lower theta bound.
func (c *Cat) MinTheta() float64 { return *c.cfg.MinTheta }

// MaxTheta returns the upper theta bound.
func (c *Cat) MaxTheta() float64 { return *c.cfg.MaxTheta }

// =============================================================================
// Ability Estimation
// =============================================================================

// Update records one response and re-estimates with the configured method.
func (c *Cat) Update(zeta corpus.Params, answer int) error {
	return c.UpdateAbilityEstimateWith(MethodDefault, []corpus.Params{zeta}, []int{answer})
}

// UpdateAbilityEstimate records responses and re-estimates with the
// configured method.
func (c *Cat) UpdateAbilityEstimate(zetas []corpus.Params, answers []int) error {
	return c.UpdateAbilityEstimateWith(MethodDefault, zetas, answers)
}

// UpdateAbilityEstimateWith records responses and re-estimates theta.
//
// Description:
//
//	Every parameter set and answer is validated before any state changes,
//	so a failed call leaves the cat untouched. On success the pairs are
//	appended to the history, theta is re-estimated over the full history
//	with method (MethodDefault uses the configured method), clamped to the
//	theta bounds, and the standard error is recomputed.
//
// Inputs:
//
//	method - Estimation method for this update.
//	zetas - Item parameter sets; each must resolve all four quantities.
//	answers - Responses, 0 or 1, parallel to zetas.
//
// Outputs:
//
//	error - Wraps ErrInvalidMethod, ErrInvalidPrior, ErrLengthMismatch,
//	        ErrInvalidAnswer, corpus.ErrRedundantParam or
//	        corpus.ErrMissingParam.
func (c *Cat) UpdateAbilityEstimateWith(method Method, zetas []corpus.Params, answers []int) error {
	if method == MethodDefault {
		method = c.cfg.Method
	}
	if !method.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidMethod, method)
	}
	if method == MethodEAP && c.priorErr != nil {
		return c.priorErr
	}
	if len(zetas) != len(answers) {
		return fmt.Errorf("%w: %d item params, %d answers", ErrLengthMismatch, len(zetas), len(answers))
	}
	for i, z := range zetas {
		if err := corpus.Validate(z, true); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	for i, a := range answers {
		if a != 0 && a != 1 {
			return fmt.Errorf("%w: answer %d is %d", ErrInvalidAnswer, i, a)
		}
	}

	for _, z := range zetas {
		c.zetas = append(c.zetas, z.Clone())
	}
	c.resps = append(c.resps, answers...)

	resolved := c.resolvedZetas()
	var theta float64
	switch method {
	case MethodEAP:
		theta = c.estimateEAP(resolved)
	default:
		theta = c.estimateMLE(resolved)
	}
	c.theta = clamp(theta, *c.cfg.MinTheta, *c.cfg.MaxTheta)
	c.seMeasurement = irt.StandardError(c.theta, resolved)

	c.logger.Debug("ability estimate updated",
		"method", method.String(),
		"n_items", len(c.resps),
		"theta", c.theta,
		"se", c.seMeasurement,
	)
	return nil
}

func (c *Cat) resolvedZetas() []irt.Zeta {
	out := make([]irt.Zeta, len(c.zetas))
	for i, z := range c.zetas {
		out[i] = z.Zeta()
	}
	return out
}

// logLikelihood is the log of the probability of the full response
// history at theta.
func (c *Cat) logLikelihood(theta float64, zetas []irt.Zeta) float64 {
	var ll float64
	for i, z := range zetas {
		p := irt.ResponseProbability(theta, z)
		if c.resps[i] == 1 {
			ll += math.Log(p)
		} else {
			ll += math.Log(1 - p)
		}
	}
	return ll
}

// estimateMLE minimizes the negative log-likelihood from a start of 0.
func (c *Cat) estimateMLE(zetas []irt.Zeta) float64 {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return -c.logLikelihood(x[0], zetas)
		},
	}
	settings := &optimize.Settings{MajorIterations: mleMaxIterations}

	result, err := optimize.Minimize(problem, []float64{0}, settings, &optimize.NelderMead{})
	if result == nil {
		c.logger.Warn("mle minimizer failed, keeping previous theta", "error", err)
		return c.theta
	}
	if err != nil {
		c.logger.Debug("mle minimizer stopped early", "status", result.Status.String(), "error", err)
	}
	return result.X[0]
}

// estimateEAP returns the posterior mean over the prior table.
//
// Likelihoods are scaled by the maximum log-likelihood over the grid,
// which leaves the ratio unchanged and keeps long histories from
// underflowing.
func (c *Cat) estimateEAP(zetas []irt.Zeta) float64 {
	lls := make([]float64, len(c.prior))
	maxLL := math.Inf(-1)
	for i, pt := range c.prior {
		lls[i] = c.logLikelihood(pt.Theta, zetas)
		if pt.Weight > 0 && lls[i] > maxLL {
			maxLL = lls[i]
		}
	}
	if math.IsInf(maxLL, -1) {
		return c.theta
	}

	var num, nf float64
	for i, pt := range c.prior {
		like := math.Exp(lls[i] - maxLL)
		num += pt.Theta * like * pt.Weight
		nf += like * pt.Weight
	}
	return num / nf
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
