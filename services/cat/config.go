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
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianCAT/pkg/irt"
	"github.com/AleutianAI/AleutianCAT/pkg/validation"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidMethod indicates an unknown estimation method.
	ErrInvalidMethod = errors.New("invalid estimation method")

	// ErrInvalidItemSelect indicates an unknown or disallowed selection strategy.
	ErrInvalidItemSelect = errors.New("invalid item selection method")

	// ErrInvalidStartSelect indicates an unknown or disallowed start strategy.
	ErrInvalidStartSelect = errors.New("invalid start selection method")

	// ErrInvalidPrior indicates an invalid prior distribution configuration.
	ErrInvalidPrior = errors.New("invalid prior distribution")

	// ErrInvalidConfig indicates a configuration field failing validation.
	ErrInvalidConfig = errors.New("invalid cat configuration")

	// ErrLengthMismatch indicates parameter sets and answers of different length.
	ErrLengthMismatch = errors.New("unmatched length between answers and item params")

	// ErrInvalidAnswer indicates an answer other than 0 or 1.
	ErrInvalidAnswer = errors.New("answer must be 0 or 1")
)

// =============================================================================
// Configuration
// =============================================================================

// Default theta bounds.
const (
	DefaultMinTheta = -6.0
	DefaultMaxTheta = 6.0
)

// Config configures a Cat.
//
// Zero-valued enum fields take their defaults: MLE estimation,
// max-information selection, middle start selection and a normal prior.
// A nil theta bound takes its default (-6 or 6) independently of the
// other, so an explicit bound of 0 is kept. When PriorPar is
// empty it defaults to (0, 1) for a normal prior and (-4, 4) for a
// uniform prior.
type Config struct {
	Method      Method     `yaml:"method" validate:"-"`
	ItemSelect  ItemSelect `yaml:"item_select" validate:"-"`
	NStartItems int        `yaml:"n_start_items" validate:"gte=0"`
	StartSelect ItemSelect `yaml:"start_select" validate:"-"`

	// Theta is the initial ability estimate.
	Theta float64 `yaml:"theta"`

	// MinTheta and MaxTheta bound the estimate. MinTheta must be below
	// MaxTheta once defaults are applied.
	MinTheta *float64 `yaml:"min_theta,omitempty" validate:"-"`
	MaxTheta *float64 `yaml:"max_theta,omitempty" validate:"-"`

	// PriorDist and PriorPar only apply to EAP estimation.
	PriorDist PriorKind `yaml:"prior_dist" validate:"-"`
	PriorPar  []float64 `yaml:"prior_par" validate:"omitempty,len=2"`

	// RandomSeed seeds the cat's random source. Empty means unseeded.
	RandomSeed string `yaml:"random_seed"`

	// Logger receives debug events. Nil discards them.
	Logger *slog.Logger `yaml:"-" validate:"-"`
}

// DefaultConfig returns a fully populated default configuration.
func DefaultConfig() Config {
	return Config{
		Method:      MethodMLE,
		ItemSelect:  SelectMaxInformation,
		NStartItems: 0,
		StartSelect: SelectMiddle,
		Theta:       0,
		MinTheta:    ThetaBound(DefaultMinTheta),
		MaxTheta:    ThetaBound(DefaultMaxTheta),
		PriorDist:   PriorNormal,
		PriorPar:    []float64{0, 1},
	}
}

// withDefaults returns c with zero-valued fields resolved.
func (c Config) withDefaults() Config {
	if c.Method == MethodDefault {
		c.Method = MethodMLE
	}
	if c.ItemSelect == SelectDefault {
		c.ItemSelect = SelectMaxInformation
	}
	if c.StartSelect == SelectDefault {
		c.StartSelect = SelectMiddle
	}
	c.MinTheta = boundOr(c.MinTheta, DefaultMinTheta)
	c.MaxTheta = boundOr(c.MaxTheta, DefaultMaxTheta)
	if c.PriorDist == PriorDefault {
		c.PriorDist = PriorNormal
	}
	if len(c.PriorPar) == 0 {
		if c.PriorDist == PriorUniform {
			c.PriorPar = []float64{-4, 4}
		} else {
			c.PriorPar = []float64{0, 1}
		}
	} else {
		c.PriorPar = append([]float64(nil), c.PriorPar...)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// ThetaBound returns a pointer to v for Config.MinTheta or Config.MaxTheta.
func ThetaBound(v float64) *float64 { return &v }

// boundOr returns a fresh copy of *b, or fallback when b is nil.
func boundOr(b *float64, fallback float64) *float64 {
	if b == nil {
		return ThetaBound(fallback)
	}
	return ThetaBound(*b)
}

// validate checks a defaulted configuration.
func (c Config) validate() error {
	if !c.Method.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidMethod, c.Method)
	}
	if !c.ItemSelect.ValidItemSelect() {
		return fmt.Errorf("%w: %s", ErrInvalidItemSelect, c.ItemSelect)
	}
	if !c.StartSelect.ValidStartSelect() {
		return fmt.Errorf("%w: %s", ErrInvalidStartSelect, c.StartSelect)
	}
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if *c.MinTheta >= *c.MaxTheta {
		return fmt.Errorf("%w: min_theta %v must be below max_theta %v", ErrInvalidConfig, *c.MinTheta, *c.MaxTheta)
	}
	return nil
}

// buildPrior validates the prior configuration and discretizes it over
// [MinTheta, MaxTheta].
func (c Config) buildPrior() (irt.Table, error) {
	minTheta, maxTheta := *c.MinTheta, *c.MaxTheta
	if len(c.PriorPar) != 2 {
		return nil, fmt.Errorf("%w: parameters should be two numbers, received %v", ErrInvalidPrior, c.PriorPar)
	}
	switch c.PriorDist {
	case PriorNormal:
		mean, sd := c.PriorPar[0], c.PriorPar[1]
		if sd <= 0 {
			return nil, fmt.Errorf("%w: expected a positive standard deviation, received %v", ErrInvalidPrior, sd)
		}
		if mean < minTheta || mean > maxTheta {
			return nil, fmt.Errorf("%w: mean %v outside theta bounds [%v, %v]", ErrInvalidPrior, mean, minTheta, maxTheta)
		}
		return irt.NormalTable(mean, sd, minTheta, maxTheta, irt.DefaultStep), nil

	case PriorUniform:
		lo, hi := c.PriorPar[0], c.PriorPar[1]
		if lo >= hi {
			return nil, fmt.Errorf("%w: uniform bounds must satisfy min < max, received min %v, max %v", ErrInvalidPrior, lo, hi)
		}
		if lo < minTheta || hi > maxTheta {
			return nil, fmt.Errorf("%w: uniform bounds [%v, %v] outside theta bounds [%v, %v]", ErrInvalidPrior, lo, hi, minTheta, maxTheta)
		}
		return irt.UniformTable(lo, hi, irt.DefaultStep, minTheta, maxTheta), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrior, c.PriorDist)
	}
}

// =============================================================================
// Random Source
// =============================================================================

// NewRand returns a pseudo-random source seeded from seed.
//
// Equal seeds produce equal streams. An empty seed produces an unseeded,
// non-reproducible source.
func NewRand(seed string) *rand.Rand {
	if seed == "" {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	s := h.Sum64()
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// RandomInteger returns an integer uniformly drawn from [min, max].
func RandomInteger(r *rand.Rand, min, max int) int {
	return int(math.Floor(r.Float64()*float64(max-min+1))) + min
}
