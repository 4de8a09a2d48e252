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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// respondentsTotal counts finished respondents by outcome
	respondentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catsim_respondents_total",
		Help: "Total simulated respondents by outcome",
	}, []string{"outcome"})

	// trialsTotal counts administered items
	trialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catsim_trials_total",
		Help: "Total items administered across respondents",
	})

	// testLength tracks items administered per respondent
	testLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catsim_test_length_items",
		Help:    "Items administered per respondent",
		Buckets: prometheus.LinearBuckets(5, 5, 12), // 5 to 60 items
	})

	// respondentDuration tracks wall time per respondent
	respondentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catsim_respondent_duration_seconds",
		Help:    "Simulation time per respondent in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})
)

// Respondent outcomes.
const (
	outcomeEarlyStop = "early_stop"
	outcomeMaxItems  = "max_items"
	outcomeExhausted = "exhausted"
)
