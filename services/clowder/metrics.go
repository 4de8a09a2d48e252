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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for clowder operations.
var (
	tracer = otel.Tracer("aleutian.cat.clowder")
	meter  = otel.Meter("aleutian.cat.clowder")
)

// Metrics for clowder operations.
var (
	updateLatency   metric.Float64Histogram
	itemsSeen       metric.Int64Counter
	selectionsTotal metric.Int64Counter
	earlyStops      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// Selection sources recorded on spans and metrics.
const (
	sourceValidated   = "validated"
	sourceUnvalidated = "unvalidated"
	sourceFallback    = "fallback"
	sourceMixed       = "mixed"
	sourceNone        = "none"
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		updateLatency, err = meter.Float64Histogram(
			"clowder_update_duration_seconds",
			metric.WithDescription("Duration of update-and-select calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		itemsSeen, err = meter.Int64Counter(
			"clowder_items_seen_total",
			metric.WithDescription("Total items moved from remaining to seen"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		selectionsTotal, err = meter.Int64Counter(
			"clowder_selections_total",
			metric.WithDescription("Total next-item selections by source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		earlyStops, err = meter.Int64Counter(
			"clowder_early_stops_total",
			metric.WithDescription("Total clowders halted by an early stopping policy"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startUpdateSpan creates a span for an update-and-select call.
func startUpdateSpan(ctx context.Context, in UpdateInput) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Clowder.UpdateCatAndGetNextItem",
		trace.WithAttributes(
			attribute.String("clowder.cat_to_select", in.CatToSelect),
			attribute.StringSlice("clowder.cats_to_update", in.CatsToUpdate),
			attribute.Int("clowder.items", len(in.Items)),
			attribute.String("clowder.corpus", in.CorpusToSelectFrom),
		),
	)
}

// setUpdateSpanResult sets the result attributes on an update span.
func setUpdateSpanResult(span trace.Span, source, itemID, stopReason string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("clowder.source", source),
		attribute.String("clowder.item_id", itemID),
		attribute.String("clowder.stop_reason", stopReason),
	)
}

// recordUpdateMetrics records metrics for an update-and-select call.
func recordUpdateMetrics(ctx context.Context, duration time.Duration, nSeen int, source string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	updateLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
	if !success {
		return
	}
	if nSeen > 0 {
		itemsSeen.Add(ctx, int64(nSeen))
	}
	selectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

// recordEarlyStop records a sticky early stop.
func recordEarlyStop(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	earlyStops.Add(ctx, 1)
}
