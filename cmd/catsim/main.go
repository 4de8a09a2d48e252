// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command catsim runs computerized adaptive testing simulations.
//
// Usage:
//
//	catsim simulate --config sim.yaml --out trials.csv --metrics-file run.prom
//	catsim inspect-corpus --corpus items.csv --cats math,reading
//
// A minimal sim.yaml:
//
//	random_seed: nightly
//	max_items: 30
//	cats:
//	  math: {method: eap, item_select: max-information}
//	early_stopping:
//	  kind: se-threshold
//	  se_measurement_threshold: {math: 0.3}
//	corpus:
//	  path: items.csv
//	respondents:
//	  count: 500
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
