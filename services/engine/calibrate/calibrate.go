// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package calibrate finds per-channel timing offsets from a calibration batch.
//
// For each reference pair the calibrator scans a delay grid, counts
// coincidences at every candidate with the same matcher that measurement
// later uses, and picks the peak. Sharing the matcher is the point:
// calibration and measurement agree on one definition of a coincidence, so
// the calibrated delay is optimal under the exact metric the results report.
package calibrate

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/matcher"
)

// Calibration scans one pair per target channel; pairs are independent, so
// they run on a small worker pool.
const maxScanWorkers = 4

var tracer = otel.Tracer("engine.calibrate")

// RefPair names one calibration reference pair: coincidences between Ref and
// Target are scanned to find Target's delay relative to Ref.
type RefPair struct {
	Label  string
	Ref    batch.ChannelID
	Target batch.ChannelID
}

// Options bound the delay scan grid.
//
// The grid is inclusive of both endpoints when StepPs divides the range
// evenly; a trailing partial step is dropped (the matcher.Histogram rule).
type Options struct {
	WindowPs     float64
	DelayStartPs float64
	DelayEndPs   float64
	DelayStepPs  float64
}

// Warning flags a degenerate reference pair: every candidate delay scored
// zero, typically because one channel recorded no events. The returned delay
// is still the deterministic tie-break result; callers should surface the
// warning rather than trust the value.
type Warning struct {
	Label  string
	Target batch.ChannelID
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("calibration pair %q (target channel %d): %s", w.Label, w.Target, w.Reason)
}

// Calibrate scans every reference pair against the batch and returns the
// delay map: target channel -> calibrated delay in picoseconds.
//
// Reference channels are assigned delay 0. Channels appearing in no pair are
// simply absent from the map and default to 0 downstream. Among equal peak
// counts the candidate closest to zero wins; on equal distance the earlier
// grid point wins, so repeated runs over the same batch and grid always
// agree.
//
// Zero-coincidence pairs are not errors: they produce the tie-break delay
// plus a Warning. Invalid scan options fail fast.
func Calibrate(ctx context.Context, b *batch.EventBatch, pairs []RefPair, opts Options) (map[batch.ChannelID]float64, []Warning, error) {
	ctx, span := tracer.Start(ctx, "calibrate.Calibrate",
		trace.WithAttributes(attribute.Int("pairs", len(pairs))),
	)
	defer span.End()

	type scanResult struct {
		delay      float64
		degenerate bool
	}
	results := make([]scanResult, len(pairs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxScanWorkers)
	for i, pair := range pairs {
		g.Go(func() error {
			offsets, counts, err := matcher.Histogram(
				b.Flatten(pair.Ref), b.Flatten(pair.Target),
				opts.WindowPs, opts.DelayStartPs, opts.DelayEndPs, opts.DelayStepPs,
			)
			if err != nil {
				return fmt.Errorf("pair %q: %w", pair.Label, err)
			}
			delay, peak := pickPeak(offsets, counts)
			results[i] = scanResult{delay: delay, degenerate: peak == 0}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	delays := make(map[batch.ChannelID]float64, 2*len(pairs))
	var warnings []Warning
	for i, pair := range pairs {
		// A channel already calibrated as an earlier pair's target keeps
		// that delay when it reappears as a reference.
		if _, ok := delays[pair.Ref]; !ok {
			delays[pair.Ref] = 0
		}
		delays[pair.Target] = results[i].delay
		if results[i].degenerate {
			warnings = append(warnings, Warning{
				Label:  pair.Label,
				Target: pair.Target,
				Reason: "no coincidences at any candidate delay",
			})
		}
	}
	span.SetAttributes(attribute.Int("warnings", len(warnings)))
	return delays, warnings, nil
}

// pickPeak returns the offset with the maximum count. Ties resolve to the
// smallest absolute offset, then to scan order, for determinism.
func pickPeak(offsets []float64, counts []int) (float64, int) {
	bestIdx := 0
	for i := 1; i < len(counts); i++ {
		switch {
		case counts[i] > counts[bestIdx]:
			bestIdx = i
		case counts[i] == counts[bestIdx] && math.Abs(offsets[i]) < math.Abs(offsets[bestIdx]):
			bestIdx = i
		}
	}
	if len(offsets) == 0 {
		return 0, 0
	}
	return offsets[bestIdx], counts[bestIdx]
}
