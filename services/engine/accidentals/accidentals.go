// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package accidentals estimates false-coincidence counts from singles rates.
//
// An accidental coincidence arises when uncorrelated photons happen to land
// inside the same window. The expected count for a k-fold spec follows the
// standard product-of-Poisson-rates approximation over the joint coincidence
// volume:
//
//	N_acc = duration_sec * (window_ps * 1e-12)^(k-1) * prod(rate_i)
//
// Comparing the measured count against this estimate separates genuine
// correlations from chance.
package accidentals

import (
	"math"

	"github.com/qlaiblab/qlaib/services/engine/batch"
)

// Estimate returns the expected accidental-coincidence count for a spec over
// the given channels.
//
// ratesHz carries per-channel singles rates; a channel missing from the map
// contributes rate 0 and zeroes the estimate. Degenerate inputs (fewer than
// two channels, non-positive duration or window) yield 0 rather than an
// error: an absent estimate is expressed by not calling this at all.
func Estimate(channels []batch.ChannelID, ratesHz map[batch.ChannelID]float64, durationSec, windowPs float64) float64 {
	k := len(channels)
	if k < 2 || durationSec <= 0 || windowPs <= 0 {
		return 0
	}
	product := 1.0
	for _, ch := range channels {
		product *= ratesHz[ch]
	}
	if product <= 0 {
		return 0
	}
	windowSec := windowPs * 1e-12
	return durationSec * math.Pow(windowSec, float64(k-1)) * product
}
