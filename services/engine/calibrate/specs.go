// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibrate

import (
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
)

// DefaultRefPairs are the like-polarization pairs used for calibration:
// each analysis channel against its own-basis detection channel. These
// carry the genuine correlations, so their cross-correlation peaks are
// sharp enough to calibrate on.
var DefaultRefPairs = []RefPair{
	{Label: "HH", Ref: 1, Target: 5},
	{Label: "VV", Ref: 2, Target: 6},
	{Label: "DD", Ref: 3, Target: 7},
	{Label: "AA", Ref: 4, Target: 8},
}

// DefaultCrossPairs are the remaining polarization combinations, measured
// but not calibrated on.
var DefaultCrossPairs = []RefPair{
	{Label: "HV", Ref: 1, Target: 6},
	{Label: "VH", Ref: 2, Target: 5},
	{Label: "DA", Ref: 3, Target: 8},
	{Label: "AD", Ref: 4, Target: 7},
	{Label: "HD", Ref: 1, Target: 7},
	{Label: "HA", Ref: 1, Target: 8},
	{Label: "VD", Ref: 2, Target: 7},
	{Label: "VA", Ref: 2, Target: 8},
	{Label: "DH", Ref: 3, Target: 5},
	{Label: "DV", Ref: 3, Target: 6},
	{Label: "AH", Ref: 4, Target: 5},
	{Label: "AV", Ref: 4, Target: 6},
}

// SpecsFromDelays builds the measurement spec set from a calibration table.
//
// Every spec's partner channel receives the *difference* of the two
// channels' calibrated delays (a relative offset), not the absolute values:
// a cross pair like VH combines channel 2's reference (delay 0) with channel
// 5, which was calibrated against channel 1, so only the relative shift
// applies. Channels missing from the table default to 0. Like pairs come
// first, in the given order, then cross pairs.
func SpecsFromDelays(windowPs float64, likePairs, crossPairs []RefPair, delaysPs map[batch.ChannelID]float64) []pipeline.Spec {
	specs := make([]pipeline.Spec, 0, len(likePairs)+len(crossPairs))
	for _, pair := range append(append([]RefPair{}, likePairs...), crossPairs...) {
		relative := delaysPs[pair.Target] - delaysPs[pair.Ref]
		specs = append(specs, pipeline.Spec{
			Label:    pair.Label,
			Channels: []batch.ChannelID{pair.Ref, pair.Target},
			WindowPs: windowPs,
			DelaysPs: map[batch.ChannelID]float64{pair.Target: relative},
		})
	}
	return specs
}
