// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "github.com/qlaiblab/qlaib/services/engine/batch"

// Standard channel mapping for the polarization setup: analysis stations on
// channels 1-4 (H, V, D, A), detection stations on channels 5-8 in the same
// basis order.
var (
	analysisChannel = map[byte]batch.ChannelID{'H': 1, 'V': 2, 'D': 3, 'A': 4}
	detectChannel   = map[byte]batch.ChannelID{'H': 5, 'V': 6, 'D': 7, 'A': 8}
)

// DefaultPairLabels lists the 16 two-fold polarization pairs in the order
// they appear in reports and dashboards.
var DefaultPairLabels = []string{
	"HH", "VV", "DD", "AA",
	"HV", "VH", "DA", "AD",
	"HD", "HA", "VD", "VA",
	"DH", "DV", "AH", "AV",
}

// DefaultWindowPs is the standard two-fold coincidence window.
const DefaultWindowPs = 200.0

// TripletWindowPs is the wider window used for three-fold specs.
const TripletWindowPs = 300.0

// DefaultPairSpecs returns the 16 standard polarization pair specs with the
// given window and zero delays. The first letter of each label selects the
// analysis channel (1-4), the second the detection channel (5-8).
func DefaultPairSpecs(windowPs float64) []Spec {
	specs := make([]Spec, 0, len(DefaultPairLabels))
	for _, label := range DefaultPairLabels {
		specs = append(specs, Spec{
			Label:    label,
			Channels: []batch.ChannelID{analysisChannel[label[0]], detectChannel[label[1]]},
			WindowPs: windowPs,
			DelaysPs: map[batch.ChannelID]float64{},
		})
	}
	return specs
}

// GHZTripletSpecs returns the example three-fold (GHZ-style) specs.
func GHZTripletSpecs() []Spec {
	return []Spec{
		{
			Label:    "GHZ_135",
			Channels: []batch.ChannelID{1, 3, 5},
			WindowPs: TripletWindowPs,
			DelaysPs: map[batch.ChannelID]float64{},
		},
		{
			Label:    "GHZ_246",
			Channels: []batch.ChannelID{2, 4, 6},
			WindowPs: TripletWindowPs,
			DelaysPs: map[batch.ChannelID]float64{},
		},
	}
}

// DefaultSpecs returns the standard measurement set: all 16 polarization
// pairs plus the GHZ triplets.
func DefaultSpecs(windowPs float64) []Spec {
	return append(DefaultPairSpecs(windowPs), GHZTripletSpecs()...)
}
