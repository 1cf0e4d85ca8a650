// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"

	"github.com/qlaiblab/qlaib/pkg/validation"
	"github.com/qlaiblab/qlaib/services/engine/batch"
)

// Spec names one coincidence to count: an ordered tuple of channels, the
// window they must share, and per-channel delay offsets.
//
// The first listed channel is the anchor for N-fold matching. Channels and
// window are fixed for the pipeline's lifetime; delays may be edited through
// the pipeline while acquisition runs.
type Spec struct {
	// Label uniquely keys the spec within a pipeline and appears verbatim
	// in reports ("HH: 42").
	Label string

	// Channels is the ordered tuple of distinct channel ids, at least two.
	Channels []batch.ChannelID

	// WindowPs is the coincidence window in picoseconds, strictly positive.
	WindowPs float64

	// DelaysPs maps channel id to its delay offset in picoseconds.
	// Channels absent from the map default to 0. A positive delay shifts
	// the channel earlier (see the matcher package convention).
	DelaysPs map[batch.ChannelID]float64
}

// Validate reports the first configuration error in the spec.
func (s Spec) Validate() error {
	if err := validation.ValidateLabel(s.Label); err != nil {
		return err
	}
	if len(s.Channels) < 2 {
		return fmt.Errorf("spec %q needs at least 2 channels, got %d", s.Label, len(s.Channels))
	}
	seen := make(map[batch.ChannelID]bool, len(s.Channels))
	for _, ch := range s.Channels {
		if err := validation.ValidateChannel(int(ch)); err != nil {
			return fmt.Errorf("spec %q: %w", s.Label, err)
		}
		if seen[ch] {
			return fmt.Errorf("spec %q repeats channel %d", s.Label, ch)
		}
		seen[ch] = true
	}
	if err := validation.ValidateWindow(s.WindowPs); err != nil {
		return fmt.Errorf("spec %q: %w", s.Label, err)
	}
	for ch := range s.DelaysPs {
		if !seen[ch] {
			return fmt.Errorf("spec %q: delay for channel %d which is not in the spec", s.Label, ch)
		}
	}
	return nil
}

// clone returns a deep copy so pipeline-held state never aliases caller maps.
func (s Spec) clone() Spec {
	channels := make([]batch.ChannelID, len(s.Channels))
	copy(channels, s.Channels)
	delays := make(map[batch.ChannelID]float64, len(s.DelaysPs))
	for ch, d := range s.DelaysPs {
		delays[ch] = d
	}
	return Spec{
		Label:    s.Label,
		Channels: channels,
		WindowPs: s.WindowPs,
		DelaysPs: delays,
	}
}
