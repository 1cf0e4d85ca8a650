// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package batch defines the per-chunk event container the engine operates on.
//
// An EventBatch holds one acquisition chunk: for each time-tagger channel, the
// strictly sorted sequence of photon-detection timestamps, in picoseconds
// since an epoch fixed at acquisition start. Batches are immutable once
// constructed and are discarded after one pipeline run.
//
// Batches are self-contained: the engine counts each chunk in isolation, so a
// coincidence whose two events straddle a chunk boundary is lost. That slight
// under-count is intentional and matches the instrument's existing behavior;
// correcting it would require carrying a trailing half-window slice between
// chunks and would change every historical count.
package batch

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ChannelID identifies a hardware input channel on the time tagger.
// Channels are 1-based.
type ChannelID int

// EventBatch is an immutable container of per-channel sorted timestamps
// for one acquisition chunk.
//
// Timestamps are int64 picoseconds, monotonically non-decreasing within a
// channel. Sortedness is established at construction and is an invariant
// relied on (not re-verified) by the matcher.
type EventBatch struct {
	id          string
	events      map[ChannelID][]int64
	durationSec float64
}

// New constructs an EventBatch from per-channel timestamp sequences.
//
// The sequences are copied, so the caller may reuse its buffers. Each
// sequence must already be sorted ascending (duplicates permitted); a
// violation is a caller error and is rejected here rather than silently
// producing wrong counts downstream. durationSec is the wall-clock span of
// the chunk and must be strictly positive.
func New(events map[ChannelID][]int64, durationSec float64) (*EventBatch, error) {
	if !(durationSec > 0) {
		return nil, fmt.Errorf("invalid batch duration %g s (must be > 0)", durationSec)
	}
	copied := make(map[ChannelID][]int64, len(events))
	for ch, ts := range events {
		if ch < 1 {
			return nil, fmt.Errorf("invalid channel %d (must be >= 1)", ch)
		}
		if !sorted(ts) {
			return nil, fmt.Errorf("channel %d timestamps are not sorted ascending", ch)
		}
		cp := make([]int64, len(ts))
		copy(cp, ts)
		copied[ch] = cp
	}
	return &EventBatch{
		id:          uuid.NewString(),
		events:      copied,
		durationSec: durationSec,
	}, nil
}

// ID returns the unique identifier assigned to this batch at construction.
func (b *EventBatch) ID() string { return b.id }

// DurationSec returns the wall-clock span of the chunk in seconds.
func (b *EventBatch) DurationSec() float64 { return b.durationSec }

// Channels returns the channel ids present in the batch, ascending.
func (b *EventBatch) Channels() []ChannelID {
	out := make([]ChannelID, 0, len(b.events))
	for ch := range b.events {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TotalEvents returns the number of events recorded on a channel.
// A channel absent from the batch counts zero events.
func (b *EventBatch) TotalEvents(ch ChannelID) int {
	return len(b.events[ch])
}

// Flatten exposes the raw sorted timestamp sequence for a channel, for
// direct use by the matcher and histogram routines. A channel absent from
// the batch yields nil.
//
// The returned slice aliases the batch's internal storage and must be
// treated as read-only.
func (b *EventBatch) Flatten(ch ChannelID) []int64 {
	return b.events[ch]
}

// SinglesRates returns per-channel singles rates in Hz
// (total events divided by the chunk duration).
func (b *EventBatch) SinglesRates() map[ChannelID]float64 {
	rates := make(map[ChannelID]float64, len(b.events))
	for ch, ts := range b.events {
		rates[ch] = float64(len(ts)) / b.durationSec
	}
	return rates
}

// Singles returns per-channel raw event counts.
func (b *EventBatch) Singles() map[ChannelID]int {
	singles := make(map[ChannelID]int, len(b.events))
	for ch, ts := range b.events {
		singles[ch] = len(ts)
	}
	return singles
}

func sorted(ts []int64) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i] < ts[i-1] {
			return false
		}
	}
	return true
}
