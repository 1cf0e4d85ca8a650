// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package acquisition

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qlaiblab/qlaib/services/engine/batch"
)

// CorrelatedPair describes one simulated photon-pair source: events on Ref
// are duplicated onto Target at OffsetPs later (plus jitter), at RateHz
// pairs per second.
type CorrelatedPair struct {
	Ref      batch.ChannelID
	Target   batch.ChannelID
	OffsetPs int64
	RateHz   float64
}

// MockConfig configures the simulated backend.
type MockConfig struct {
	Seed  int64
	Pairs []CorrelatedPair

	// BackgroundHz adds uncorrelated events per channel, on top of any
	// correlated streams landing there.
	BackgroundHz map[batch.ChannelID]float64

	// JitterPs spreads each target event uniformly in [-JitterPs, JitterPs]
	// around its nominal offset. Zero gives exactly reproducible offsets.
	JitterPs int64

	// Realtime paces Capture to one batch per exposure of wall-clock time,
	// like real hardware. Off by default so tests run instantly.
	Realtime bool
}

// Mock is a deterministic simulated timestamp source. Given the same seed
// and the same sequence of Capture calls it produces identical batches,
// which makes it usable as a calibration fixture: configure a pair with a
// known OffsetPs and the calibrator should recover it.
type Mock struct {
	cfg MockConfig

	mu  sync.Mutex
	rng *rand.Rand
	lim *rate.Limiter
}

// NewMock returns a simulated backend with the given configuration.
func NewMock(cfg MockConfig) *Mock {
	m := &Mock{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.Realtime {
		// Refilled per capture with the exposure-dependent interval.
		m.lim = rate.NewLimiter(rate.Inf, 1)
	}
	return m
}

func (m *Mock) Capture(ctx context.Context, exposureSec float64) (*batch.EventBatch, error) {
	if exposureSec <= 0 {
		exposureSec = 1
	}
	if m.lim != nil {
		m.lim.SetLimit(rate.Every(time.Duration(exposureSec * float64(time.Second))))
		if err := m.lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	spanPs := int64(exposureSec * 1e12)
	events := make(map[batch.ChannelID][]int64)

	for _, pair := range m.cfg.Pairs {
		n := int(pair.RateHz * exposureSec)
		for i := 0; i < n; i++ {
			ref := m.rng.Int63n(spanPs)
			target := ref + pair.OffsetPs
			if m.cfg.JitterPs > 0 {
				target += m.rng.Int63n(2*m.cfg.JitterPs+1) - m.cfg.JitterPs
			}
			events[pair.Ref] = append(events[pair.Ref], ref)
			events[pair.Target] = append(events[pair.Target], target)
		}
	}
	// Map iteration order is randomized, so draw background events in
	// sorted channel order to keep same-seed captures identical.
	bgChannels := make([]batch.ChannelID, 0, len(m.cfg.BackgroundHz))
	for ch := range m.cfg.BackgroundHz {
		bgChannels = append(bgChannels, ch)
	}
	slices.Sort(bgChannels)
	for _, ch := range bgChannels {
		n := int(m.cfg.BackgroundHz[ch] * exposureSec)
		for i := 0; i < n; i++ {
			events[ch] = append(events[ch], m.rng.Int63n(spanPs))
		}
	}
	for ch := range events {
		slices.Sort(events[ch])
	}
	return batch.New(events, exposureSec)
}

func (m *Mock) Close() error { return nil }
