// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates coincidence counting over acquisition chunks.
//
// A Pipeline owns a named set of coincidence specs and runs the matcher (and
// optionally the accidentals estimator) against each incoming event batch.
// The spec table's delays are the only state shared between the acquisition
// goroutine calling Run and a control/UI goroutine editing delays: Run reads
// a consistent snapshot of every spec before any matching starts, so a
// concurrent delay edit is either fully visible to a run or not at all.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/qlaiblab/qlaib/services/engine/accidentals"
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/matcher"
)

// Parallel evaluation thresholds.
const (
	// parallelThreshold is the minimum spec count to spread matching across
	// goroutines. Small tables run sequentially for better cache locality.
	parallelThreshold = 8

	// maxParallelWorkers caps the number of goroutines regardless of CPU
	// count. Matching is memory-bound and stops scaling well beyond this.
	maxParallelWorkers = 8
)

var tracer = otel.Tracer("engine.pipeline")

// Result holds the outcome of running one pipeline over one event batch.
// It is never mutated after Run returns.
type Result struct {
	// BatchID identifies the batch this result was computed from.
	BatchID string

	// DurationSec is the batch's wall-clock span, carried for consumers
	// that derive rates.
	DurationSec float64

	// Singles holds raw per-channel event counts from the batch.
	Singles map[batch.ChannelID]int

	// Counts maps spec label to the measured coincidence count.
	Counts map[string]int

	// Accidentals maps spec label to the estimated false-coincidence
	// count. Nil when accidentals computation is disabled: an absent
	// estimate is distinguishable from a measured zero.
	Accidentals map[string]float64
}

// Pipeline holds a mutable, named set of coincidence specs and runs them
// against event batches. Safe for concurrent use: Run and the delay-update
// methods may be called from different goroutines.
type Pipeline struct {
	mu    sync.RWMutex
	order []string
	specs map[string]*Spec

	computeAccidentals bool
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithAccidentals enables accidental-coincidence estimation on every run.
// When disabled (the default), Result.Accidentals is nil, not zero-valued.
func WithAccidentals() Option {
	return func(p *Pipeline) { p.computeAccidentals = true }
}

// New constructs a Pipeline from the given specs.
//
// Configuration errors fail fast here: invalid specs, and duplicate labels
// (ErrDuplicateSpec), are construction-time errors, never run-time ones.
// Label order is preserved and reported by Labels.
func New(specs []Spec, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		order: make([]string, 0, len(specs)),
		specs: make(map[string]*Spec, len(specs)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, exists := p.specs[s.Label]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSpec, s.Label)
		}
		owned := s.clone()
		p.specs[s.Label] = &owned
		p.order = append(p.order, s.Label)
	}
	return p, nil
}

// AccidentalsEnabled reports whether runs attach accidental estimates.
func (p *Pipeline) AccidentalsEnabled() bool { return p.computeAccidentals }

// Labels returns the spec labels in insertion order.
func (p *Pipeline) Labels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Specs returns a snapshot copy of the current spec table, in insertion
// order. Mutating the returned specs does not affect the pipeline.
func (p *Pipeline) Specs() []Spec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Spec, 0, len(p.order))
	for _, label := range p.order {
		out = append(out, p.specs[label].clone())
	}
	return out
}

// UpdateDelay sets the delay of the spec's last-listed channel, the
// single-delay view natural for two-channel specs (the anchor stays fixed,
// the partner channel is shifted).
//
// Safe to call while another goroutine runs the pipeline: a concurrent Run
// observes either the old or the new delay, never a partial write.
func (p *Pipeline) UpdateDelay(label string, delayPs float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.specs[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSpecNotFound, label)
	}
	s.DelaysPs[s.Channels[len(s.Channels)-1]] = delayPs
	return nil
}

// UpdateChannelDelay sets one channel's delay within the named spec.
func (p *Pipeline) UpdateChannelDelay(label string, ch batch.ChannelID, delayPs float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.specs[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSpecNotFound, label)
	}
	for _, c := range s.Channels {
		if c == ch {
			s.DelaysPs[ch] = delayPs
			return nil
		}
	}
	return fmt.Errorf("%w: channel %d in spec %q", ErrChannelNotInSpec, ch, label)
}

// runSpec is the per-run snapshot of one spec: delays are flattened to a
// slice aligned with the channel tuple so matching never touches shared
// state.
type runSpec struct {
	label    string
	channels []batch.ChannelID
	windowPs float64
	delays   []float64
}

// Run counts every spec against one event batch and returns the result.
//
// Specs are independent computations; above parallelThreshold they are
// evaluated concurrently on a bounded worker pool. The spec table snapshot
// is taken once, up front, so delay edits landing mid-run apply to the next
// batch. Run itself is synchronous and CPU-bound; it is expected to finish
// well within one exposure interval.
func (p *Pipeline) Run(ctx context.Context, b *batch.EventBatch) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	snapshot := p.snapshot()
	span.SetAttributes(
		attribute.String("batch_id", b.ID()),
		attribute.Int("specs", len(snapshot)),
	)

	counts := make([]int, len(snapshot))
	if len(snapshot) >= parallelThreshold {
		workers := runtime.NumCPU()
		if workers > maxParallelWorkers {
			workers = maxParallelWorkers
		}
		g := new(errgroup.Group)
		g.SetLimit(workers)
		for i := range snapshot {
			g.Go(func() error {
				counts[i] = countOne(b, snapshot[i])
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	} else {
		for i := range snapshot {
			counts[i] = countOne(b, snapshot[i])
		}
	}

	result := &Result{
		BatchID:     b.ID(),
		DurationSec: b.DurationSec(),
		Singles:     b.Singles(),
		Counts:      make(map[string]int, len(snapshot)),
	}
	for i, rs := range snapshot {
		result.Counts[rs.label] = counts[i]
	}

	if p.computeAccidentals {
		rates := b.SinglesRates()
		result.Accidentals = make(map[string]float64, len(snapshot))
		for _, rs := range snapshot {
			result.Accidentals[rs.label] = accidentals.Estimate(rs.channels, rates, b.DurationSec(), rs.windowPs)
		}
	}
	return result, nil
}

func (p *Pipeline) snapshot() []runSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]runSpec, 0, len(p.order))
	for _, label := range p.order {
		s := p.specs[label]
		delays := make([]float64, len(s.Channels))
		for i, ch := range s.Channels {
			delays[i] = s.DelaysPs[ch]
		}
		channels := make([]batch.ChannelID, len(s.Channels))
		copy(channels, s.Channels)
		out = append(out, runSpec{
			label:    s.Label,
			channels: channels,
			windowPs: s.WindowPs,
			delays:   delays,
		})
	}
	return out
}

func countOne(b *batch.EventBatch, rs runSpec) int {
	traces := make([][]int64, len(rs.channels))
	for i, ch := range rs.channels {
		traces[i] = b.Flatten(ch)
	}
	return matcher.Count(traces, rs.windowPs, rs.delays)
}
