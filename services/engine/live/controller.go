// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package live runs the continuous acquisition loop: capture a chunk, run
// the coincidence pipeline, compute metrics, publish. One Controller owns
// one backend and one pipeline; servers and CLIs sit on top of it.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/qlaiblab/qlaib/pkg/logging"
	"github.com/qlaiblab/qlaib/services/engine/acquisition"
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/metrics"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
	"github.com/qlaiblab/qlaib/services/engine/telemetry"
)

// DefaultExposureSec is the capture chunk length used when none is set.
const DefaultExposureSec = 5.0

const defaultHistorySize = 64

// Update is one processed chunk: the batch, its pipeline result, and the
// metric values computed from it. Seq increases by one per chunk.
type Update struct {
	Seq     int64
	Batch   *batch.EventBatch
	Result  *pipeline.Result
	Metrics []metrics.Value
}

// Controller drives the capture loop and fans results out to subscribers.
//
// Delivery is in-order and lossless: every subscriber receives every update,
// and a slow subscriber backpressures the loop rather than dropping chunks.
// Subscribers that cannot keep up should unsubscribe.
type Controller struct {
	backend acquisition.Backend
	pipe    *pipeline.Pipeline
	reg     *metrics.Registry
	tm      *telemetry.Metrics
	log     *logging.Logger
	history *History

	exposure atomic.Value // float64
	seq      atomic.Int64

	mu      sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	stopped chan struct{}
	once    sync.Once
}

// Channels are only ever closed by the controller, never by cancel, so the
// publish path cannot race a close with a send.
type subscriber struct {
	ch   chan Update
	done chan struct{}
}

// Option customizes a Controller at construction time.
type Option func(*Controller)

// WithInstruments records per-chunk telemetry (chunks processed, run
// duration, coincidence counts by label) on the given instruments.
func WithInstruments(tm *telemetry.Metrics) Option {
	return func(c *Controller) { c.tm = tm }
}

// NewController wires a backend, pipeline, and metric registry into a
// controller. A nil registry disables metric computation.
func NewController(backend acquisition.Backend, pipe *pipeline.Pipeline, reg *metrics.Registry, log *logging.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		pipe:    pipe,
		reg:     reg,
		log:     log,
		history: NewHistory(defaultHistorySize),
		subs:    make(map[int]*subscriber),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.exposure.Store(DefaultExposureSec)
	return c
}

// SetExposure changes the chunk length for subsequent captures. The chunk
// in flight finishes at its old exposure.
func (c *Controller) SetExposure(seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("invalid exposure %g s (must be > 0)", seconds)
	}
	c.exposure.Store(seconds)
	return nil
}

// Exposure returns the current chunk length in seconds.
func (c *Controller) Exposure() float64 {
	return c.exposure.Load().(float64)
}

// UpdateDelay forwards a delay edit to the pipeline. It takes effect on the
// next chunk, never mid-chunk.
func (c *Controller) UpdateDelay(label string, delayPs float64) error {
	return c.pipe.UpdateDelay(label, delayPs)
}

// Pipeline exposes the underlying pipeline for read-side queries.
func (c *Controller) Pipeline() *pipeline.Pipeline { return c.pipe }

// History returns the recent-updates ring.
func (c *Controller) History() *History { return c.history }

// Subscribe registers for updates. The returned cancel function must be
// called to release the subscription. Cancel does not close the channel
// (only the run loop closes channels, when it returns), so a consumer must
// stop receiving after cancel instead of waiting for a close.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	sub := &subscriber{ch: make(chan Update), done: make(chan struct{})}
	c.subs[id] = sub
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s.done)
		}
	}
	return sub.ch, cancel
}

// Stop ends the run loop at the next chunk boundary. Safe to call more
// than once and from any goroutine.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stopped) })
}

// Run executes the capture loop until Stop, context cancellation, or the
// backend reporting exhaustion. On return all subscriber channels are
// closed. A Controller runs once; build a new one to restart.
func (c *Controller) Run(ctx context.Context) error {
	defer c.closeSubs()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopped:
			return nil
		default:
		}

		b, err := c.backend.Capture(ctx, c.Exposure())
		if err != nil {
			if errors.Is(err, acquisition.ErrExhausted) {
				c.log.Info("acquisition exhausted, stopping", "chunks", c.seq.Load())
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("capture: %w", err)
		}

		started := time.Now()
		res, err := c.pipe.Run(ctx, b)
		if err != nil {
			return fmt.Errorf("pipeline run: %w", err)
		}
		if c.tm != nil {
			c.tm.BatchesTotal.Add(ctx, 1)
			c.tm.RunDuration.Record(ctx, time.Since(started).Seconds())
			for label, n := range res.Counts {
				c.tm.CoincidencesTotal.Add(ctx, int64(n),
					metric.WithAttributes(attribute.String("label", label)))
			}
		}

		u := Update{
			Seq:    c.seq.Add(1),
			Batch:  b,
			Result: res,
		}
		if c.reg != nil {
			u.Metrics = c.reg.ComputeAll(res)
		}
		c.history.Add(u)
		c.log.Debug("chunk processed",
			"seq", u.Seq, "batch_id", b.ID(), "duration_sec", b.DurationSec())

		if err := c.publish(ctx, u); err != nil {
			return err
		}
	}
}

func (c *Controller) publish(ctx context.Context, u Update) error {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- u:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopped:
			return nil
		}
	}
	return nil
}

func (c *Controller) closeSubs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.subs {
		delete(c.subs, id)
		close(s.ch)
	}
}
