// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package live

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/qlaiblab/qlaib/pkg/logging"
	"github.com/qlaiblab/qlaib/services/engine/acquisition"
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/metrics"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
	"github.com/qlaiblab/qlaib/services/engine/telemetry"
)

// countingBackend serves a fixed number of identical batches, then reports
// exhaustion.
type countingBackend struct {
	remaining atomic.Int64
	lastExp   atomic.Value // float64
}

func newCountingBackend(n int) *countingBackend {
	b := &countingBackend{}
	b.remaining.Store(int64(n))
	return b
}

func (b *countingBackend) Capture(ctx context.Context, exposureSec float64) (*batch.EventBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.lastExp.Store(exposureSec)
	if b.remaining.Add(-1) < 0 {
		return nil, acquisition.ErrExhausted
	}
	return batch.New(map[batch.ChannelID][]int64{
		1: {100, 500, 10000},
		5: {120, 9980},
	}, 1.0)
}

func (b *countingBackend) Close() error { return nil }

func testController(t *testing.T, backend acquisition.Backend) *Controller {
	t.Helper()
	pipe, err := pipeline.New([]pipeline.Spec{{
		Label:    "HH",
		Channels: []batch.ChannelID{1, 5},
		WindowPs: 50,
	}})
	require.NoError(t, err)
	log := logging.New(logging.Config{Level: logging.LevelError, Service: "test", Quiet: true})
	return NewController(backend, pipe, metrics.NewDefaultRegistry(), log)
}

func TestControllerDeliversEveryChunkInOrder(t *testing.T) {
	c := testController(t, newCountingBackend(5))
	updates, cancel := c.Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	var seqs []int64
	for u := range updates {
		seqs = append(seqs, u.Seq)
		assert.Equal(t, 2, u.Result.Counts["HH"])
		require.NotEmpty(t, u.Metrics)
		assert.Equal(t, "chsh_s", u.Metrics[0].Name)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs, "every chunk, in order, no drops")
	assert.NoError(t, <-done, "exhaustion is a clean stop")
}

func TestControllerStopAtChunkBoundary(t *testing.T) {
	c := testController(t, newCountingBackend(1_000_000))
	updates, cancel := c.Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	<-updates
	c.Stop()
	c.Stop() // idempotent

	for range updates {
	}
	assert.NoError(t, <-done)
}

func TestControllerContextCancel(t *testing.T) {
	c := testController(t, newCountingBackend(1_000_000))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not observe cancellation")
	}
}

func TestControllerExposure(t *testing.T) {
	backend := newCountingBackend(2)
	c := testController(t, backend)

	assert.Error(t, c.SetExposure(0))
	require.NoError(t, c.SetExposure(0.25))
	assert.Equal(t, 0.25, c.Exposure())

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 0.25, backend.lastExp.Load().(float64))
}

func TestControllerDelayForwarding(t *testing.T) {
	c := testController(t, newCountingBackend(0))
	require.NoError(t, c.UpdateDelay("HH", 12.5))
	assert.Error(t, c.UpdateDelay("nope", 1))

	specs := c.Pipeline().Specs()
	assert.Equal(t, 12.5, specs[0].DelaysPs[5])
}

func TestControllerHistory(t *testing.T) {
	c := testController(t, newCountingBackend(3))
	require.NoError(t, c.Run(context.Background()))

	h := c.History()
	assert.Equal(t, 3, h.Len())
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(3), latest.Seq)
}

func TestCancelledSubscriberDoesNotBlockLoop(t *testing.T) {
	c := testController(t, newCountingBackend(50))
	_, cancel := c.Subscribe()
	cancel() // never reads; loop must not stall on it

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop blocked on a cancelled subscriber")
	}
}

func TestControllerRecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	tm, err := telemetry.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	pipe, err := pipeline.New([]pipeline.Spec{{
		Label:    "HH",
		Channels: []batch.ChannelID{1, 5},
		WindowPs: 50,
	}})
	require.NoError(t, err)
	log := logging.New(logging.Config{Level: logging.LevelError, Service: "test", Quiet: true})
	c := NewController(newCountingBackend(3), pipe, nil, log, WithInstruments(tm))

	require.NoError(t, c.Run(context.Background()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	batches, ok := byName["qlaib_batches_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "batches counter was recorded")
	require.Len(t, batches.DataPoints, 1)
	assert.Equal(t, int64(3), batches.DataPoints[0].Value)

	coinc, ok := byName["qlaib_coincidences_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "coincidence counter was recorded")
	require.Len(t, coinc.DataPoints, 1)
	// 2 HH coincidences per chunk over 3 chunks.
	assert.Equal(t, int64(6), coinc.DataPoints[0].Value)
	label, ok := coinc.DataPoints[0].Attributes.Value(attribute.Key("label"))
	require.True(t, ok)
	assert.Equal(t, "HH", label.AsString())

	durations, ok := byName["qlaib_run_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok, "run duration histogram was recorded")
	require.Len(t, durations.DataPoints, 1)
	assert.Equal(t, uint64(3), durations.DataPoints[0].Count)
}

func TestHistoryRing(t *testing.T) {
	h := NewHistory(3)
	_, ok := h.Latest()
	assert.False(t, ok)
	assert.Empty(t, h.Recent(10))

	for seq := int64(1); seq <= 5; seq++ {
		h.Add(Update{Seq: seq})
	}
	assert.Equal(t, 3, h.Len())

	recent := h.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(3), recent[0].Seq, "oldest first")
	assert.Equal(t, int64(5), recent[2].Seq)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(5), latest.Seq)
}
