// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(map[ChannelID][]int64{1: {10, 20}}, 0)
	assert.Error(t, err, "zero duration")

	_, err = New(map[ChannelID][]int64{1: {20, 10}}, 1.0)
	assert.Error(t, err, "unsorted channel")

	_, err = New(map[ChannelID][]int64{0: {10}}, 1.0)
	assert.Error(t, err, "channel below 1")
}

func TestNewAllowsDuplicates(t *testing.T) {
	b, err := New(map[ChannelID][]int64{1: {10, 10, 20}}, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 3, b.TotalEvents(1))
}

func TestBatchIsACopy(t *testing.T) {
	src := []int64{10, 20, 30}
	b, err := New(map[ChannelID][]int64{1: src}, 1.0)
	require.NoError(t, err)

	src[0] = 999
	assert.Equal(t, int64(10), b.Flatten(1)[0], "batch must not alias caller buffers")
}

func TestAccessors(t *testing.T) {
	b, err := New(map[ChannelID][]int64{
		5: {100, 500, 10000},
		2: {120},
	}, 2.0)
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID())
	assert.Equal(t, []ChannelID{2, 5}, b.Channels())
	assert.Equal(t, 3, b.TotalEvents(5))
	assert.Equal(t, 0, b.TotalEvents(7), "missing channel counts zero")
	assert.Nil(t, b.Flatten(7))
	assert.Equal(t, map[ChannelID]int{2: 1, 5: 3}, b.Singles())

	rates := b.SinglesRates()
	assert.InDelta(t, 1.5, rates[5], 1e-12)
	assert.InDelta(t, 0.5, rates[2], 1e-12)
}

func TestRawRoundTrip(t *testing.T) {
	b, err := New(map[ChannelID][]int64{
		1: {100, 500, 10000},
		5: {120, 9980},
	}, 5.0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, b))

	got, err := ReadRaw(&buf)
	require.NoError(t, err)
	assert.Equal(t, b.Flatten(1), got.Flatten(1))
	assert.Equal(t, b.Flatten(5), got.Flatten(5))
	assert.Equal(t, b.DurationSec(), got.DurationSec())
	assert.NotEqual(t, b.ID(), got.ID(), "a reloaded batch is a new batch")
}

func TestReadRawRejectsWrongMagic(t *testing.T) {
	_, err := ReadRaw(bytes.NewReader([]byte("BOGUS-HEADER-0000")))
	assert.ErrorIs(t, err, ErrNotRawCapture)
}

func TestFileRoundTrip(t *testing.T) {
	b, err := New(map[ChannelID][]int64{3: {1, 2, 3}}, 1.0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "capture.qlt")
	require.NoError(t, WriteFile(path, b))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got.Flatten(3))
}
