// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package batch

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

// Raw capture file format, consumed by the replay backend and produced by
// the recording wrapper. Little-endian throughout:
//
//	header:  4-byte magic "QLT1", float64 duration_sec
//	records: uint16 channel, int64 timestamp_ps, repeated until EOF
//
// Records are written in tag order (interleaved across channels); the reader
// re-sorts per channel, so a file concatenated from partial captures still
// loads.

var rawMagic = [4]byte{'Q', 'L', 'T', '1'}

// ErrNotRawCapture is returned when a file does not start with the raw
// capture magic bytes.
var ErrNotRawCapture = errors.New("not a raw capture file")

// WriteRaw writes the batch to w in the raw capture format.
func WriteRaw(w io.Writer, b *EventBatch) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(rawMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, b.durationSec); err != nil {
		return fmt.Errorf("write duration: %w", err)
	}
	for _, ch := range b.Channels() {
		for _, ts := range b.events[ch] {
			if err := binary.Write(bw, binary.LittleEndian, uint16(ch)); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
			if err := binary.Write(bw, binary.LittleEndian, ts); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
	}
	return bw.Flush()
}

// ReadRaw reads one batch from r in the raw capture format.
func ReadRaw(r io.Reader) (*EventBatch, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != rawMagic {
		return nil, ErrNotRawCapture
	}
	var durationSec float64
	if err := binary.Read(br, binary.LittleEndian, &durationSec); err != nil {
		return nil, fmt.Errorf("read duration: %w", err)
	}

	events := make(map[ChannelID][]int64)
	for {
		var ch uint16
		if err := binary.Read(br, binary.LittleEndian, &ch); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read record channel: %w", err)
		}
		var ts int64
		if err := binary.Read(br, binary.LittleEndian, &ts); err != nil {
			return nil, fmt.Errorf("read record timestamp: %w", err)
		}
		events[ChannelID(ch)] = append(events[ChannelID(ch)], ts)
	}

	// Files may interleave channels out of order; restore the per-channel
	// sort invariant before construction.
	for ch := range events {
		sortTimestamps(events[ch])
	}
	return New(events, durationSec)
}

// WriteFile writes the batch to path in the raw capture format.
func WriteFile(path string, b *EventBatch) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raw capture: %w", err)
	}
	defer f.Close()
	if err := WriteRaw(f, b); err != nil {
		return err
	}
	return f.Sync()
}

// ReadFile reads one batch from a raw capture file.
func ReadFile(path string) (*EventBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw capture: %w", err)
	}
	defer f.Close()
	return ReadRaw(f)
}

func sortTimestamps(ts []int64) {
	// The tagger emits records in time order, so this is almost always a
	// no-op scan; only concatenated files actually pay for the sort.
	for i := 1; i < len(ts); i++ {
		if ts[i] < ts[i-1] {
			slices.Sort(ts)
			return
		}
	}
}
