// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the engine over the wire: the legacy line-oriented
// TCP control protocol and the HTTP/websocket API.
package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
)

// FormatReport renders one pipeline result as the single-line report the
// TCP protocol emits per GATHER DATA request:
//
//	Channel1: 532, Channel2: 488, HH: 42, VV: 40, ..., HH_acc: 1.25, ...
//
// Singles come first in ascending channel order, then every label's count in
// the given order, then every label's accidental estimate (two decimals)
// when the result carries them. Accidentals trail the counts as a block,
// the ordering existing instrument clients parse.
func FormatReport(res *pipeline.Result, labels []string) string {
	channels := make([]int, 0, len(res.Singles))
	for ch := range res.Singles {
		channels = append(channels, int(ch))
	}
	sort.Ints(channels)

	parts := make([]string, 0, len(channels)+2*len(labels))
	for _, ch := range channels {
		parts = append(parts, fmt.Sprintf("Channel%d: %d", ch, res.Singles[batch.ChannelID(ch)]))
	}
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s: %d", label, res.Counts[label]))
	}
	if res.Accidentals != nil {
		for _, label := range labels {
			parts = append(parts, fmt.Sprintf("%s_acc: %.2f", label, res.Accidentals[label]))
		}
	}
	return strings.Join(parts, ", ")
}
