// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package matcher implements windowed coincidence counting over sorted
// timestamp sequences.
//
// The matcher is the single source of truth for "what counts as a
// coincidence": both delay calibration and measurement run through it, so a
// delay calibrated here is optimal under the exact metric later used to
// report results.
//
// Delay convention: a channel's delay-corrected time is t - delay_ps. A
// positive delay therefore shifts a channel earlier, compensating a channel
// whose detections arrive late (longer cable, deeper detector).
//
// Inputs must be sorted ascending. Sortedness is an invariant of the event
// batch, established at batch construction; it is not re-verified here, and
// violating it is a caller error. The inner loops are deliberately free of
// instrumentation and allocation; tracing wraps the pipeline layer instead.
package matcher

import "math"

// CountPair counts coincidences between two sorted channels using a
// two-pointer merge scan.
//
// delayPs is the relative delay of b with respect to a (delay_b - delay_a);
// for a pair, only the difference matters. Two events coincide when their
// delay-corrected separation satisfies |diff| <= windowPs/2, boundary
// inclusive. On a match both events are consumed, so each timestamp
// participates in at most one coincidence; otherwise the cursor pointing at
// the earlier corrected time advances.
//
// Runs in O(len(a)+len(b)) and is deterministic given sorted inputs.
// Empty inputs yield 0, never an error.
func CountPair(a, b []int64, windowPs, delayPs float64) int {
	half := windowPs / 2
	count := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		// corrected: a[i] - (b[j] - delayPs)
		diff := float64(a[i]-b[j]) + delayPs
		if math.Abs(diff) <= half {
			count++
			i++
			j++
			continue
		}
		if diff > 0 {
			// b[j] is earlier than any window a[i] can open; discard it.
			j++
		} else {
			i++
		}
	}
	return count
}

// Count counts N-fold coincidences across the given channels.
//
// channels[0] is the anchor; delaysPs carries one delay per channel (nil
// means all zero). For two channels this reduces to CountPair with the
// relative delay. For N >= 3 the matcher walks anchor events in order: each
// anchor event e opens the half-open window [e-w/2, e+w/2) in corrected
// time, and a coincidence is recorded only if every secondary channel has an
// unconsumed event inside it. On a hit the anchor event and, per secondary
// channel, the in-window event closest in absolute time to e (earliest index
// on ties) are consumed. Anchors with no full cross-channel hit are skipped
// without consuming anything.
//
// This greedy, single-pass, consume-once policy is the canonical coincidence
// definition for the engine; alternative policies (event reuse, global
// optimal assignment) produce different counts on dense data.
//
// Fewer than two channels, or any empty or missing channel, yields 0.
func Count(channels [][]int64, windowPs float64, delaysPs []float64) int {
	if len(channels) < 2 {
		return 0
	}
	for _, ch := range channels {
		if len(ch) == 0 {
			return 0
		}
	}
	if len(channels) == 2 {
		return CountPair(channels[0], channels[1], windowPs, delayAt(delaysPs, 1)-delayAt(delaysPs, 0))
	}
	return countNFold(channels, windowPs, delaysPs)
}

func countNFold(channels [][]int64, windowPs float64, delaysPs []float64) int {
	half := windowPs / 2
	n := len(channels)

	anchor := channels[0]
	anchorDelay := delayAt(delaysPs, 0)

	// cursors[s] is the first index on secondary channel s that may still be
	// unconsumed and in or past the current window; consumed[s] marks events
	// picked by earlier anchors that the cursor has not yet passed.
	cursors := make([]int, n)
	consumed := make([][]bool, n)
	for s := 1; s < n; s++ {
		consumed[s] = make([]bool, len(channels[s]))
	}
	picks := make([]int, n)

	count := 0
	for _, ts := range anchor {
		e := float64(ts) - anchorDelay
		lo := e - half
		hi := e + half

		ok := true
		for s := 1; s < n; s++ {
			sec := channels[s]
			delay := delayAt(delaysPs, s)

			// Anchors ascend, so everything before lo is dead to all future
			// windows as well; the cursor never moves backwards.
			cur := cursors[s]
			for cur < len(sec) && (consumed[s][cur] || float64(sec[cur])-delay < lo) {
				cur++
			}
			cursors[s] = cur

			best := -1
			bestAbs := 0.0
			for j := cur; j < len(sec); j++ {
				if consumed[s][j] {
					continue
				}
				t := float64(sec[j]) - delay
				if t >= hi {
					break
				}
				d := math.Abs(t - e)
				// Strict < keeps the earliest index on ties.
				if best == -1 || d < bestAbs {
					best = j
					bestAbs = d
				}
			}
			if best == -1 {
				ok = false
				break
			}
			picks[s] = best
		}

		if ok {
			for s := 1; s < n; s++ {
				consumed[s][picks[s]] = true
			}
			count++
		}
	}
	return count
}

func delayAt(delaysPs []float64, i int) float64 {
	if i < len(delaysPs) {
		return delaysPs[i]
	}
	return 0
}
