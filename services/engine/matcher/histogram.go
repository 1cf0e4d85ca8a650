// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matcher

import (
	"math"

	"github.com/qlaiblab/qlaib/pkg/validation"
)

// Histogram scans candidate delays for channel b against reference channel a
// and returns the cross-correlation histogram: one coincidence count per
// candidate offset.
//
// The grid is inclusive of both endpoints when the step divides the range
// evenly; a trailing partial step is dropped. Candidate i sits at
// startPs + i*stepPs and is applied as b's delay (see the package delay
// convention), so the peak offset is the delay that best aligns b with a.
//
// This is the same scan delay calibration runs internally; it is exported
// for ad-hoc diagnostic plotting.
func Histogram(a, b []int64, windowPs, startPs, endPs, stepPs float64) (offsets []float64, counts []int, err error) {
	if err := validation.ValidateWindow(windowPs); err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateScan(startPs, endPs, stepPs); err != nil {
		return nil, nil, err
	}

	// The epsilon absorbs float error so an evenly dividing step keeps its
	// final grid point (e.g. -100..100 step 10 has 21 candidates).
	n := int(math.Floor((endPs-startPs)/stepPs + 1e-9))
	offsets = make([]float64, n+1)
	counts = make([]int, n+1)
	for i := 0; i <= n; i++ {
		offset := startPs + float64(i)*stepPs
		offsets[i] = offset
		counts[i] = CountPair(a, b, windowPs, offset)
	}
	return offsets, counts, nil
}
