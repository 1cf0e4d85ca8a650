// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
)

func resultWith(counts map[string]int) *pipeline.Result {
	return &pipeline.Result{
		BatchID:     "test",
		DurationSec: 1,
		Counts:      counts,
		Singles:     map[batch.ChannelID]int{},
	}
}

func TestCorrelationPerfect(t *testing.T) {
	counts := map[string]int{"HH": 50, "VV": 50, "HV": 0, "VH": 0}
	assert.Equal(t, 1.0, correlation(counts, [4]string{"HH", "HV", "VH", "VV"}))

	anti := map[string]int{"HH": 0, "VV": 0, "HV": 50, "VH": 50}
	assert.Equal(t, -1.0, correlation(anti, [4]string{"HH", "HV", "VH", "VV"}))
}

func TestCorrelationZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, correlation(map[string]int{}, [4]string{"HH", "HV", "VH", "VV"}))
}

func TestCHSHAllZeroCounts(t *testing.T) {
	v := CHSHS(resultWith(map[string]int{}))
	assert.Equal(t, 0.0, v.Value, "empty batch must give S exactly 0, never NaN")
	assert.False(t, math.IsNaN(v.Value))
	assert.Equal(t, 0.0, v.Extras["E_ab"])
}

func TestCHSHMaximalViolation(t *testing.T) {
	// Counts chosen so each correlation term is +-1/sqrt(2) with the CHSH
	// sign pattern, giving S = 2*sqrt(2) up to integer rounding.
	n := 100000
	hi := int(float64(n) * (2 + math.Sqrt2) / 4)
	lo := n - hi

	counts := map[string]int{}
	set := func(labels [4]string, e float64) {
		if e > 0 {
			counts[labels[0]], counts[labels[3]] = hi/2, hi-hi/2
			counts[labels[1]], counts[labels[2]] = lo/2, lo-lo/2
		} else {
			counts[labels[0]], counts[labels[3]] = lo/2, lo-lo/2
			counts[labels[1]], counts[labels[2]] = hi/2, hi-hi/2
		}
	}
	set([4]string{"HH", "HV", "VH", "VV"}, 1)
	set([4]string{"HD", "HA", "VD", "VA"}, -1)
	set([4]string{"DH", "DV", "AH", "AV"}, 1)
	set([4]string{"DD", "DA", "AD", "AA"}, 1)

	v := CHSHS(resultWith(counts))
	assert.InDelta(t, 2*math.Sqrt2, v.Value, 1e-3)
	assert.InDelta(t, 1/math.Sqrt2, v.Extras["E_ab"], 1e-3)
	assert.InDelta(t, -1/math.Sqrt2, v.Extras["E_abp"], 1e-3)
}

func TestVisibility(t *testing.T) {
	fn := VisibilityFunc("visibility_hv", []string{"HH", "VV"}, []string{"HV", "VH"})

	v := fn(resultWith(map[string]int{"HH": 45, "VV": 45, "HV": 5, "VH": 5}))
	assert.InDelta(t, 0.8, v.Value, 1e-12)

	// Symmetric in which group dominates.
	v = fn(resultWith(map[string]int{"HH": 5, "VV": 5, "HV": 45, "VH": 45}))
	assert.InDelta(t, 0.8, v.Value, 1e-12)

	v = fn(resultWith(map[string]int{}))
	assert.Equal(t, 0.0, v.Value)
}

func TestQBER(t *testing.T) {
	fn := QBERFunc("qber_hv", []string{"HV", "VH"}, []string{"HH", "VV"})

	v := fn(resultWith(map[string]int{"HH": 90, "VV": 90, "HV": 10, "VH": 10}))
	assert.InDelta(t, 0.1, v.Value, 1e-12)

	v = fn(resultWith(map[string]int{}))
	assert.Equal(t, 0.0, v.Value)
}

func TestHeraldingEfficiency(t *testing.T) {
	fn := HeraldingEfficiencyFunc("herald_hh", "HH", 5)

	res := resultWith(map[string]int{"HH": 25})
	res.Singles = map[batch.ChannelID]int{5: 100}
	v := fn(res)
	assert.InDelta(t, 0.25, v.Value, 1e-12)
	assert.Equal(t, 100.0, v.Extras["herald_singles"])

	res.Singles = map[batch.ChannelID]int{}
	assert.Equal(t, 0.0, fn(res).Value, "no singles yields 0, not Inf")
}

func TestRegistryOrderAndReplace(t *testing.T) {
	r := NewRegistry()
	r.Register("b", func(*pipeline.Result) Value { return Value{Name: "b", Value: 2} })
	r.Register("a", func(*pipeline.Result) Value { return Value{Name: "a", Value: 1} })
	assert.Equal(t, []string{"b", "a"}, r.Names())

	// Replacing keeps position.
	r.Register("b", func(*pipeline.Result) Value { return Value{Name: "b", Value: 20} })
	values := r.ComputeAll(resultWith(nil))
	require.Len(t, values, 2)
	assert.Equal(t, 20.0, values[0].Value)
	assert.Equal(t, 1.0, values[1].Value)
}

func TestRegistryComputeUnknown(t *testing.T) {
	_, err := NewRegistry().Compute("nope", resultWith(nil))
	assert.Error(t, err)
}

func TestDefaultRegistryNeverPanics(t *testing.T) {
	r := NewDefaultRegistry()
	values := r.ComputeAll(resultWith(map[string]int{}))
	for _, v := range values {
		assert.False(t, math.IsNaN(v.Value), "%s must not be NaN on an empty result", v.Name)
	}
	assert.Equal(t, []string{"chsh_s", "visibility_hv", "visibility_da", "qber_hv"}, r.Names())
}
