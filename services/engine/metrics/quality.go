// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
)

func sumCounts(counts map[string]int, labels []string) int {
	total := 0
	for _, label := range labels {
		total += counts[label]
	}
	return total
}

// VisibilityFunc builds a visibility metric V = (max - min) / (max + min)
// between correlated and anti-correlated label groups. Zero totals yield 0.
func VisibilityFunc(name string, likeLabels, crossLabels []string) Func {
	return func(res *pipeline.Result) Value {
		like := sumCounts(res.Counts, likeLabels)
		cross := sumCounts(res.Counts, crossLabels)
		total := like + cross
		v := 0.0
		if total > 0 {
			hi, lo := like, cross
			if cross > like {
				hi, lo = cross, like
			}
			v = float64(hi-lo) / float64(total)
		}
		return Value{Name: name, Value: v, Extras: map[string]float64{
			"correlated":      float64(like),
			"anti_correlated": float64(cross),
		}}
	}
}

// QBERFunc builds a quantum bit error rate metric: the fraction of
// coincidences landing in the error labels out of error plus correct.
func QBERFunc(name string, errorLabels, correctLabels []string) Func {
	return func(res *pipeline.Result) Value {
		errs := sumCounts(res.Counts, errorLabels)
		correct := sumCounts(res.Counts, correctLabels)
		total := errs + correct
		q := 0.0
		if total > 0 {
			q = float64(errs) / float64(total)
		}
		return Value{Name: name, Value: q, Extras: map[string]float64{
			"errors":  float64(errs),
			"correct": float64(correct),
		}}
	}
}

// HeraldingEfficiencyFunc builds a heralding efficiency metric for one
// pair: coincidences under label divided by singles on the herald channel.
func HeraldingEfficiencyFunc(name, label string, herald batch.ChannelID) Func {
	return func(res *pipeline.Result) Value {
		singles := res.Singles[herald]
		eff := 0.0
		if singles > 0 {
			eff = float64(res.Counts[label]) / float64(singles)
		}
		return Value{Name: name, Value: eff, Extras: map[string]float64{
			"coincidences":   float64(res.Counts[label]),
			"herald_singles": float64(singles),
		}}
	}
}
