// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import "github.com/qlaiblab/qlaib/services/engine/pipeline"

// Each correlation term draws on four coincidence labels, ordered
// (++, +-, -+, --) in that setting combination.
var chshTerms = []struct {
	name   string
	labels [4]string
}{
	{"E_ab", [4]string{"HH", "HV", "VH", "VV"}},
	{"E_abp", [4]string{"HD", "HA", "VD", "VA"}},
	{"E_apb", [4]string{"DH", "DV", "AH", "AV"}},
	{"E_apbp", [4]string{"DD", "DA", "AD", "AA"}},
}

// correlation computes E = (N++ + N-- - N+- - N-+) / N_total for one
// setting combination. Missing labels count as zero; an all-zero
// combination yields E = 0 rather than dividing by zero.
func correlation(counts map[string]int, labels [4]string) float64 {
	pp := counts[labels[0]]
	pm := counts[labels[1]]
	mp := counts[labels[2]]
	mm := counts[labels[3]]
	total := pp + pm + mp + mm
	if total == 0 {
		return 0
	}
	return float64(pp+mm-pm-mp) / float64(total)
}

// CHSHS computes the CHSH Bell parameter S = E_ab - E_abp + E_apb + E_apbp
// from the 16 polarization pair counts. The four correlation terms are
// returned in Extras. |S| > 2 violates the classical bound; the quantum
// limit is 2*sqrt(2).
func CHSHS(res *pipeline.Result) Value {
	extras := make(map[string]float64, len(chshTerms))
	for _, term := range chshTerms {
		extras[term.name] = correlation(res.Counts, term.labels)
	}
	s := extras["E_ab"] - extras["E_abp"] + extras["E_apb"] + extras["E_apbp"]
	return Value{Name: "chsh_s", Value: s, Extras: extras}
}
