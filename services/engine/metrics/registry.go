// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics derives physics figures of merit from pipeline results.
//
// Metrics are pure functions over a single Result: they read coincidence
// counts and singles, never raw timestamps. A Registry holds a named,
// ordered set of them so the live controller and the report endpoints
// compute the same numbers from the same batch.
package metrics

import (
	"fmt"

	"github.com/qlaiblab/qlaib/services/engine/pipeline"
)

// Value is one computed metric. Extras carries named intermediates (for
// CHSH, the four correlation terms) so dashboards can show the breakdown
// without recomputing.
type Value struct {
	Name   string             `json:"name"`
	Value  float64            `json:"value"`
	Extras map[string]float64 `json:"extras,omitempty"`
}

// Func computes one metric from a result. Implementations must tolerate
// missing labels and all-zero counts, returning a zero value rather than
// NaN or a panic.
type Func func(res *pipeline.Result) Value

// Registry is an ordered collection of named metrics.
type Registry struct {
	order []string
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// NewDefaultRegistry returns the standard set for the polarization setup:
// CHSH S, two-basis visibilities, and QBER in the H/V basis.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("chsh_s", CHSHS)
	r.Register("visibility_hv", VisibilityFunc("visibility_hv", []string{"HH", "VV"}, []string{"HV", "VH"}))
	r.Register("visibility_da", VisibilityFunc("visibility_da", []string{"DD", "AA"}, []string{"DA", "AD"}))
	r.Register("qber_hv", QBERFunc("qber_hv", []string{"HV", "VH"}, []string{"HH", "VV"}))
	return r
}

// Register adds a metric under name. Registering an existing name replaces
// the function but keeps its original position.
func (r *Registry) Register(name string, fn Func) {
	if _, ok := r.funcs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.funcs[name] = fn
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Compute evaluates a single metric by name.
func (r *Registry) Compute(name string, res *pipeline.Result) (Value, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return Value{}, fmt.Errorf("metric %q not registered", name)
	}
	return fn(res), nil
}

// ComputeAll evaluates every registered metric in registration order.
func (r *Registry) ComputeAll(res *pipeline.Result) []Value {
	out := make([]Value, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.funcs[name](res))
	}
	return out
}
