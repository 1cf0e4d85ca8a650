// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's pre-defined instruments. All use the
// "qlaib_" prefix. Safe for concurrent use after creation.
type Metrics struct {
	// BatchesTotal counts acquisition chunks processed, by outcome.
	BatchesTotal metric.Int64Counter

	// RunDuration records pipeline run duration in seconds.
	RunDuration metric.Float64Histogram

	// CalibrationDuration records full calibration scan duration in seconds.
	CalibrationDuration metric.Float64Histogram

	// CoincidencesTotal counts measured coincidences, by spec label.
	CoincidencesTotal metric.Int64Counter

	// StreamClients tracks currently connected websocket stream clients.
	StreamClients metric.Int64UpDownCounter
}

// NewMetrics registers every engine instrument with the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.BatchesTotal, err = meter.Int64Counter(
		"qlaib_batches_total",
		metric.WithDescription("Acquisition chunks processed"),
	); err != nil {
		return nil, fmt.Errorf("create batches counter: %w", err)
	}
	if m.RunDuration, err = meter.Float64Histogram(
		"qlaib_run_duration_seconds",
		metric.WithDescription("Pipeline run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create run duration histogram: %w", err)
	}
	if m.CalibrationDuration, err = meter.Float64Histogram(
		"qlaib_calibration_duration_seconds",
		metric.WithDescription("Calibration scan duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create calibration duration histogram: %w", err)
	}
	if m.CoincidencesTotal, err = meter.Int64Counter(
		"qlaib_coincidences_total",
		metric.WithDescription("Measured coincidences by spec label"),
	); err != nil {
		return nil, fmt.Errorf("create coincidences counter: %w", err)
	}
	if m.StreamClients, err = meter.Int64UpDownCounter(
		"qlaib_stream_clients",
		metric.WithDescription("Connected stream clients"),
	); err != nil {
		return nil, fmt.Errorf("create stream clients counter: %w", err)
	}
	return m, nil
}
