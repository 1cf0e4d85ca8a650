// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for coincidence configuration.
//
// This package contains validators for user-provided inputs that end up in
// spec tables, report labels, or the wire protocol. Validating here keeps
// the engine's fail-fast configuration errors in one place and prevents
// malformed labels from leaking into reports and API paths.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// labelPattern matches valid coincidence spec labels.
// Allows: letters, digits, then underscores and hyphens (GHZ_135, HH).
// Max length: 32 characters.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,31}$`)

// MaxChannel is the highest channel id the time tagger exposes.
// The QuTAG units in the lab have 8 or 16 input channels; 64 leaves
// headroom for larger units without letting typos through.
const MaxChannel = 64

// ValidateLabel validates a coincidence spec label.
//
// Valid labels:
//   - 1-32 characters
//   - Letters and digits, underscores and hyphens after the first character
//
// Labels appear verbatim in text reports and HTTP paths, so anything
// outside this set is rejected.
//
// Example:
//
//	if err := validation.ValidateLabel(label); err != nil {
//	    return fmt.Errorf("invalid spec: %w", err)
//	}
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label %q (must be 1-32 alphanumeric chars, underscores, or hyphens)", label)
	}
	return nil
}

// SanitizeLabel normalizes and validates a label.
// Returns the trimmed label if valid, or an error if invalid.
func SanitizeLabel(label string) (string, error) {
	normalized := strings.TrimSpace(label)
	if err := ValidateLabel(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateChannel validates a time-tagger channel id.
// Channel ids are 1-based hardware inputs.
func ValidateChannel(ch int) error {
	if ch < 1 || ch > MaxChannel {
		return fmt.Errorf("invalid channel %d (must be 1-%d)", ch, MaxChannel)
	}
	return nil
}

// ValidateWindow validates a coincidence window in picoseconds.
// Windows must be strictly positive.
func ValidateWindow(windowPs float64) error {
	if !(windowPs > 0) {
		return fmt.Errorf("invalid window %g ps (must be > 0)", windowPs)
	}
	return nil
}

// ValidateScan validates a delay scan grid.
//
// The step must be strictly positive and the range non-inverted. A
// degenerate single-point scan (start == end) is allowed.
func ValidateScan(startPs, endPs, stepPs float64) error {
	if !(stepPs > 0) {
		return fmt.Errorf("invalid scan step %g ps (must be > 0)", stepPs)
	}
	if endPs < startPs {
		return fmt.Errorf("invalid scan range [%g, %g] ps (end before start)", startPs, endPs)
	}
	return nil
}
