// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "errors"

var (
	// ErrDuplicateSpec is returned by New when two specs share a label.
	ErrDuplicateSpec = errors.New("duplicate spec label")

	// ErrSpecNotFound is returned by delay updates naming an unknown label.
	ErrSpecNotFound = errors.New("spec not found")

	// ErrChannelNotInSpec is returned when a delay update names a channel
	// the spec does not include.
	ErrChannelNotInSpec = errors.New("channel not in spec")
)
