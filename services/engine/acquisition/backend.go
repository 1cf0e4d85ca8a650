// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package acquisition abstracts timestamp sources behind a capture
// interface. A backend produces event batches; whether they come from
// simulated streams, recorded files, or hardware is invisible to the
// pipeline above.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qlaiblab/qlaib/services/engine/batch"
)

// ErrExhausted is returned by finite backends (replay) when no more
// batches are available.
var ErrExhausted = errors.New("acquisition: no more batches")

// Backend is a source of event batches. Capture blocks until one batch of
// roughly exposureSec worth of data is available, or the context ends.
// Implementations must be safe for sequential reuse; they need not support
// concurrent Capture calls.
type Backend interface {
	Capture(ctx context.Context, exposureSec float64) (*batch.EventBatch, error)
	Close() error
}

// Recorder wraps a backend and writes every captured batch to disk in the
// raw capture format, one file per batch, named by batch ID. Replay can
// consume the files later.
type Recorder struct {
	inner Backend
	dir   string
}

// NewRecorder returns a recording wrapper over inner. The directory is
// created if missing.
func NewRecorder(inner Backend, dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &Recorder{inner: inner, dir: dir}, nil
}

func (r *Recorder) Capture(ctx context.Context, exposureSec float64) (*batch.EventBatch, error) {
	b, err := r.inner.Capture(ctx, exposureSec)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(r.dir, b.ID()+".qraw")
	if err := batch.WriteFile(path, b); err != nil {
		return nil, fmt.Errorf("record batch %s: %w", b.ID(), err)
	}
	return b, nil
}

func (r *Recorder) Close() error {
	return r.inner.Close()
}
