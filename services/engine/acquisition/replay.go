// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package acquisition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"context"

	"github.com/qlaiblab/qlaib/services/engine/batch"
)

// Replay serves previously recorded raw capture files as batches, one file
// per Capture call, in lexical filename order. The requested exposure is
// ignored; each batch keeps the duration it was recorded with. When the
// files run out Capture returns ErrExhausted.
type Replay struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// NewReplay returns a replay backend over the given capture files.
func NewReplay(paths []string) *Replay {
	cp := make([]string, len(paths))
	copy(cp, paths)
	return &Replay{paths: cp}
}

// NewReplayDir returns a replay backend over every .qraw file in dir,
// in lexical order.
func NewReplayDir(dir string) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read capture dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".qraw") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .qraw files in %s", dir)
	}
	sort.Strings(paths)
	return NewReplay(paths), nil
}

func (r *Replay) Capture(ctx context.Context, _ float64) (*batch.EventBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.next >= len(r.paths) {
		r.mu.Unlock()
		return nil, ErrExhausted
	}
	path := r.paths[r.next]
	r.next++
	r.mu.Unlock()

	b, err := batch.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return b, nil
}

// Remaining reports how many files have not been served yet.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths) - r.next
}

func (r *Replay) Close() error { return nil }
