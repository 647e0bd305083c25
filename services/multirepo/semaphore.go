// Copyright (C) 2026 Lantern AI (oss@lantern-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package multirepo

import "context"

// Semaphore implements a counting semaphore for bounded concurrency.
//
// Thread Safety: Safe for concurrent use.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity. Capacities
// below 1 are clamped to 1.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// Acquire takes a slot, blocking until one is available or ctx ends.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must pair with a successful Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
	default:
		panic("semaphore: release without acquire")
	}
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}
