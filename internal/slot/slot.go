// Package slot provides the single exclusive execution slot that serializes
// resource-intensive agents (one shared browser session).
package slot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrNotHeld is returned by Release when nobody holds the slot.
var ErrNotHeld = errors.New("slot not held")

// Slot is a FIFO mutual-exclusion gate.
// Waiters are admitted in the order they called Acquire.
type Slot struct {
	sem     *semaphore.Weighted
	holders atomic.Int32
	waiting atomic.Int32
}

// New creates a free slot.
func New() *Slot {
	return &Slot{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the slot is free or ctx is done.
func (s *Slot) Acquire(ctx context.Context) error {
	s.waiting.Add(1)
	err := s.sem.Acquire(ctx, 1)
	s.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	s.holders.Add(1)
	return nil
}

// Release frees the slot.
func (s *Slot) Release() error {
	for {
		n := s.holders.Load()
		if n <= 0 {
			return ErrNotHeld
		}
		if s.holders.CompareAndSwap(n, n-1) {
			break
		}
	}
	s.sem.Release(1)
	return nil
}

// Do runs fn while holding the slot. The slot is released on every exit path,
// including a panic in fn, which is re-raised after release.
func (s *Slot) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn(ctx)
}

// Holders reports how many callers hold the slot (0 or 1).
func (s *Slot) Holders() int {
	return int(s.holders.Load())
}

// Waiting reports how many callers are blocked in Acquire.
func (s *Slot) Waiting() int {
	return int(s.waiting.Load())
}
