// Package limiter bounds the number of concurrently running media subprocesses.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrWeightExceedsCapacity is returned when a single acquisition asks for more than the total
// capacity and could never be granted.
var ErrWeightExceedsCapacity = errors.New("weight exceeds limiter capacity")

// Limiter is a weighted FIFO semaphore. A large waiter at the head of the queue blocks smaller
// waiters behind it, so no acquisition starves.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	held     atomic.Int64
}

// New creates a limiter with the given total capacity. Capacities below one are raised to one.
func New(capacity int64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Acquire blocks until weight units are available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, weight int64) error {
	if weight > l.capacity {
		return fmt.Errorf("%w: %d > %d", ErrWeightExceedsCapacity, weight, l.capacity)
	}
	if err := l.sem.Acquire(ctx, weight); err != nil {
		return err
	}
	l.held.Add(weight)
	return nil
}

// Release returns weight units. It must be called exactly once per successful Acquire with the
// same weight.
func (l *Limiter) Release(weight int64) {
	l.held.Add(-weight)
	l.sem.Release(weight)
}

// Do runs fn while holding weight units and releases them when fn returns.
func (l *Limiter) Do(ctx context.Context, weight int64, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, weight); err != nil {
		return err
	}
	defer l.Release(weight)
	return fn(ctx)
}

// Held returns the currently held weight.
func (l *Limiter) Held() int64 {
	return l.held.Load()
}

// Capacity returns the total weight.
func (l *Limiter) Capacity() int64 {
	return l.capacity
}
