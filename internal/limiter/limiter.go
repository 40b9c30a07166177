// Package limiter bounds how many probes may be in flight at once.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 20

// Hooks receive limiter activity, typically to feed metrics. Either may be nil.
type Hooks struct {
	// OnAcquire fires after a slot is granted with the time spent waiting.
	OnAcquire func(wait time.Duration, inFlight int64)
	// OnRelease fires after a slot is returned.
	OnRelease func(inFlight int64)
}

// Limiter is a counting semaphore with idempotent release.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
	hooks    Hooks
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithHooks registers activity callbacks.
func WithHooks(h Hooks) Option {
	return func(l *Limiter) {
		l.hooks = h
	}
}

// New creates a Limiter admitting at most capacity concurrent holders.
func New(capacity int, opts ...Option) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot is free or ctx ends. The returned release
// function may be called any number of times; only the first call frees the
// slot, so it is safe to both defer it and call it early.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return func() {}, fmt.Errorf("acquire probe slot: %w", err)
	}
	n := l.inFlight.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() {
			n := l.inFlight.Add(-1)
			l.sem.Release(1)
			if l.hooks.OnRelease != nil {
				l.hooks.OnRelease(n)
			}
		})
	}
	if l.hooks.OnAcquire != nil {
		ok := false
		defer func() {
			if !ok {
				release()
			}
		}()
		l.hooks.OnAcquire(time.Since(start), n)
		ok = true
	}
	return release, nil
}

// InFlight reports how many slots are currently held.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Capacity reports the configured bound.
func (l *Limiter) Capacity() int64 {
	return l.capacity
}
