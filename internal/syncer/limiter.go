package syncer

// limiter.go implements concurrency control for the engine.
//
// The same semaphore type serves two jobs: a capacity-1 gate that enforces
// single-run-at-a-time, and the bounded worker pool for the images stage
// that keeps parallel resolutions inside the external API's comfort zone.

import (
	"context"
	"sync"
	"time"
)

// DefaultImageWorkers is the default bound on parallel image resolutions.
const DefaultImageWorkers = 5

// Limiter controls concurrent work using a semaphore pattern.
type Limiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

// NewLimiter creates a limiter allowing at most max simultaneous holders.
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{semaphore: make(chan struct{}, max)}
}

// Acquire blocks until a slot is free or ctx is done.
// The caller MUST call Release when the work completes (use defer).
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once per successful Acquire/TryAcquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of slots currently held.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the limiter's capacity.
func (l *Limiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// WaitForDrain blocks until all held slots are released or ctx is done.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
