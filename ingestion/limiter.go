package ingestion

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of concurrent calls to a rate-limited endpoint.
type Limiter struct {
	sem *semaphore.Weighted
	max int
}

// NewLimiter returns a limiter admitting at most max concurrent calls.
// Values below 1 are treated as 1.
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(max)), max: max}
}

// Do runs fn once a slot is free. It returns ctx.Err() if ctx ends while waiting.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn(ctx)
}

// Max returns the concurrency cap.
func (l *Limiter) Max() int {
	return l.max
}
