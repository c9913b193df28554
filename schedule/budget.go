package schedule

import "time"

// Budget tracks a run's elapsed time against its execution limit. The cost
// of the next batch is estimated as the longest batch seen so far.
type Budget struct {
	clock   Clock
	limit   time.Duration
	start   time.Time
	longest time.Duration
	batches int
}

// NewBudget starts a budget of limit at the clock's current time.
func NewBudget(clock Clock, limit time.Duration) *Budget {
	return &Budget{clock: clock, limit: limit, start: clock.Now()}
}

// Elapsed returns the time spent so far.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

// Remaining returns the time left, never negative.
func (b *Budget) Remaining() time.Duration {
	return max(b.limit-b.Elapsed(), 0)
}

// AllowsBatch reports whether another batch is expected to finish in budget.
func (b *Budget) AllowsBatch() bool {
	return b.Elapsed()+b.longest <= b.limit
}

// Observe records the duration of a completed batch.
func (b *Budget) Observe(d time.Duration) {
	b.batches++
	if d > b.longest {
		b.longest = d
	}
}

// Deadline returns the instant the budget runs out.
func (b *Budget) Deadline() time.Time {
	return b.start.Add(b.limit)
}

// Batches returns the number of batches observed.
func (b *Budget) Batches() int {
	return b.batches
}
