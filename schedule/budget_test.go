package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudget_AllowsBatchUsesLongestObserved(t *testing.T) {
	clock := NewManualClock(baseTime)
	b := NewBudget(clock, time.Hour)

	assert.True(t, b.AllowsBatch())
	assert.Equal(t, time.Hour, b.Remaining())
	assert.Equal(t, baseTime.Add(time.Hour), b.Deadline())

	clock.Advance(10 * time.Minute)
	b.Observe(10 * time.Minute)
	clock.Advance(5 * time.Minute)
	b.Observe(5 * time.Minute)
	assert.Equal(t, 2, b.Batches())
	assert.Equal(t, 15*time.Minute, b.Elapsed())

	// 15m elapsed plus the longest batch (10m) still fits.
	assert.True(t, b.AllowsBatch())

	clock.Advance(36 * time.Minute)
	assert.False(t, b.AllowsBatch())
	assert.Equal(t, 9*time.Minute, b.Remaining())
}

func TestBudget_ExactFit(t *testing.T) {
	clock := NewManualClock(baseTime)
	b := NewBudget(clock, 2*time.Hour)

	clock.Advance(time.Hour)
	b.Observe(time.Hour)
	assert.True(t, b.AllowsBatch())

	clock.Advance(time.Hour)
	b.Observe(time.Hour)
	assert.False(t, b.AllowsBatch())
	assert.Zero(t, b.Remaining())

	clock.Advance(time.Hour)
	assert.Zero(t, b.Remaining())
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(baseTime)
	assert.Equal(t, baseTime, clock.Now())
	clock.Advance(time.Second)
	assert.Equal(t, baseTime.Add(time.Second), clock.Now())

	now := SystemClock().Now()
	assert.Equal(t, time.UTC, now.Location())
}
