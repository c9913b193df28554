package schedule

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressTracker prints item progress of a run to a writer.
type ProgressTracker struct {
	writer    io.Writer
	label     string
	total     int
	current   int
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

// NewProgressTracker creates a tracker writing to writer. A nil writer
// disables output but still counts.
func NewProgressTracker(writer io.Writer, label string) *ProgressTracker {
	return &ProgressTracker{writer: writer, label: label}
}

// Start begins tracking total items.
func (p *ProgressTracker) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.startTime = time.Now()
	p.started = true
	p.report()
}

// Increment adds delta committed items and reports.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.current = min(p.current+delta, p.total)
	p.report()
}

// Finish prints the final line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.writer == nil {
		return
	}
	p.report()
	fmt.Fprintln(p.writer)
}

// Current returns the number of items counted so far.
func (p *ProgressTracker) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	if p.writer == nil {
		return
	}
	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.current) / elapsed.Seconds()
	}
	percentage := 100.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.writer, "\r%s: %s/%s items (%.1f%%) - %.1f items/s",
		p.label, humanize.Comma(int64(p.current)), humanize.Comma(int64(p.total)), percentage, rate)
}
