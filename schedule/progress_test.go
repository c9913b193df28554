package schedule

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressTracker(&buf, "manuals")

	p.Increment(5) // ignored before Start
	assert.Zero(t, p.Current())

	p.Start(2000)
	p.Increment(1500)
	assert.Equal(t, 1500, p.Current())
	p.Increment(1000)
	assert.Equal(t, 2000, p.Current())
	p.Finish()

	out := buf.String()
	assert.Contains(t, out, "manuals: 0/2,000 items (0.0%)")
	assert.Contains(t, out, "manuals: 1,500/2,000 items (75.0%)")
	assert.Contains(t, out, "manuals: 2,000/2,000 items (100.0%)")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestProgressTracker_NilWriter(t *testing.T) {
	p := NewProgressTracker(nil, "quiet")
	p.Start(0)
	p.Increment(1)
	p.Finish()
	assert.Zero(t, p.Current())
}
