package utils

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func withOutput(t *testing.T, verbose bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevVerbose := Output, Verbose
	Output, Verbose = &buf, verbose
	t.Cleanup(func() { Output, Verbose = prevOut, prevVerbose })
	return &buf
}

func TestPrintTimingStats(t *testing.T) {
	buf := withOutput(t, true)
	stats := &TimingStats{TotalTime: 10 * time.Millisecond}
	stats.AddLayer("conv1", 3*time.Millisecond)
	stats.AddLayer("pool1", time.Millisecond)

	assert.Equal(t, 4*time.Millisecond, stats.ForwardPassTime)
	PrintTimingStats(stats)
	assert.Contains(t, buf.String(), "conv1: 3ms (75.0% of forward)")
}

func TestLogfRespectsVerbose(t *testing.T) {
	buf := withOutput(t, false)
	Logf("hidden %d", 1)
	PrintTimingStats(&TimingStats{})
	assert.Empty(t, buf.String())

	Verbose = true
	Logf("shown %d", 2)
	assert.Equal(t, "shown 2\n", buf.String())
}
