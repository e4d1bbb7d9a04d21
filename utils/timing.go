package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether diagnostics and timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where diagnostics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// Logf prints a diagnostic line to Output when Verbose is set.
func Logf(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	fmt.Fprintf(Output, format+"\n", args...)
}

// LayerTiming is the wall time spent in one layer of a pipeline.
type LayerTiming struct {
	Tag      string
	Duration time.Duration
}

// TimingStats holds timing information for an inference run
type TimingStats struct {
	TotalTime       time.Duration
	HEInitTime      time.Duration
	EncryptionTime  time.Duration
	ForwardPassTime time.Duration
	DecryptionTime  time.Duration
	ReferenceTime   time.Duration
	Layers          []LayerTiming
}

// AddLayer records the time spent in a layer and adds it to the forward pass.
func (s *TimingStats) AddLayer(tag string, d time.Duration) {
	s.Layers = append(s.Layers, LayerTiming{Tag: tag, Duration: d})
	s.ForwardPassTime += d
}

func percent(part, whole time.Duration) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  HE initialization: %v (%.1f%%)\n", stats.HEInitTime, percent(stats.HEInitTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Encryption: %v (%.1f%%)\n", stats.EncryptionTime, percent(stats.EncryptionTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Forward pass: %v (%.1f%%)\n", stats.ForwardPassTime, percent(stats.ForwardPassTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Decryption: %v (%.1f%%)\n", stats.DecryptionTime, percent(stats.DecryptionTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Plaintext reference: %v (%.1f%%)\n", stats.ReferenceTime, percent(stats.ReferenceTime, stats.TotalTime))
	if len(stats.Layers) == 0 {
		return
	}
	fmt.Fprintln(Output, "\nForward pass breakdown:")
	for _, l := range stats.Layers {
		fmt.Fprintf(Output, "  %s: %v (%.1f%% of forward)\n", l.Tag, l.Duration, percent(l.Duration, stats.ForwardPassTime))
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
