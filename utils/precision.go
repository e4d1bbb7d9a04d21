package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PrecisionStats summarises the absolute error between a reference and an
// approximation.
type PrecisionStats struct {
	N         int
	MaxAbsErr float64
	MeanErr   float64
	StdErr    float64
	// Log2Bits is -log2(MaxAbsErr), the number of exact bits in the worst slot.
	Log2Bits float64
}

// ComparePrecision computes error statistics between want and got.
func ComparePrecision(want, got []float64) (PrecisionStats, error) {
	if len(want) != len(got) {
		return PrecisionStats{}, fmt.Errorf("length mismatch: %d vs %d", len(want), len(got))
	}
	if len(want) == 0 {
		return PrecisionStats{}, nil
	}
	diff := make([]float64, len(want))
	floats.SubTo(diff, want, got)
	for i, d := range diff {
		diff[i] = math.Abs(d)
	}
	mean, std := stat.MeanStdDev(diff, nil)
	maxErr := floats.Max(diff)
	return PrecisionStats{
		N:         len(diff),
		MaxAbsErr: maxErr,
		MeanErr:   mean,
		StdErr:    std,
		Log2Bits:  -math.Log2(maxErr),
	}, nil
}

func (p PrecisionStats) String() string {
	return fmt.Sprintf("n=%d max=%.3e mean=%.3e std=%.3e (%.1f bits)", p.N, p.MaxAbsErr, p.MeanErr, p.StdErr, p.Log2Bits)
}
