package bench

import (
	"fmt"
	"math/rand"
	"time"

	"hecnn_lib/core/slot"
)

// OpCosts is the measured wall time of single backend operations.
type OpCosts struct {
	Rotation time.Duration
	MulPlain time.Duration
	Add      time.Duration
	// Poly is zero when the backend depth could not fit the measured degree.
	Poly time.Duration
}

// MeasureOpCosts times each evaluator operation samples times on a fresh
// random shard of b, under the same depth rules the engines see. Poly
// times a Chebyshev series of the given degree.
func MeasureOpCosts(b *Backend, samples, degree int) (OpCosts, error) {
	if samples < 1 {
		samples = 1
	}
	rng := rand.New(rand.NewSource(1))
	vals := make([]float64, b.Slots)
	mask := make([]float64, b.Slots)
	for i := range vals {
		vals[i] = 2*rng.Float64() - 1
		mask[i] = float64(rng.Intn(2))
	}
	shards, err := b.encrypt([][]float64{vals})
	if err != nil {
		return OpCosts{}, err
	}
	v := shards[0]
	w := slot.NewWrappedEvaluator(b.Eval)

	timeOp := func(op func() error) (time.Duration, error) {
		start := time.Now()
		for i := 0; i < samples; i++ {
			if err := op(); err != nil {
				return 0, err
			}
		}
		return time.Since(start) / time.Duration(samples), nil
	}

	var c OpCosts
	if c.Rotation, err = timeOp(func() error { _, err := w.Rotate(v, 1); return err }); err != nil {
		return OpCosts{}, fmt.Errorf("rotation: %w", err)
	}
	if c.MulPlain, err = timeOp(func() error { _, err := w.MulPlain(v, mask); return err }); err != nil {
		return OpCosts{}, fmt.Errorf("mul plain: %w", err)
	}
	if c.Add, err = timeOp(func() error { _, err := w.Add(v, v); return err }); err != nil {
		return OpCosts{}, fmt.Errorf("add: %w", err)
	}
	if degree > 0 && v.Depth() > slot.ChebyshevDepth(degree) {
		coeffs := make([]float64, degree+1)
		for i := range coeffs {
			coeffs[i] = rng.NormFloat64() / float64(i+1)
		}
		if c.Poly, err = timeOp(func() error { _, err := w.EvalChebyshev(v, coeffs, -1, 1); return err }); err != nil {
			return OpCosts{}, fmt.Errorf("chebyshev: %w", err)
		}
	}
	return c, nil
}

// Estimate returns the time ops would take at costs c spread over workers.
func (c OpCosts) Estimate(ops slot.OpCounts, workers int) time.Duration {
	if workers < 1 {
		workers = 1
	}
	total := time.Duration(ops.Rotations)*c.Rotation +
		time.Duration(ops.MulPlain+ops.MulCipher)*c.MulPlain +
		time.Duration(ops.Adds)*c.Add +
		time.Duration(ops.Polys)*c.Poly
	return total / time.Duration(workers)
}

// maxLogQP is the largest modulus (bits) giving 128-bit security for a
// ternary secret, per ring degree.
var maxLogQP = map[int]int{10: 27, 11: 54, 12: 109, 13: 218, 14: 438, 15: 881, 16: 1761, 17: 3524}

// Secure reports whether a ring of degree 2^logN with a logQP-bit modulus
// meets 128-bit security.
func Secure(logN, logQP int) bool {
	bound, ok := maxLogQP[logN]
	return ok && logQP <= bound
}
