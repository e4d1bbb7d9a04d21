package slot

import (
	"fmt"
	"sync/atomic"

	"hecnn_lib/utils"
)

// OpCounts is a snapshot of the operations issued through a WrappedEvaluator.
type OpCounts struct {
	Rotations int64 // power-of-two key switches, not logical rotations
	MulPlain  int64
	MulCipher int64
	Adds      int64 // additions, subtractions and negations
	Polys     int64
}

// WrappedEvaluator is the evaluator the layer engines talk to. It enforces
// the slot-width and depth rules, splits rotations into power-of-two steps
// and counts operations. It is safe for concurrent use if the wrapped
// Evaluator is.
type WrappedEvaluator struct {
	eval Evaluator

	// MinDepth is the depth at or below which multiplications are refused.
	MinDepth int

	rotations atomic.Int64
	mulPlain  atomic.Int64
	mulCipher atomic.Int64
	adds      atomic.Int64
	polys     atomic.Int64
}

// NewWrappedEvaluator wraps eval with MinDepth = MinMulDepth.
func NewWrappedEvaluator(eval Evaluator) *WrappedEvaluator {
	return &WrappedEvaluator{eval: eval, MinDepth: MinMulDepth}
}

// ResetCounters resets all operation counters to zero
func (w *WrappedEvaluator) ResetCounters() {
	w.rotations.Store(0)
	w.mulPlain.Store(0)
	w.mulCipher.Store(0)
	w.adds.Store(0)
	w.polys.Store(0)
}

// Counts returns the current operation counters.
func (w *WrappedEvaluator) Counts() OpCounts {
	return OpCounts{
		Rotations: w.rotations.Load(),
		MulPlain:  w.mulPlain.Load(),
		MulCipher: w.mulCipher.Load(),
		Adds:      w.adds.Load(),
		Polys:     w.polys.Load(),
	}
}

// PrintCounters prints the current operation counts.
// Respects utils.Verbose flag - does nothing if Verbose is false.
func (w *WrappedEvaluator) PrintCounters(phaseName string) {
	if !utils.Verbose {
		return
	}
	c := w.Counts()
	fmt.Fprintf(utils.Output, "=== Phase: %s ===\n", phaseName)
	fmt.Fprintf(utils.Output, "Rotates: %d, MulPlain: %d, MulCipher: %d, Adds: %d, Polys: %d\n",
		c.Rotations, c.MulPlain, c.MulCipher, c.Adds, c.Polys)
}

// RequireDepth checks that every vector can absorb levels consecutive
// multiplications without crossing MinDepth.
func (w *WrappedEvaluator) RequireDepth(vs []Vector, levels int) error {
	for i, v := range vs {
		if v.Depth() < w.MinDepth+levels {
			return fmt.Errorf("%w: shard %d has depth %d, need %d for %d multiplication(s)",
				ErrInsufficientDepth, i, v.Depth(), w.MinDepth+levels, levels)
		}
	}
	return nil
}

func (w *WrappedEvaluator) Add(a, b Vector) (Vector, error) {
	w.adds.Add(1)
	out, err := w.eval.Add(a, b)
	if err != nil {
		return nil, fmt.Errorf("add failed: %w", err)
	}
	return out, nil
}

func (w *WrappedEvaluator) Sub(a, b Vector) (Vector, error) {
	w.adds.Add(1)
	out, err := w.eval.Sub(a, b)
	if err != nil {
		return nil, fmt.Errorf("sub failed: %w", err)
	}
	return out, nil
}

func (w *WrappedEvaluator) Negate(a Vector) (Vector, error) {
	w.adds.Add(1)
	out, err := w.eval.Negate(a)
	if err != nil {
		return nil, fmt.Errorf("negate failed: %w", err)
	}
	return out, nil
}

// MulPlain multiplies a by a public mask of exactly a.Slots() values.
func (w *WrappedEvaluator) MulPlain(a Vector, mask []float64) (Vector, error) {
	if len(mask) != a.Slots() {
		return nil, fmt.Errorf("%w: mask has %d values, batch size is %d", ErrShapeMismatch, len(mask), a.Slots())
	}
	if a.Depth() <= w.MinDepth {
		return nil, fmt.Errorf("%w: plaintext multiplication at depth %d", ErrInsufficientDepth, a.Depth())
	}
	w.mulPlain.Add(1)
	out, err := w.eval.MulPlain(a, mask)
	if err != nil {
		return nil, fmt.Errorf("mulPlain failed: %w", err)
	}
	return out, nil
}

// MulCipher multiplies two vectors slot by slot.
func (w *WrappedEvaluator) MulCipher(a, b Vector) (Vector, error) {
	if a.Depth() <= w.MinDepth || b.Depth() <= w.MinDepth {
		return nil, fmt.Errorf("%w: ciphertext multiplication at depths %d and %d", ErrInsufficientDepth, a.Depth(), b.Depth())
	}
	w.mulCipher.Add(1)
	out, err := w.eval.MulCipher(a, b)
	if err != nil {
		return nil, fmt.Errorf("mulCipher failed: %w", err)
	}
	return out, nil
}

// Rotate rotates a left by k slots (right for negative k). The amount is
// reduced modulo the slot width and applied as power-of-two steps.
func (w *WrappedEvaluator) Rotate(a Vector, k int) (Vector, error) {
	out := a
	for _, step := range RotationSteps(k, a.Slots()) {
		w.rotations.Add(1)
		var err error
		if out, err = w.eval.Rotate(out, step); err != nil {
			return nil, fmt.Errorf("rotate by %d failed: %w", step, err)
		}
	}
	return out, nil
}

// Sum adds vs left to right. It fails on an empty list.
func (w *WrappedEvaluator) Sum(vs []Vector) (Vector, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: sum of no vectors", ErrInvalidArgument)
	}
	acc := vs[0]
	for _, v := range vs[1:] {
		var err error
		if acc, err = w.Add(acc, v); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// EvalChebyshev forwards a Chebyshev series evaluation to the backend.
func (w *WrappedEvaluator) EvalChebyshev(a Vector, coeffs []float64, lo, hi float64) (Vector, error) {
	w.polys.Add(1)
	out, err := w.eval.EvalChebyshev(a, coeffs, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("chebyshev evaluation failed: %w", err)
	}
	return out, nil
}
