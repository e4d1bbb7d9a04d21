// Package slot defines the SIMD slot-vector abstraction every layer engine is
// written against, together with a plaintext simulator and an instrumented
// wrapper that enforces depth and shape rules.
package slot

// MinMulDepth is the number of towers that must remain on an operand after
// which no further multiplication is allowed.
const MinMulDepth = 2

// Vector is an opaque SIMD vector of Slots() lanes, usually one encrypted
// shard of a tensor. Depth reports the towers remaining.
type Vector interface {
	Slots() int
	Depth() int
}

// Evaluator is the set of primitives a homomorphic backend supplies.
// Implementations return fresh vectors and never mutate their operands.
// Rotate is only ever called with signed powers of two (positive = left).
type Evaluator interface {
	Add(a, b Vector) (Vector, error)
	Sub(a, b Vector) (Vector, error)
	Negate(a Vector) (Vector, error)
	MulPlain(a Vector, mask []float64) (Vector, error)
	MulCipher(a, b Vector) (Vector, error)
	Rotate(a Vector, k int) (Vector, error)
	// EvalChebyshev evaluates sum_k coeffs[k]*T_k(y) with y the affine image
	// of x from [lo, hi] onto [-1, 1].
	EvalChebyshev(a Vector, coeffs []float64, lo, hi float64) (Vector, error)
}

// LowestDepth returns the smallest depth among vs, or 0 when vs is empty.
func LowestDepth(vs []Vector) int {
	if len(vs) == 0 {
		return 0
	}
	low := vs[0].Depth()
	for _, v := range vs[1:] {
		if d := v.Depth(); d < low {
			low = d
		}
	}
	return low
}
