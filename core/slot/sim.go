package slot

import (
	"fmt"
	"math/bits"
)

// SimVector is a plaintext stand-in for an encrypted shard. It tracks the
// depth a real ciphertext would have left.
type SimVector struct {
	values []float64
	depth  int
}

// NewSimVector copies values into a simulated shard with the given depth.
func NewSimVector(values []float64, depth int) *SimVector {
	return &SimVector{values: append([]float64(nil), values...), depth: depth}
}

func (v *SimVector) Slots() int { return len(v.values) }
func (v *SimVector) Depth() int { return v.depth }

// Values returns a copy of the slot contents.
func (v *SimVector) Values() []float64 {
	return append([]float64(nil), v.values...)
}

// SimEvaluator implements Evaluator on SimVector with exact arithmetic.
// It is stateless and safe for concurrent use.
type SimEvaluator struct{}

// NewSimEvaluator returns a plaintext evaluator.
func NewSimEvaluator() *SimEvaluator { return &SimEvaluator{} }

func asSim(v Vector) (*SimVector, error) {
	s, ok := v.(*SimVector)
	if !ok {
		return nil, fmt.Errorf("%w: expected *SimVector, got %T", ErrInvalidArgument, v)
	}
	return s, nil
}

func simPair(a, b Vector) (*SimVector, *SimVector, error) {
	sa, err := asSim(a)
	if err != nil {
		return nil, nil, err
	}
	sb, err := asSim(b)
	if err != nil {
		return nil, nil, err
	}
	if len(sa.values) != len(sb.values) {
		return nil, nil, fmt.Errorf("%w: %d vs %d slots", ErrShapeMismatch, len(sa.values), len(sb.values))
	}
	return sa, sb, nil
}

func (SimEvaluator) Add(a, b Vector) (Vector, error) {
	sa, sb, err := simPair(a, b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(sa.values))
	for i := range out {
		out[i] = sa.values[i] + sb.values[i]
	}
	return &SimVector{values: out, depth: min(sa.depth, sb.depth)}, nil
}

func (SimEvaluator) Sub(a, b Vector) (Vector, error) {
	sa, sb, err := simPair(a, b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(sa.values))
	for i := range out {
		out[i] = sa.values[i] - sb.values[i]
	}
	return &SimVector{values: out, depth: min(sa.depth, sb.depth)}, nil
}

func (SimEvaluator) Negate(a Vector) (Vector, error) {
	sa, err := asSim(a)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(sa.values))
	for i, v := range sa.values {
		out[i] = -v
	}
	return &SimVector{values: out, depth: sa.depth}, nil
}

func (SimEvaluator) MulPlain(a Vector, mask []float64) (Vector, error) {
	sa, err := asSim(a)
	if err != nil {
		return nil, err
	}
	if len(mask) != len(sa.values) {
		return nil, fmt.Errorf("%w: mask has %d slots, vector %d", ErrShapeMismatch, len(mask), len(sa.values))
	}
	if sa.depth < 1 {
		return nil, fmt.Errorf("%w: no towers left", ErrInsufficientDepth)
	}
	out := make([]float64, len(sa.values))
	for i := range out {
		out[i] = sa.values[i] * mask[i]
	}
	return &SimVector{values: out, depth: sa.depth - 1}, nil
}

func (SimEvaluator) MulCipher(a, b Vector) (Vector, error) {
	sa, sb, err := simPair(a, b)
	if err != nil {
		return nil, err
	}
	depth := min(sa.depth, sb.depth)
	if depth < 1 {
		return nil, fmt.Errorf("%w: no towers left", ErrInsufficientDepth)
	}
	out := make([]float64, len(sa.values))
	for i := range out {
		out[i] = sa.values[i] * sb.values[i]
	}
	return &SimVector{values: out, depth: depth - 1}, nil
}

func (SimEvaluator) Rotate(a Vector, k int) (Vector, error) {
	sa, err := asSim(a)
	if err != nil {
		return nil, err
	}
	n := len(sa.values)
	out := make([]float64, n)
	shift := ((k % n) + n) % n
	for i := range out {
		out[i] = sa.values[(i+shift)%n]
	}
	return &SimVector{values: out, depth: sa.depth}, nil
}

func (SimEvaluator) EvalChebyshev(a Vector, coeffs []float64, lo, hi float64) (Vector, error) {
	sa, err := asSim(a)
	if err != nil {
		return nil, err
	}
	cost := ChebyshevDepth(len(coeffs) - 1)
	if sa.depth < cost {
		return nil, fmt.Errorf("%w: degree %d needs %d towers, have %d", ErrInsufficientDepth, len(coeffs)-1, cost, sa.depth)
	}
	out := make([]float64, len(sa.values))
	for i, x := range sa.values {
		out[i] = ChebyshevEval(coeffs, lo, hi, x)
	}
	return &SimVector{values: out, depth: sa.depth - cost}, nil
}

// ChebyshevDepth is the number of multiplicative levels a degree-d
// Chebyshev series consumes, ceil(log2(d+1)).
func ChebyshevDepth(degree int) int {
	if degree < 1 {
		return 0
	}
	return bits.Len(uint(degree))
}

// ChebyshevEval evaluates sum_k coeffs[k]*T_k(y) at y = (2x-lo-hi)/(hi-lo)
// with the Clenshaw recurrence.
func ChebyshevEval(coeffs []float64, lo, hi, x float64) float64 {
	if len(coeffs) == 0 {
		return 0
	}
	y := (2*x - lo - hi) / (hi - lo)
	var b1, b2 float64
	for k := len(coeffs) - 1; k >= 1; k-- {
		b1, b2 = coeffs[k]+2*y*b1-b2, b1
	}
	return coeffs[0] + y*b1 - b2
}
