package layers

import (
	"fmt"
	"math"
	"sort"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"

	"gonum.org/v1/gonum/stat/distuv"
)

// MaxPolyDegree is the largest Chebyshev degree the depth table covers.
const MaxPolyDegree = 200

// GELU is x * Phi(x) with Phi the standard normal CDF.
func GELU(x float64) float64 {
	return x * distuv.UnitNormal.CDF(x)
}

// ReLU is max(x, 0).
func ReLU(x float64) float64 {
	return math.Max(x, 0)
}

// SupportedFunctions are the nonlinearities Nonlinearity accepts by name.
var SupportedFunctions = map[string]func(float64) float64{
	"GELU": GELU,
	"ReLU": ReLU,
}

// FunctionNames lists SupportedFunctions in sorted order.
func FunctionNames() []string {
	names := make([]string, 0, len(SupportedFunctions))
	for name := range SupportedFunctions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// polyDepthTable maps the largest degree of each band to the depth it
// needs beyond the multiplication floor.
var polyDepthTable = []struct{ maxDegree, depth int }{
	{5, 3}, {13, 4}, {27, 5}, {59, 6}, {119, 7}, {200, 8},
}

// MinPolyDepth is the depth a shard must have above slot.MinMulDepth to
// evaluate a Chebyshev series of the given degree.
func MinPolyDepth(degree int) (int, error) {
	if degree < 1 || degree > MaxPolyDegree {
		return 0, fmt.Errorf("%w: polynomial degree %d outside 1..%d", slot.ErrInvalidArgument, degree, MaxPolyDegree)
	}
	for _, row := range polyDepthTable {
		if degree <= row.maxDegree {
			return row.depth, nil
		}
	}
	return 0, fmt.Errorf("%w: polynomial degree %d", slot.ErrInvalidArgument, degree)
}

// ChebyshevCoefficients interpolates f on [lo, hi] at the degree+1
// Chebyshev nodes. The result c satisfies f(x) ~ sum_k c[k] T_k(y) with y
// the image of x on [-1, 1].
func ChebyshevCoefficients(f func(float64) float64, lo, hi float64, degree int) []float64 {
	n := degree + 1
	half, mid := (hi-lo)/2, (hi+lo)/2
	vals := make([]float64, n)
	for j := range vals {
		vals[j] = f(math.Cos(math.Pi*(float64(j)+0.5)/float64(n))*half + mid)
	}
	coeffs := make([]float64, n)
	for i := range coeffs {
		var sum float64
		for j, v := range vals {
			sum += v * math.Cos(math.Pi*float64(i)*(float64(j)+0.5)/float64(n))
		}
		coeffs[i] = 2 * sum / float64(n)
	}
	coeffs[0] /= 2
	return coeffs
}

// BoundedNonlinearity applies GELU to bound*x for every slot x of every
// shard, with inputs expected in [-1, 1].
func (e *Engine) BoundedNonlinearity(shards []slot.Vector, degree int, bound float64) ([]slot.Vector, error) {
	return e.Nonlinearity(shards, "GELU", degree, bound)
}

// Nonlinearity approximates the named function of bound*x with a degree
// Chebyshev series on [-1, 1] and evaluates it on every shard.
func (e *Engine) Nonlinearity(shards []slot.Vector, name string, degree int, bound float64) ([]slot.Vector, error) {
	f, ok := SupportedFunctions[name]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported function %q", slot.ErrInvalidArgument, name)
	}
	if !(bound > 0) {
		return nil, fmt.Errorf("%w: bound %v must be positive", slot.ErrInvalidArgument, bound)
	}
	need, err := MinPolyDepth(degree)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w: no shards", slot.ErrShapeMismatch)
	}
	for i, s := range shards {
		if usable := s.Depth() - slot.MinMulDepth; usable < need {
			return nil, fmt.Errorf("%w: shard %d has %d towers, degree %d needs %d",
				slot.ErrInsufficientDepth, i, s.Depth(), degree, need+slot.MinMulDepth)
		}
	}
	logLayer("nonlinearity", "%s degree %d bound %g on %d shards", name, degree, bound, len(shards))

	coeffs := ChebyshevCoefficients(func(x float64) float64 { return f(bound * x) }, -1, 1, degree)
	out := make([]slot.Vector, len(shards))
	err = e.parallelFor(len(shards), func(i int) error {
		v, err := e.Eval.EvalChebyshev(shards[i], coeffs, -1, 1)
		out[i] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Activation is an elementwise nonlinearity layer.
type Activation struct {
	Name   string
	Degree int
	Bound  float64
	engine *Engine
}

// NewActivation checks name and degree and creates the layer.
func NewActivation(name string, degree int, bound float64, eng *Engine) (*Activation, error) {
	if _, ok := SupportedFunctions[name]; !ok {
		return nil, fmt.Errorf("%w: unsupported function %q (have %v)", slot.ErrInvalidArgument, name, FunctionNames())
	}
	if _, err := MinPolyDepth(degree); err != nil {
		return nil, err
	}
	return &Activation{Name: name, Degree: degree, Bound: bound, engine: eng}, nil
}

// ForwardPlain applies the exact function to Bound*x.
func (a *Activation) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	f := SupportedFunctions[a.Name]
	return tensor.Apply(x, func(v float64) float64 { return f(a.Bound * v) }), nil
}

func (a *Activation) Forward(in *layout.Packed) (*layout.Packed, error) {
	out, err := a.engine.Nonlinearity(in.Shards, a.Name, a.Degree, a.Bound)
	if err != nil {
		return nil, err
	}
	res := *in
	res.Shards = out
	return &res, nil
}

// Levels is the depth the layer reserves, which may exceed what the
// evaluation consumes.
func (a *Activation) Levels() int {
	d, _ := MinPolyDepth(a.Degree)
	return d
}

func (a *Activation) Tag() string {
	return fmt.Sprintf("Activation_%s_%d", a.Name, a.Degree)
}
