package layers

import (
	"testing"

	"hecnn_lib/core/slot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinPolyDepth(t *testing.T) {
	cases := map[int]int{1: 3, 5: 3, 6: 4, 13: 4, 14: 5, 27: 5, 28: 6, 59: 6, 60: 7, 119: 7, 120: 8, 200: 8}
	for degree, want := range cases {
		got, err := MinPolyDepth(degree)
		require.NoError(t, err, "degree %d", degree)
		assert.Equal(t, want, got, "degree %d", degree)
		assert.GreaterOrEqual(t, got, slot.ChebyshevDepth(degree), "degree %d", degree)
	}
	for _, degree := range []int{0, -3, 201} {
		_, err := MinPolyDepth(degree)
		assert.ErrorIs(t, err, slot.ErrInvalidArgument, "degree %d", degree)
	}
}

func TestChebyshevCoefficients_ReproducesPolynomial(t *testing.T) {
	cube := func(x float64) float64 { return x*x*x - 2*x + 0.5 }
	coeffs := ChebyshevCoefficients(cube, -2, 3, 3)
	require.Len(t, coeffs, 4)
	for x := -2.0; x <= 3; x += 0.25 {
		assert.InDelta(t, cube(x), slot.ChebyshevEval(coeffs, -2, 3, x), 1e-9, "x=%v", x)
	}
}

func TestGELU(t *testing.T) {
	assert.Equal(t, 0.0, GELU(0))
	assert.InDelta(t, 0.8413447, GELU(1), 1e-6)
	assert.InDelta(t, -0.1586553, GELU(-1), 1e-6)
	assert.Equal(t, []string{"GELU", "ReLU"}, FunctionNames())
}

func TestNonlinearity_ApproximatesBoundedGELU(t *testing.T) {
	vals := make([]float64, 64)
	for i := range vals {
		vals[i] = -1 + 2*float64(i)/63
	}
	eng := simEngine()
	for _, tc := range []struct {
		degree int
		tol    float64
	}{{27, 1e-3}, {59, 1e-5}} {
		need, err := MinPolyDepth(tc.degree)
		require.NoError(t, err)
		depth := slot.MinMulDepth + need
		out, err := eng.BoundedNonlinearity([]slot.Vector{slot.NewSimVector(vals, depth)}, tc.degree, 4)
		require.NoError(t, err)
		assert.Equal(t, depth-slot.ChebyshevDepth(tc.degree), out[0].Depth())
		for i, v := range simValues(t, out)[0] {
			assert.InDelta(t, GELU(4*vals[i]), v, tc.tol, "degree %d x=%v", tc.degree, vals[i])
		}
	}
	assert.Equal(t, int64(2), eng.Eval.Counts().Polys)
}

func TestNonlinearity_ReLU(t *testing.T) {
	vals := []float64{-1, -0.5, -0.1, 0.3, 0.8, 1}
	out, err := simEngine().Nonlinearity([]slot.Vector{slot.NewSimVector(vals, simDepth)}, "ReLU", 119, 2)
	require.NoError(t, err)
	for i, v := range simValues(t, out)[0] {
		assert.InDelta(t, ReLU(2*vals[i]), v, 0.05, "x=%v", vals[i])
	}
}

func TestNonlinearity_Errors(t *testing.T) {
	eng := simEngine()
	x := []slot.Vector{slot.NewSimVector(make([]float64, 8), slot.MinMulDepth+4)}

	_, err := eng.Nonlinearity(x, "tanh", 5, 1)
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
	_, err = eng.Nonlinearity(x, "GELU", 0, 1)
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
	_, err = eng.Nonlinearity(x, "GELU", 5, 0)
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
	_, err = eng.Nonlinearity(x, "GELU", 14, 1)
	assert.ErrorIs(t, err, slot.ErrInsufficientDepth)
	_, err = eng.Nonlinearity(nil, "GELU", 5, 1)
	assert.ErrorIs(t, err, slot.ErrShapeMismatch)

	// towers - 2 must cover the table depth exactly
	_, err = eng.Nonlinearity(x, "GELU", 13, 1)
	assert.NoError(t, err)
}

func TestActivation_Layer(t *testing.T) {
	_, err := NewActivation("swish", 5, 1, simEngine())
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
	_, err = NewActivation("GELU", 201, 1, simEngine())
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)

	act, err := NewActivation("GELU", 59, 3, simEngine())
	require.NoError(t, err)
	assert.Equal(t, 6, act.Levels())
	assert.Equal(t, "Activation_GELU_59", act.Tag())

	x := randTensor(95, 2, 4, 4)
	want, err := act.ForwardPlain(x)
	require.NoError(t, err)
	assert.InDelta(t, GELU(3*x.Data[5]), want.Data[5], 1e-15)

	in := packSim(t, x, 64, simDepth)
	out, err := act.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, in.Sigma, out.Sigma)
	requireTensorClose(t, want, unpackSim(t, out), 1e-4)
}
