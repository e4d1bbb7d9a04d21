package layers

import (
	"math/rand"
	"testing"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randDense(seed int64, rows, cols int) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() / 4
	}
	return mat.NewDense(rows, cols, data)
}

func identityDense(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func TestLinear_IdentityWeights(t *testing.T) {
	for _, slots := range []int{16, 64} {
		x := randTensor(60, 1, 4, 4)
		lin := NewLinear(identityDense(16), 1, simEngine())

		out, err := lin.Forward(packSim(t, x, slots, simDepth))
		require.NoError(t, err)
		require.True(t, out.Flat)
		require.Len(t, out.Shards, 1)
		assert.Equal(t, simDepth-2, out.Shards[0].Depth())

		vals := simValues(t, out.Shards)[0]
		for i, v := range vals {
			want := 0.0
			if i < 16 {
				want = x.Data[i]
			}
			assert.InDelta(t, want, v, 1e-12, "slots=%d slot %d", slots, i)
		}
	}
}

func TestLinear_MatchesReference(t *testing.T) {
	cases := []struct {
		name                string
		channels, n, slots  int
		outputs, poolFactor int
	}{
		{"single shard", 1, 4, 16, 10, 1},
		{"duplicated", 2, 4, 128, 7, 1},
		{"multi shard", 4, 4, 32, 10, 1},
		{"channel sharded", 2, 8, 16, 5, 1},
		{"pool factor", 2, 4, 32, 32, 2},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := randTensor(int64(70+i), tc.channels, tc.n, tc.n)
			lin := NewLinear(randDense(int64(170+i), tc.outputs, tc.channels*tc.n*tc.n), tc.poolFactor, simEngine())
			want, err := lin.ForwardPlain(x)
			require.NoError(t, err)

			out, err := lin.Forward(packSim(t, x, tc.slots, simDepth))
			require.NoError(t, err)
			assert.Equal(t, tc.outputs, out.Channels)
			requireTensorClose(t, want, unpackSim(t, out), 1e-9)
		})
	}
}

func TestLinear_AfterPoolPermutation(t *testing.T) {
	x := randTensor(80, 8, 4, 4)
	eng := simEngine()
	pool := NewAvgPool2D(true, eng)
	lin := NewLinear(randDense(81, 6, 32), 1, eng)

	pooled, err := pool.ForwardPlain(x)
	require.NoError(t, err)
	want, err := lin.ForwardPlain(pooled)
	require.NoError(t, err)

	p, err := pool.Forward(packSim(t, x, 32, simDepth))
	require.NoError(t, err)
	require.NotEqual(t, layout.Identity(8), p.Sigma)
	p, err = lin.Forward(p)
	require.NoError(t, err)
	requireTensorClose(t, want, unpackSim(t, p), 1e-9)
}

func TestLinear_ChainsFlatOutputs(t *testing.T) {
	x := randTensor(90, 1, 4, 4)
	eng := simEngine()
	first := NewLinear(randDense(91, 8, 16), 1, eng)
	second := NewLinear(randDense(92, 4, 8), 1, eng)

	mid, err := first.ForwardPlain(x)
	require.NoError(t, err)
	want, err := second.ForwardPlain(mid)
	require.NoError(t, err)

	p, err := first.Forward(packSim(t, x, 16, simDepth))
	require.NoError(t, err)
	p, err = second.Forward(p)
	require.NoError(t, err)
	assert.Equal(t, simDepth-4, p.Shards[0].Depth())
	requireTensorClose(t, want, unpackSim(t, p), 1e-9)
}

func TestLinear_Errors(t *testing.T) {
	eng := simEngine()
	in := packSim(t, randTensor(93, 1, 4, 4), 16, simDepth)

	_, err := eng.Linear(in.Shards, randDense(1, 17, 16), 4, in.Sigma, 1)
	assert.ErrorIs(t, err, slot.ErrShapeMismatch)
	_, err = eng.Linear(in.Shards, randDense(1, 4, 15), 4, in.Sigma, 1)
	assert.ErrorIs(t, err, slot.ErrShapeMismatch)
	_, err = eng.Linear(in.Shards, randDense(1, 4, 16), 4, in.Sigma, 0)
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
	_, err = eng.Linear(in.Shards, randDense(1, 4, 16), 4, []int{1}, 1)
	assert.ErrorIs(t, err, slot.ErrInvalidPermutation)

	shallow := packSim(t, randTensor(94, 1, 4, 4), 16, slot.MinMulDepth+1)
	_, err = eng.Linear(shallow.Shards, randDense(1, 4, 16), 4, shallow.Sigma, 1)
	assert.ErrorIs(t, err, slot.ErrInsufficientDepth)

	flat := &layout.Packed{Shards: in.Shards, MtxSize: 1, Channels: 16, Flat: true}
	_, err = NewLinear(randDense(1, 2, 17), 1, eng).Forward(flat)
	assert.ErrorIs(t, err, slot.ErrShapeMismatch)
}
