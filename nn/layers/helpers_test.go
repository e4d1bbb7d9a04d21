package layers

import (
	"math/rand"
	"testing"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"

	"github.com/stretchr/testify/require"
)

const simDepth = 12

func simEngine() *Engine {
	return NewEngine(slot.NewSimEvaluator(), 4)
}

func randTensor(seed int64, shape ...int) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = rng.Float64()*2 - 1
	}
	return x
}

func packSim(t *testing.T, x *tensor.Tensor, slots, depth int) *layout.Packed {
	t.Helper()
	vals, sigma, err := layout.Pack(x, slots)
	require.NoError(t, err)
	shards := make([]slot.Vector, len(vals))
	for i, v := range vals {
		shards[i] = slot.NewSimVector(v, depth)
	}
	return &layout.Packed{Shards: shards, MtxSize: x.Shape[1], Channels: x.Shape[0], Sigma: sigma}
}

func simValues(t *testing.T, shards []slot.Vector) [][]float64 {
	t.Helper()
	vals := make([][]float64, len(shards))
	for i, s := range shards {
		sv, ok := s.(*slot.SimVector)
		require.True(t, ok, "shard %d is %T", i, s)
		vals[i] = sv.Values()
	}
	return vals
}

func unpackSim(t *testing.T, p *layout.Packed) *tensor.Tensor {
	t.Helper()
	vals := simValues(t, p.Shards)
	if p.Flat {
		out, err := layout.UnpackFlat(vals[0], p.Channels)
		require.NoError(t, err)
		return out
	}
	out, err := layout.Unpack(vals, p.MtxSize, p.Sigma)
	require.NoError(t, err)
	return out
}

func requireTensorClose(t *testing.T, want, got *tensor.Tensor, tol float64) {
	t.Helper()
	require.Equal(t, len(want.Data), len(got.Data), "size")
	for i := range want.Data {
		require.InDelta(t, want.Data[i], got.Data[i], tol, "element %d", i)
	}
}
