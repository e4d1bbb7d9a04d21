package layers

import (
	"testing"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deltaFilters(channels, k int) *tensor.Tensor {
	f := tensor.New(channels, channels, k, k)
	c := layout.ShiftToKernelIndex(0, k)
	for i := 0; i < channels; i++ {
		f.Set(1, i, i, c, c)
	}
	return f
}

func TestConv2D_CenterDeltaSingleShard(t *testing.T) {
	x := randTensor(1, 1, 4, 4)
	in := packSim(t, x, 16, simDepth)
	eng := simEngine()

	out, err := eng.Conv2D(in.Shards, deltaFilters(1, 3), 4, []int{0})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, simDepth-1, out[0].Depth())
	assert.Equal(t, simValues(t, in.Shards)[0], simValues(t, out)[0])
}

func TestConv2D_IdentityKernelKeepsInput(t *testing.T) {
	cases := []struct {
		name             string
		channels, n, slt int
	}{
		{"duplicated", 2, 4, 64},
		{"multi shard", 4, 4, 32},
		{"channel sharded", 2, 8, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := randTensor(2, tc.channels, tc.n, tc.n)
			conv, err := NewConv2D(deltaFilters(tc.channels, 1), simEngine())
			require.NoError(t, err)

			out, err := conv.Forward(packSim(t, x, tc.slt, simDepth))
			require.NoError(t, err)
			requireTensorClose(t, x, unpackSim(t, out), 1e-12)
		})
	}
}

func TestConv2D_MatchesReference(t *testing.T) {
	cases := []struct {
		name                 string
		in, out, n, k, slots int
	}{
		{"one channel fills shard", 1, 1, 4, 3, 16},
		{"duplicated input and output", 2, 2, 4, 3, 64},
		{"duplicated input, more outputs", 1, 4, 4, 3, 64},
		{"output duplicated", 2, 1, 4, 3, 32},
		{"multi shard", 4, 8, 4, 3, 32},
		{"multi shard to fewer outputs", 4, 2, 4, 3, 32},
		{"even kernel", 2, 2, 4, 2, 32},
		{"5x5 kernel", 1, 2, 8, 5, 64},
		{"channel sharded", 2, 3, 8, 3, 16},
		{"channel sharded wide kernel", 1, 2, 8, 5, 16},
		{"channel sharded two bands", 3, 2, 8, 3, 32},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x := randTensor(int64(10+i), tc.in, tc.n, tc.n)
			filters := randTensor(int64(100+i), tc.in, tc.out, tc.k, tc.k)
			conv, err := NewConv2D(filters, simEngine())
			require.NoError(t, err)

			want, err := conv.ForwardPlain(x)
			require.NoError(t, err)
			out, err := conv.Forward(packSim(t, x, tc.slots, simDepth))
			require.NoError(t, err)
			assert.Equal(t, tc.out, out.Channels)
			for _, s := range out.Shards {
				assert.Equal(t, simDepth-1, s.Depth())
			}
			requireTensorClose(t, want, unpackSim(t, out), 1e-9)
		})
	}
}

func TestConv2D_PermutedInput(t *testing.T) {
	// block 0 holds logical channel 1 and block 1 logical channel 0
	x := randTensor(3, 2, 4, 4)
	swapped := tensor.New(2, 4, 4)
	copy(swapped.Data[:16], x.Data[16:])
	copy(swapped.Data[16:], x.Data[:16])
	in := packSim(t, swapped, 32, simDepth)
	in.Sigma = []int{1, 0}

	filters := randTensor(4, 2, 2, 3, 3)
	conv, err := NewConv2D(filters, simEngine())
	require.NoError(t, err)
	want, err := conv.ForwardPlain(x)
	require.NoError(t, err)

	out, err := conv.Forward(in)
	require.NoError(t, err)
	requireTensorClose(t, want, unpackSim(t, out), 1e-9)
}

func TestConv2D_ChannelShardedEdgeBands(t *testing.T) {
	// 8x8 channel in four bands of two rows
	x := randTensor(5, 1, 8, 8)
	for _, tap := range []struct {
		name string
		ki   int
		dr   int
	}{{"reads below", 2, 1}, {"reads above", 0, -1}} {
		t.Run(tap.name, func(t *testing.T) {
			filters := tensor.New(1, 1, 3, 3)
			filters.Set(1, 0, 0, tap.ki, 1)
			out, err := simEngine().Conv2D(packSim(t, x, 16, simDepth).Shards, filters, 8, []int{0})
			require.NoError(t, err)
			require.Len(t, out, 4)

			got, err := layout.Unpack(simValues(t, out), 8, []int{0})
			require.NoError(t, err)
			for y := 0; y < 8; y++ {
				for col := 0; col < 8; col++ {
					want := 0.0
					if src := y + tap.dr; src >= 0 && src < 8 {
						want = x.At(0, src, col)
					}
					require.InDelta(t, want, got.At(0, y, col), 1e-12, "y=%d x=%d", y, col)
				}
			}
		})
	}
}

func TestConv2D_InsufficientDepthLeavesInputUntouched(t *testing.T) {
	x := randTensor(6, 1, 4, 4)
	in := packSim(t, x, 16, slot.MinMulDepth)
	before := simValues(t, in.Shards)
	eng := simEngine()

	_, err := eng.Conv2D(in.Shards, randTensor(7, 1, 1, 3, 3), 4, []int{0})
	assert.ErrorIs(t, err, slot.ErrInsufficientDepth)
	assert.Equal(t, slot.OpCounts{}, eng.Eval.Counts())
	assert.Equal(t, before, simValues(t, in.Shards))
	assert.Equal(t, slot.MinMulDepth, in.Shards[0].Depth())
}

func TestConv2D_Errors(t *testing.T) {
	eng := simEngine()
	in := packSim(t, randTensor(8, 2, 4, 4), 32, simDepth)

	_, err := eng.Conv2D(in.Shards, tensor.New(2, 2, 3, 2), 4, in.Sigma)
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
	_, err = eng.Conv2D(in.Shards, tensor.New(2, 2, 3), 4, in.Sigma)
	assert.ErrorIs(t, err, slot.ErrShapeMismatch)
	_, err = eng.Conv2D(in.Shards, tensor.New(2, 2, 3, 3), 4, []int{0})
	assert.ErrorIs(t, err, slot.ErrInvalidPermutation)
	_, err = eng.Conv2D(in.Shards, tensor.New(2, 2, 3, 3), 4, []int{1, 1})
	assert.ErrorIs(t, err, slot.ErrInvalidPermutation)
	_, err = eng.Conv2D(in.Shards, tensor.New(2, 3, 3, 3), 4, in.Sigma)
	assert.ErrorIs(t, err, slot.ErrUnsupportedLayout)

	thin := packSim(t, randTensor(9, 1, 16, 16), 16, simDepth) // bands of one row
	_, err = eng.Conv2D(thin.Shards, tensor.New(1, 1, 5, 5), 16, []int{0})
	assert.ErrorIs(t, err, slot.ErrUnsupportedLayout)
}

func TestConv2D_ZeroFiltersKeepDepthConsistent(t *testing.T) {
	in := packSim(t, randTensor(11, 2, 4, 4), 32, simDepth)
	out, err := simEngine().Conv2D(in.Shards, tensor.New(2, 2, 3, 3), 4, in.Sigma)
	require.NoError(t, err)
	for _, s := range out {
		assert.Equal(t, simDepth-1, s.Depth())
		for _, v := range s.(*slot.SimVector).Values() {
			assert.Zero(t, v)
		}
	}
}
