package layers

import (
	"testing"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var poolCases = []struct {
	name               string
	channels, n, slots int
	wantShards         int
}{
	{"single shard", 1, 4, 16, 1},
	{"duplicated single shard", 2, 4, 64, 1},
	{"two shards", 4, 4, 32, 1},
	{"four shards", 8, 4, 32, 1},
	{"eight shards", 16, 4, 32, 2},
	{"channel sharded, four bands", 1, 8, 16, 1},
	{"channel sharded, two bands", 1, 8, 32, 1},
	{"channel sharded, two channels", 2, 8, 32, 1},
	{"channel sharded stays sharded", 1, 16, 32, 2},
}

func TestAvgPool2D_MatchesReference(t *testing.T) {
	for _, average := range []bool{true, false} {
		for i, tc := range poolCases {
			pool := NewAvgPool2D(average, simEngine())
			t.Run(pool.Tag()+"/"+tc.name, func(t *testing.T) {
				x := randTensor(int64(20+i), tc.channels, tc.n, tc.n)
				want, err := pool.ForwardPlain(x)
				require.NoError(t, err)

				out, err := pool.Forward(packSim(t, x, tc.slots, simDepth))
				require.NoError(t, err)
				assert.Len(t, out.Shards, tc.wantShards)
				assert.Equal(t, tc.n/2, out.MtxSize)
				for _, s := range out.Shards {
					assert.Equal(t, simDepth-2, s.Depth())
				}
				requireTensorClose(t, want, unpackSim(t, out), 1e-12)
			})
		}
	}
}

func TestAvgPool2D_MergedShardsCarryPermutation(t *testing.T) {
	x := randTensor(30, 8, 4, 4)
	out, err := NewAvgPool2D(true, simEngine()).Forward(packSim(t, x, 32, simDepth))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6, 1, 3, 5, 7}, out.Sigma)
}

func TestPool_ThenNearestUpsampleRestoresConstant(t *testing.T) {
	x := tensor.New(1, 4, 4)
	for i := range x.Data {
		x.Data[i] = 0.75
	}
	eng := simEngine()
	pooled, err := NewAvgPool2D(true, eng).Forward(packSim(t, x, 16, simDepth))
	require.NoError(t, err)
	up, err := NewUpsample(NearestNeighbor, eng).Forward(pooled)
	require.NoError(t, err)

	require.Len(t, up.Shards, 1)
	assert.Equal(t, 4, up.MtxSize)
	for i, v := range simValues(t, up.Shards)[0] {
		assert.InDelta(t, 0.75, v, 1e-12, "slot %d", i)
	}
}

func TestPool_Errors(t *testing.T) {
	eng := simEngine()

	three := packSim(t, randTensor(31, 3, 4, 4), 16, simDepth)
	_, err := eng.Pool(three.Shards, 4, true)
	assert.ErrorIs(t, err, slot.ErrUnsupportedLayout)

	thin := packSim(t, randTensor(32, 1, 8, 8), 8, simDepth) // one row per shard
	_, err = eng.Pool(thin.Shards, 8, true)
	assert.ErrorIs(t, err, slot.ErrUnsupportedLayout)

	shallow := packSim(t, randTensor(33, 1, 4, 4), 16, slot.MinMulDepth+1)
	_, err = eng.Pool(shallow.Shards, 4, false)
	assert.ErrorIs(t, err, slot.ErrInsufficientDepth)
	assert.Equal(t, slot.OpCounts{}, eng.Eval.Counts())

	_, err = NewAvgPool2D(true, eng).Forward(&layout.Packed{Shards: shallow.Shards, MtxSize: 1, Channels: 16, Flat: true})
	assert.ErrorIs(t, err, slot.ErrUnsupportedLayout)
}
