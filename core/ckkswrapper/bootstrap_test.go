package ckkswrapper

import (
	"testing"

	"hecnn_lib/core/slot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheatBootstrap(t *testing.T) {
	h, kit := smallContext(t)
	eval := slot.NewWrappedEvaluator(NewShardEvaluator(kit, 1))

	vals := ramp(h.Slots(), 0.1)
	ct, err := h.EncryptShard(vals)
	require.NoError(t, err)

	ones := make([]float64, h.Slots())
	for i := range ones {
		ones[i] = 1
	}
	var v slot.Vector = ct
	for i := 0; i < 3; i++ {
		v, err = eval.MulPlain(v, ones)
		require.NoError(t, err)
	}
	require.Equal(t, ct.Depth()-3, v.Depth())
	assert.False(t, NeedsBootstrap(v.(*Shard).Ct, 1))
	assert.True(t, NeedsBootstrap(v.(*Shard).Ct, v.Depth()))

	refreshed, err := h.Refresh(v)
	require.NoError(t, err)
	assert.Equal(t, h.Params.MaxLevel()+1, refreshed.Depth())

	got, err := h.DecryptShard(refreshed)
	require.NoError(t, err)
	requireClose(t, vals, got)
}

func TestRefreshBelow(t *testing.T) {
	h, kit := smallContext(t)
	eval := NewShardEvaluator(kit, 1)

	vals := ramp(h.Slots(), 0.05)
	fresh, err := h.EncryptShard(vals)
	require.NoError(t, err)
	low, err := eval.MulPlain(fresh, ramp(h.Slots(), 1))
	require.NoError(t, err)
	top := h.Params.MaxLevel() + 1
	require.Equal(t, top-1, low.Depth())

	out, err := h.RefreshBelow([]slot.Vector{fresh, low}, top)
	require.NoError(t, err)
	assert.Same(t, fresh, out[0])
	assert.Equal(t, top, out[1].Depth())
	assert.Equal(t, top-1, low.Depth(), "input shard must not change")

	got, err := h.DecryptShard(out[1])
	require.NoError(t, err)
	for i := range vals {
		require.InDelta(t, vals[i]*ramp(h.Slots(), 1)[i], got[i], testTol)
	}

	kept, err := h.RefreshBelow([]slot.Vector{low}, top-1)
	require.NoError(t, err)
	assert.Same(t, low, kept[0])

	_, err = h.RefreshBelow([]slot.Vector{slot.NewSimVector([]float64{1}, 1)}, top)
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
}

func TestRefreshRejectsForeignVectors(t *testing.T) {
	h, _ := smallContext(t)
	_, err := h.Refresh(slot.NewSimVector([]float64{1}, 1))
	assert.ErrorIs(t, err, slot.ErrInvalidArgument)
}
