package layout

import (
	"fmt"

	"hecnn_lib/core/slot"
)

// ConvPlan is the shard bookkeeping of an image-sharded convolution.
type ConvPlan struct {
	OutShards   int
	InPerShard  int // logical input channels each input shard contributes
	OutPerShard int // logical output channels each output shard carries
	InDup       int
	OutDup      int
}

// PlanConv sizes an image-sharded convolution from inChannels to
// outChannels. Channel-sharded maps need no plan beyond the Geometry.
func PlanConv(g Geometry, inChannels, outChannels int) (ConvPlan, error) {
	if g.Regime != ImageSharded {
		if inChannels != g.PhysicalChannels() {
			return ConvPlan{}, fmt.Errorf("%w: filters expect %d input channels, shards hold %d",
				slot.ErrShapeMismatch, inChannels, g.PhysicalChannels())
		}
		return ConvPlan{OutShards: outChannels * g.ShardsPerChannel, InPerShard: 1, OutPerShard: 1, InDup: 1, OutDup: 1}, nil
	}

	p := g.PhysicalPerShard
	var plan ConvPlan
	if g.NumShards > 1 {
		if inChannels != g.NumShards*p {
			return ConvPlan{}, fmt.Errorf("%w: filters expect %d input channels, %d shards hold %d",
				slot.ErrShapeMismatch, inChannels, g.NumShards, g.NumShards*p)
		}
		plan.InPerShard = p
	} else {
		if inChannels < 1 || inChannels > p || p%inChannels != 0 {
			return ConvPlan{}, fmt.Errorf("%w: %d input channels in a shard of %d blocks",
				slot.ErrShapeMismatch, inChannels, p)
		}
		plan.InPerShard = inChannels
	}

	plan.OutShards = outChannels / p
	if plan.OutShards == 0 {
		plan.OutShards = 1
	}
	switch {
	case outChannels < 1:
		return ConvPlan{}, fmt.Errorf("%w: no output channels", slot.ErrShapeMismatch)
	case outChannels >= p && outChannels%p != 0:
		return ConvPlan{}, fmt.Errorf("%w: %d output channels do not fill shards of %d", slot.ErrUnsupportedLayout, outChannels, p)
	case outChannels < p && p%outChannels != 0:
		return ConvPlan{}, fmt.Errorf("%w: %d output channels cannot be duplicated into %d blocks", slot.ErrUnsupportedLayout, outChannels, p)
	}
	plan.OutPerShard = outChannels
	if plan.OutShards > 1 {
		plan.OutPerShard = p
	}
	plan.InDup = p / plan.InPerShard
	plan.OutDup = p / plan.OutPerShard
	return plan, nil
}

// PoolPlan is the shard bookkeeping of a 2x2 pooling.
type PoolPlan struct {
	// Rows x Cols is the grid each shard (or each channel block) holds.
	Rows, Cols int
	// Blocks is the number of channel blocks per shard the masks cover.
	Blocks int
	// Merge is how many input shards fold into one output shard: 4, or 2
	// and 1 when too few shards exist and the result is duplicated instead.
	Merge     int
	OutShards int
}

// PlanPool checks that g can be pooled and picks the consolidation recipe.
func PlanPool(g Geometry) (PoolPlan, error) {
	n := g.NumShards
	plan := PoolPlan{Rows: g.RowsPerShard, Cols: g.MtxSize, Blocks: 1}
	if g.MtxSize < 2 {
		return PoolPlan{}, fmt.Errorf("%w: cannot pool a %dx%d map", slot.ErrUnsupportedLayout, g.MtxSize, g.MtxSize)
	}
	if g.Regime == ImageSharded {
		plan.Blocks = g.PhysicalPerShard
	} else if plan.Rows < 2 {
		return PoolPlan{}, fmt.Errorf("%w: shards hold %d row, need pairs of rows", slot.ErrUnsupportedLayout, plan.Rows)
	}

	switch {
	case n == 1 && g.Regime == ImageSharded:
		plan.Merge = 1
	case n == 2:
		plan.Merge = 2
	case n%4 == 0:
		plan.Merge = 4
	default:
		return PoolPlan{}, fmt.Errorf("%w: cannot consolidate %d shards in groups of 4", slot.ErrUnsupportedLayout, n)
	}
	plan.OutShards = n / plan.Merge
	return plan, nil
}

// Permutation returns the physical-to-logical channel map after pooling a
// map whose permutation was sigma.
func (p PoolPlan) Permutation(g Geometry, sigma []int) []int {
	if g.Regime == ChannelSharded || p.Merge == 1 {
		return append([]int(nil), sigma...)
	}
	per := g.PhysicalPerShard
	out := make([]int, len(sigma))
	if p.Merge == 2 {
		// block 4k+j of the merged shard holds block k of shard j/2, twice
		for k := 0; k < per; k++ {
			for t := 0; t < 2; t++ {
				out[2*k+t] = sigma[t*per+k]
			}
		}
		return out
	}
	for o := 0; o < p.OutShards; o++ {
		for k := 0; k < per; k++ {
			for j := 0; j < 4; j++ {
				out[o*4*per+4*k+j] = sigma[(4*o+j)*per+k]
			}
		}
	}
	return out
}

// UpsamplePlan is the shard bookkeeping of a 2x upsampling.
type UpsamplePlan struct {
	// Rows x Cols is the input grid per shard frame.
	Rows, Cols int
	// Blocks is the number of channel blocks per input shard (at least 1).
	Blocks int
	Dup    int
	// RowsAfter counts the input rows that land in one output shard.
	RowsAfter int
	// Distance is the left rotation between consecutive expanded shards.
	Distance int
	// Shifts is how many output shards each input shard expands into.
	Shifts int
	// BigOutput is set when the upsampled channels no longer fit a shard.
	BigOutput bool
	// GroupSize is the number of output shards per physical channel when
	// an image-sharded input becomes channel-sharded.
	GroupSize int
	OutShards int
}

// PlanUpsample sizes a 2x upsampling of g holding numLogical channels.
func PlanUpsample(g Geometry, numLogical int) (UpsamplePlan, error) {
	plan := UpsamplePlan{Cols: g.MtxSize, Blocks: 1, Dup: 1}
	s := g.Slots

	if g.Regime == ChannelSharded {
		if numLogical != g.PhysicalChannels() {
			return UpsamplePlan{}, fmt.Errorf("%w: %d channels for %d channel-sharded channels",
				slot.ErrInvalidPermutation, numLogical, g.PhysicalChannels())
		}
		plan.Rows = g.RowsPerShard
	} else {
		dup, err := g.Dup(numLogical)
		if err != nil {
			return UpsamplePlan{}, err
		}
		plan.Rows = g.MtxSize
		plan.Blocks = g.PhysicalPerShard
		plan.Dup = dup
	}

	c := plan.Rows * plan.Cols
	plan.RowsAfter = plan.Rows
	plan.Distance = c
	plan.Shifts = 4
	if 4*c > s {
		f := 4 * c / s
		plan.BigOutput = true
		plan.RowsAfter = plan.Rows / f
		plan.Distance = c / f
		plan.GroupSize = f
		if plan.Dup == 2 {
			plan.Shifts = 2
		}
	} else {
		switch {
		case plan.Dup == 2:
			plan.Distance = 2 * c
			plan.Shifts = 2
		case plan.Dup > 2:
			plan.Distance = 4 * c
			plan.Shifts = 1
		}
	}
	if plan.RowsAfter < 1 {
		return UpsamplePlan{}, fmt.Errorf("%w: shards must be able to store at least two rows", slot.ErrUnsupportedLayout)
	}
	plan.OutShards = g.NumShards * plan.Shifts
	return plan, nil
}

// Permutation returns the physical-to-logical map of the upsampled shards
// and, for image-sharded inputs that become channel-sharded, the order in
// which output shards must be rearranged so channels appear logically
// ordered (order[i] is the expanded shard that goes to position i).
func (p UpsamplePlan) Permutation(g Geometry, sigma []int) (perm []int, order []int) {
	if g.Regime == ChannelSharded {
		return Identity(len(sigma)), nil
	}
	if p.BigOutput {
		order = make([]int, p.OutShards)
		for e := 0; e < p.OutShards; e++ {
			grp := e / p.GroupSize
			t := e % p.GroupSize
			order[sigma[grp]*p.GroupSize+t] = e
		}
		return Identity(len(sigma)), order
	}

	outPer := p.Blocks / 4
	step := p.Distance / (p.Rows * p.Cols)
	dupOut := p.OutShards * outPer / len(sigma)
	perm = make([]int, len(sigma))
	for e := 0; e < p.OutShards; e++ {
		s, i := e/p.Shifts, e%p.Shifts
		for m := 0; m < outPer; m++ {
			src := s*p.Blocks + 4*m + i*step
			perm[(e*outPer+m)/dupOut] = sigma[src/p.Dup]
		}
	}
	return perm, nil
}
