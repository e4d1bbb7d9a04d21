// Package layout decides how [C, H, W] feature maps are spread over SIMD
// shards and owns all the shape arithmetic the layer engines share: regime
// classification, shift masks, packing and the channel permutations that
// pooling and upsampling leave behind.
package layout

import (
	"fmt"

	"hecnn_lib/core/slot"
)

// Regime is the packing strategy for a feature map.
type Regime int

const (
	// ImageSharded packs one or more whole channels per shard.
	ImageSharded Regime = iota
	// ChannelSharded spreads each channel over several shards, in row bands.
	ChannelSharded
)

func (r Regime) String() string {
	switch r {
	case ImageSharded:
		return "image-sharded"
	case ChannelSharded:
		return "channel-sharded"
	}
	return fmt.Sprintf("Regime(%d)", int(r))
}

// Classify picks the regime for a rows x cols channel in shards of the
// given slot width.
func Classify(slots, rows, cols int) Regime {
	if slots >= rows*cols {
		return ImageSharded
	}
	return ChannelSharded
}

// Geometry is the derived shape of a list of shards holding square
// mtxSize x mtxSize channels.
type Geometry struct {
	Regime      Regime
	Slots       int
	MtxSize     int
	ChannelSize int
	NumShards   int

	// PhysicalPerShard is the number of channel blocks per shard
	// (image-sharded only, 0 otherwise).
	PhysicalPerShard int

	// ShardsPerChannel and RowsPerShard describe the row bands of a
	// channel-sharded map. For image-sharded maps they are 1 and MtxSize.
	ShardsPerChannel int
	RowsPerShard     int
}

// Describe classifies numShards shards of the given slot width holding
// mtxSize x mtxSize channels.
func Describe(slots, mtxSize, numShards int) (Geometry, error) {
	if !slot.IsPowerOfTwo(slots) {
		return Geometry{}, fmt.Errorf("%w: slot width %d is not a power of two", slot.ErrUnsupportedLayout, slots)
	}
	if !slot.IsPowerOfTwo(mtxSize) {
		return Geometry{}, fmt.Errorf("%w: spatial size %d is not a power of two", slot.ErrUnsupportedLayout, mtxSize)
	}
	if numShards < 1 {
		return Geometry{}, fmt.Errorf("%w: no shards", slot.ErrShapeMismatch)
	}

	c := mtxSize * mtxSize
	g := Geometry{
		Regime:      Classify(slots, mtxSize, mtxSize),
		Slots:       slots,
		MtxSize:     mtxSize,
		ChannelSize: c,
		NumShards:   numShards,
	}
	if g.Regime == ImageSharded {
		g.PhysicalPerShard = slots / c
		g.ShardsPerChannel = 1
		g.RowsPerShard = mtxSize
		return g, nil
	}

	g.ShardsPerChannel = c / slots
	if g.ShardsPerChannel > mtxSize {
		return Geometry{}, fmt.Errorf("%w: a %d-slot shard cannot hold a row of %d", slot.ErrUnsupportedLayout, slots, mtxSize)
	}
	g.RowsPerShard = mtxSize / g.ShardsPerChannel
	if numShards%g.ShardsPerChannel != 0 {
		return Geometry{}, fmt.Errorf("%w: %d shards do not split into channels of %d shards",
			slot.ErrShapeMismatch, numShards, g.ShardsPerChannel)
	}
	return g, nil
}

// DescribeShards is Describe on the slot width of the first shard, after
// checking that every shard has the same width.
func DescribeShards(shards []slot.Vector, mtxSize int) (Geometry, error) {
	if len(shards) == 0 {
		return Geometry{}, fmt.Errorf("%w: no shards", slot.ErrShapeMismatch)
	}
	width := shards[0].Slots()
	for i, s := range shards {
		if s.Slots() != width {
			return Geometry{}, fmt.Errorf("%w: shard %d has %d slots, shard 0 has %d", slot.ErrShapeMismatch, i, s.Slots(), width)
		}
	}
	return Describe(width, mtxSize, len(shards))
}

// PhysicalChannels counts channel blocks across all shards, duplicates
// included. A channel-sharded channel counts once.
func (g Geometry) PhysicalChannels() int {
	if g.Regime == ImageSharded {
		return g.NumShards * g.PhysicalPerShard
	}
	return g.NumShards / g.ShardsPerChannel
}

// Dup returns how many consecutive physical blocks repeat each of
// numLogical logical channels. Duplication only ever happens inside a
// single shard.
func (g Geometry) Dup(numLogical int) (int, error) {
	phys := g.PhysicalChannels()
	if numLogical < 1 || numLogical > phys || phys%numLogical != 0 {
		return 0, fmt.Errorf("%w: %d logical channels do not fit %d physical channels",
			slot.ErrInvalidPermutation, numLogical, phys)
	}
	dup := phys / numLogical
	if dup > 1 && g.NumShards > 1 {
		return 0, fmt.Errorf("%w: duplicated channels across %d shards", slot.ErrUnsupportedLayout, g.NumShards)
	}
	return dup, nil
}

// CheckSigma validates sigma as a permutation of the logical channels and
// returns the duplication factor.
func (g Geometry) CheckSigma(sigma []int) (int, error) {
	if err := CheckPermutation(sigma); err != nil {
		return 0, err
	}
	return g.Dup(len(sigma))
}

// CheckPermutation reports whether sigma is a bijection on [0, len(sigma)).
func CheckPermutation(sigma []int) error {
	if len(sigma) == 0 {
		return fmt.Errorf("%w: empty permutation", slot.ErrInvalidPermutation)
	}
	seen := make([]bool, len(sigma))
	for i, v := range sigma {
		if v < 0 || v >= len(sigma) || seen[v] {
			return fmt.Errorf("%w: entry %d = %d", slot.ErrInvalidPermutation, i, v)
		}
		seen[v] = true
	}
	return nil
}

// Identity returns the identity permutation of length n.
func Identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
