package layout

import (
	"fmt"

	"hecnn_lib/core/slot"
	"hecnn_lib/tensor"
)

// Packed is a feature map spread over shards, with the metadata the next
// layer needs to interpret it.
type Packed struct {
	Shards   []slot.Vector
	MtxSize  int
	Channels int
	// Sigma maps physical channel groups to logical channels.
	Sigma []int
	// Flat marks the single-shard vector produced by a linear layer: value
	// r sits in slot r.
	Flat bool
}

// Geometry describes p's shards.
func (p *Packed) Geometry() (Geometry, error) {
	return DescribeShards(p.Shards, p.MtxSize)
}

// Pack lays a [C, n, n] tensor out over shards of the given slot width and
// returns the slot values of each shard with the identity permutation.
// Image-sharded maps that leave a shard partly empty are duplicated
// channel by channel to fill it.
func Pack(x *tensor.Tensor, slots int) ([][]float64, []int, error) {
	if len(x.Shape) != 3 || x.Shape[1] != x.Shape[2] {
		return nil, nil, fmt.Errorf("%w: expected [C,n,n], got %v", slot.ErrShapeMismatch, x.Shape)
	}
	channels, n := x.Shape[0], x.Shape[1]
	c := n * n

	if Classify(slots, n, n) == ChannelSharded {
		g, err := Describe(slots, n, (c/slots)*channels)
		if err != nil {
			return nil, nil, err
		}
		out := make([][]float64, g.NumShards)
		for s := range out {
			out[s] = append([]float64(nil), x.Data[s*slots:(s+1)*slots]...)
		}
		return out, Identity(channels), nil
	}

	per := slots / c
	numShards := 1
	dup := 1
	switch {
	case channels <= per:
		if per%channels != 0 {
			return nil, nil, fmt.Errorf("%w: %d channels cannot be duplicated evenly into %d blocks", slot.ErrUnsupportedLayout, channels, per)
		}
		dup = per / channels
	case channels%per != 0:
		return nil, nil, fmt.Errorf("%w: %d channels do not fill shards of %d channels", slot.ErrUnsupportedLayout, channels, per)
	default:
		numShards = channels / per
	}
	if _, err := Describe(slots, n, numShards); err != nil {
		return nil, nil, err
	}

	out := make([][]float64, numShards)
	for s := range out {
		out[s] = make([]float64, slots)
		for b := 0; b < per; b++ {
			ch := (s*per + b) / dup
			copy(out[s][b*c:(b+1)*c], x.Data[ch*c:(ch+1)*c])
		}
	}
	return out, Identity(channels), nil
}

// Unpack inverts Pack for decrypted shard values, using sigma to place
// each physical channel group. Duplicates are read from their first copy.
func Unpack(vals [][]float64, mtxSize int, sigma []int) (*tensor.Tensor, error) {
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: no shards", slot.ErrShapeMismatch)
	}
	g, err := Describe(len(vals[0]), mtxSize, len(vals))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if len(v) != g.Slots {
			return nil, fmt.Errorf("%w: shard %d has %d slots", slot.ErrShapeMismatch, i, len(v))
		}
	}
	dup, err := g.CheckSigma(sigma)
	if err != nil {
		return nil, err
	}

	c := g.ChannelSize
	out := tensor.New(len(sigma), mtxSize, mtxSize)
	if g.Regime == ChannelSharded {
		for s, v := range vals {
			ch := sigma[s/g.ShardsPerChannel]
			off := ch*c + (s%g.ShardsPerChannel)*g.Slots
			copy(out.Data[off:off+g.Slots], v)
		}
		return out, nil
	}
	for grp, ch := range sigma {
		phys := grp * dup
		s, b := phys/g.PhysicalPerShard, phys%g.PhysicalPerShard
		copy(out.Data[ch*c:(ch+1)*c], vals[s][b*c:(b+1)*c])
	}
	return out, nil
}

// UnpackFlat reads the first n slots of a flat linear-layer output.
func UnpackFlat(vals []float64, n int) (*tensor.Tensor, error) {
	if n > len(vals) {
		return nil, fmt.Errorf("%w: %d outputs in %d slots", slot.ErrShapeMismatch, n, len(vals))
	}
	return tensor.NewWithData(vals[:n]), nil
}
