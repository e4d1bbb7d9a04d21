package layers

import (
	"fmt"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"
)

// UpsampleMode selects what fills the positions a 2x upsample inserts.
type UpsampleMode int

const (
	// BedOfNails leaves inserted positions at zero.
	BedOfNails UpsampleMode = iota
	// NearestNeighbor copies each value into its 2x2 block.
	NearestNeighbor
)

func (m UpsampleMode) String() string {
	switch m {
	case BedOfNails:
		return "bed_of_nails"
	case NearestNeighbor:
		return "nearest"
	}
	return fmt.Sprintf("UpsampleMode(%d)", int(m))
}

// ParseUpsampleMode accepts the names String returns.
func ParseUpsampleMode(s string) (UpsampleMode, error) {
	switch s {
	case "bed_of_nails":
		return BedOfNails, nil
	case "nearest":
		return NearestNeighbor, nil
	}
	return 0, fmt.Errorf("%w: unknown upsample mode %q", slot.ErrInvalidArgument, s)
}

// Upsample doubles the spatial size of shards holding mtxSize x mtxSize
// channels. Rows are spread first, then columns. When the upsampled
// channels no longer fit a shard the output becomes channel-sharded and
// its shards are put in logical channel order. Upsample consumes two
// levels. Use PlanUpsample(...).Permutation for the channel order of an
// image-sharded result.
func (e *Engine) Upsample(shards []slot.Vector, mtxSize int, sigma []int, mode UpsampleMode) ([]slot.Vector, error) {
	if mode != BedOfNails && mode != NearestNeighbor {
		return nil, fmt.Errorf("%w: upsample mode %d", slot.ErrInvalidArgument, int(mode))
	}
	g, err := layout.DescribeShards(shards, mtxSize)
	if err != nil {
		return nil, err
	}
	if g.Regime == layout.ImageSharded {
		if err := layout.CheckPermutation(sigma); err != nil {
			return nil, err
		}
	}
	numLogical := len(sigma)
	if g.Regime == layout.ChannelSharded {
		numLogical = g.PhysicalChannels()
	}
	plan, err := layout.PlanUpsample(g, numLogical)
	if err != nil {
		return nil, err
	}
	if err := e.Eval.RequireDepth(shards, 2); err != nil {
		return nil, err
	}
	logLayer("upsample", "%s, %d shards of %d, %dx%d -> %d shards, %s",
		g.Regime, g.NumShards, g.Slots, mtxSize, mtxSize, plan.OutShards, mode)

	x, err := e.upsampleVertical(shards, g, plan)
	if err != nil {
		return nil, err
	}
	if x, err = e.upsampleHorizontal(x, g, plan); err != nil {
		return nil, err
	}
	if mode == NearestNeighbor {
		if x, err = e.nearestFill(x, 2*plan.Cols); err != nil {
			return nil, err
		}
	}

	if g.Regime == layout.ImageSharded {
		if _, order := plan.Permutation(g, sigma); order != nil {
			ordered := make([]slot.Vector, len(order))
			for i, src := range order {
				ordered[i] = x[src]
			}
			x = ordered
		}
	}
	return x, nil
}

// upsampleVertical splits every shard into plan.Shifts expanded shards and
// moves input row j of each kept channel block to output row 2j.
func (e *Engine) upsampleVertical(shards []slot.Vector, g layout.Geometry, plan layout.UpsamplePlan) ([]slot.Vector, error) {
	c := plan.Rows * plan.Cols
	masks := make([][]float64, plan.RowsAfter)
	for j := range masks {
		masks[j] = make([]float64, g.Slots)
		for i := 0; i < plan.Cols; i++ {
			for k := 0; k < plan.Blocks; k += 4 {
				masks[j][i+j*plan.Cols*4+k*c] = 1
			}
		}
	}

	expanded := make([]slot.Vector, plan.OutShards)
	err := e.parallelFor(plan.OutShards, func(idx int) error {
		s, i := idx/plan.Shifts, idx%plan.Shifts
		v, err := e.Eval.Rotate(shards[s], i*plan.Distance)
		expanded[idx] = v
		return err
	})
	if err != nil {
		return nil, err
	}

	rows := plan.RowsAfter
	parts := make([]slot.Vector, plan.OutShards*rows)
	err = e.parallelFor(len(parts), func(idx int) error {
		s, j := idx/rows, idx%rows
		v, err := e.Eval.Rotate(expanded[s], -3*plan.Cols*j)
		if err != nil {
			return err
		}
		parts[idx], err = e.Eval.MulPlain(v, masks[j])
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.sumGroups(parts, plan.OutShards, rows)
}

// upsampleHorizontal moves column i of every spread row to column 2i.
func (e *Engine) upsampleHorizontal(shards []slot.Vector, g layout.Geometry, plan layout.UpsamplePlan) ([]slot.Vector, error) {
	c := plan.Rows * plan.Cols
	rots := make([]int, plan.Cols)
	masks := make([][]float64, plan.Cols)
	for i := range masks {
		rots[i] = -i
		masks[i] = make([]float64, g.Slots)
		for j := 0; j < plan.RowsAfter; j++ {
			for k := 0; k < plan.Blocks; k += 4 {
				masks[i][2*i+j*plan.Cols*4+k*c] = 1
			}
		}
	}
	return e.maskedGather(shards, rots, masks)
}

// nearestFill copies every value right, then every row down, in rows of
// the given width.
func (e *Engine) nearestFill(shards []slot.Vector, width int) ([]slot.Vector, error) {
	out := make([]slot.Vector, len(shards))
	err := e.parallelFor(len(shards), func(s int) error {
		v, err := e.addRotated(shards[s], shards[s], -1)
		if err != nil {
			return err
		}
		out[s], err = e.addRotated(v, v, -width)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsample is a 2x upsampling layer.
type Upsample struct {
	Mode   UpsampleMode
	engine *Engine
}

// NewUpsample creates an upsampling layer running on eng.
func NewUpsample(mode UpsampleMode, eng *Engine) *Upsample {
	return &Upsample{Mode: mode, engine: eng}
}

func (u *Upsample) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Upsample2x(x, u.Mode == NearestNeighbor)
}

// Forward upsamples in and tracks the new channel permutation.
func (u *Upsample) Forward(in *layout.Packed) (*layout.Packed, error) {
	if in.Flat {
		return nil, fmt.Errorf("%w: cannot upsample a flat vector", slot.ErrUnsupportedLayout)
	}
	g, err := in.Geometry()
	if err != nil {
		return nil, err
	}
	out, err := u.engine.Upsample(in.Shards, in.MtxSize, in.Sigma, u.Mode)
	if err != nil {
		return nil, err
	}
	sigma := layout.Identity(in.Channels)
	if g.Regime == layout.ImageSharded {
		plan, err := layout.PlanUpsample(g, len(in.Sigma))
		if err != nil {
			return nil, err
		}
		sigma, _ = plan.Permutation(g, in.Sigma)
	}
	return &layout.Packed{Shards: out, MtxSize: 2 * in.MtxSize, Channels: in.Channels, Sigma: sigma}, nil
}

func (u *Upsample) Levels() int { return 2 }

func (u *Upsample) Tag() string { return "Upsample2x_" + u.Mode.String() }
