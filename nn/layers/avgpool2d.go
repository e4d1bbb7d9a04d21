package layers

import (
	"fmt"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"
)

// Pool halves the spatial size of shards holding mtxSize x mtxSize
// channels. With average set every 2x2 block is averaged, otherwise only
// its top-left value is kept. Shards are then merged four to one, or, when
// only one or two exist, the result is duplicated to refill the slots.
// Pool consumes two levels. Use PlanPool(...).Permutation for the channel
// order of the result.
func (e *Engine) Pool(shards []slot.Vector, mtxSize int, average bool) ([]slot.Vector, error) {
	g, err := layout.DescribeShards(shards, mtxSize)
	if err != nil {
		return nil, err
	}
	plan, err := layout.PlanPool(g)
	if err != nil {
		return nil, err
	}
	if err := e.Eval.RequireDepth(shards, 2); err != nil {
		return nil, err
	}
	logLayer("pool", "%s, %d shards of %d, %dx%d, merge %d", g.Regime, g.NumShards, g.Slots, mtxSize, mtxSize, plan.Merge)

	x := shards
	fill := 1.0
	if average {
		if x, err = e.poolPreSum(x, plan.Cols); err != nil {
			return nil, err
		}
		fill = 0.25
	}
	if x, err = e.poolHorizontal(x, g, plan, fill); err != nil {
		return nil, err
	}
	if x, err = e.poolVertical(x, g, plan); err != nil {
		return nil, err
	}
	if g.Regime == layout.ChannelSharded {
		return e.consolidateChannelSharded(x, g, plan)
	}
	return e.consolidateImageSharded(x, g, plan)
}

// poolPreSum leaves the sum of each 2x2 block at its top-left position.
// Other positions hold garbage that the gathers mask away.
func (e *Engine) poolPreSum(shards []slot.Vector, cols int) ([]slot.Vector, error) {
	out := make([]slot.Vector, len(shards))
	err := e.parallelFor(len(shards), func(s int) error {
		terms := []slot.Vector{shards[s]}
		for _, k := range []int{1, cols, cols + 1} {
			v, err := e.Eval.Rotate(shards[s], k)
			if err != nil {
				return err
			}
			terms = append(terms, v)
		}
		v, err := e.Eval.Sum(terms)
		out[s] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// maskedGather computes, for every shard, sum_i rotate(x, rots[i]) * masks[i].
func (e *Engine) maskedGather(shards []slot.Vector, rots []int, masks [][]float64) ([]slot.Vector, error) {
	n := len(rots)
	parts := make([]slot.Vector, len(shards)*n)
	err := e.parallelFor(len(parts), func(idx int) error {
		s, i := idx/n, idx%n
		v, err := e.Eval.Rotate(shards[s], rots[i])
		if err != nil {
			return err
		}
		parts[idx], err = e.Eval.MulPlain(v, masks[i])
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.sumGroups(parts, len(shards), n)
}

// poolHorizontal moves column 2i to column i in every row.
func (e *Engine) poolHorizontal(shards []slot.Vector, g layout.Geometry, plan layout.PoolPlan, fill float64) ([]slot.Vector, error) {
	half := plan.Cols / 2
	c := plan.Rows * plan.Cols
	rots := make([]int, half)
	masks := make([][]float64, half)
	for i := range masks {
		rots[i] = i
		masks[i] = make([]float64, g.Slots)
		for j := 0; j < plan.Rows; j++ {
			for k := 0; k < plan.Blocks; k++ {
				masks[i][i+j*plan.Cols+k*c] = fill
			}
		}
	}
	return e.maskedGather(shards, rots, masks)
}

// poolVertical moves row 2i, now half as wide, to row i of the pooled
// grid, packed contiguously at the start of each channel block.
func (e *Engine) poolVertical(shards []slot.Vector, g layout.Geometry, plan layout.PoolPlan) ([]slot.Vector, error) {
	half := plan.Rows / 2
	halfCols := plan.Cols / 2
	rots := make([]int, half)
	masks := make([][]float64, half)
	for i := range masks {
		rots[i] = 3 * i * halfCols
		masks[i] = make([]float64, g.Slots)
		if g.Regime == layout.ChannelSharded {
			for j := 0; j < halfCols; j++ {
				masks[i][i*halfCols+j] = 1
			}
			continue
		}
		for j := 0; j < plan.Cols; j++ {
			for k := 0; k < plan.Blocks; k++ {
				masks[i][i*halfCols+j+k*g.ChannelSize] = 1
			}
		}
	}
	return e.maskedGather(shards, rots, masks)
}

func (e *Engine) consolidateImageSharded(shards []slot.Vector, g layout.Geometry, plan layout.PoolPlan) ([]slot.Vector, error) {
	q := g.ChannelSize / 4
	switch plan.Merge {
	case 1:
		v, err := e.addRotated(shards[0], shards[0], -q)
		if err != nil {
			return nil, err
		}
		v, err = e.addRotated(v, v, -2*q)
		if err != nil {
			return nil, err
		}
		return []slot.Vector{v}, nil
	case 2:
		v, err := e.addRotated(shards[0], shards[1], -2*q)
		if err != nil {
			return nil, err
		}
		v, err = e.addRotated(v, v, -q)
		if err != nil {
			return nil, err
		}
		return []slot.Vector{v}, nil
	}

	shifted := make([]slot.Vector, len(shards))
	err := e.parallelFor(len(shards), func(s int) error {
		v, err := e.Eval.Rotate(shards[s], -(s%4)*q)
		shifted[s] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.sumGroups(shifted, plan.OutShards, 4)
}

func (e *Engine) consolidateChannelSharded(shards []slot.Vector, g layout.Geometry, plan layout.PoolPlan) ([]slot.Vector, error) {
	q := g.Slots / 4
	if plan.Merge == 2 {
		v, err := e.addRotated(shards[0], shards[1], -q)
		if err != nil {
			return nil, err
		}
		v, err = e.addRotated(v, v, -2*q)
		if err != nil {
			return nil, err
		}
		return []slot.Vector{v}, nil
	}

	out := make([]slot.Vector, plan.OutShards)
	err := e.parallelFor(plan.OutShards, func(o int) error {
		acc := shards[4*o]
		for i := 1; i < 4; i++ {
			var err error
			if acc, err = e.addRotated(acc, shards[4*o+i], -i*q); err != nil {
				return err
			}
		}
		out[o] = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// addRotated returns a + rotate(b, k).
func (e *Engine) addRotated(a, b slot.Vector, k int) (slot.Vector, error) {
	r, err := e.Eval.Rotate(b, k)
	if err != nil {
		return nil, err
	}
	return e.Eval.Add(a, r)
}

// AvgPool2D is a 2x2 pooling layer.
type AvgPool2D struct {
	// Average selects averaging over plain subsampling.
	Average bool
	engine  *Engine
}

// NewAvgPool2D creates a pooling layer running on eng.
func NewAvgPool2D(average bool, eng *Engine) *AvgPool2D {
	return &AvgPool2D{Average: average, engine: eng}
}

func (a *AvgPool2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.AvgPool2x2(x, a.Average)
}

// Forward pools in and tracks the new channel permutation.
func (a *AvgPool2D) Forward(in *layout.Packed) (*layout.Packed, error) {
	if in.Flat {
		return nil, fmt.Errorf("%w: cannot pool a flat vector", slot.ErrUnsupportedLayout)
	}
	g, err := in.Geometry()
	if err != nil {
		return nil, err
	}
	plan, err := layout.PlanPool(g)
	if err != nil {
		return nil, err
	}
	out, err := a.engine.Pool(in.Shards, in.MtxSize, a.Average)
	if err != nil {
		return nil, err
	}
	return &layout.Packed{
		Shards:   out,
		MtxSize:  in.MtxSize / 2,
		Channels: in.Channels,
		Sigma:    plan.Permutation(g, in.Sigma),
	}, nil
}

func (a *AvgPool2D) Levels() int { return 2 }

func (a *AvgPool2D) Tag() string {
	if a.Average {
		return "AvgPool2D_2x2"
	}
	return "Downsample2D_2x2"
}
