package layers

import (
	"fmt"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"

	"gonum.org/v1/gonum/mat"
)

// Linear multiplies the flattened feature map held by shards with weights
// ([out][in], inputs in logical [C, H, W] order). Output r lands in slot r
// of a single shard, scaled by 1/poolFactor^2; duplicated channels are
// corrected for. Linear consumes two levels.
func (e *Engine) Linear(shards []slot.Vector, weights mat.Matrix, mtxSize int, sigma []int, poolFactor int) (slot.Vector, error) {
	g, err := layout.DescribeShards(shards, mtxSize)
	if err != nil {
		return nil, err
	}
	numOut, numIn := weights.Dims()
	if numOut < 1 || numOut > g.Slots {
		return nil, fmt.Errorf("%w: %d outputs do not fit a %d-slot shard", slot.ErrShapeMismatch, numOut, g.Slots)
	}
	if poolFactor < 1 {
		return nil, fmt.Errorf("%w: pool factor %d", slot.ErrInvalidArgument, poolFactor)
	}

	dup := 1
	if g.Regime == layout.ImageSharded {
		if dup, err = g.CheckSigma(sigma); err != nil {
			return nil, err
		}
	} else {
		if err := layout.CheckPermutation(sigma); err != nil {
			return nil, err
		}
		if len(sigma) != g.PhysicalChannels() {
			return nil, fmt.Errorf("%w: %d entries for %d channels", slot.ErrInvalidPermutation, len(sigma), g.PhysicalChannels())
		}
	}
	if numIn != len(sigma)*g.ChannelSize {
		return nil, fmt.Errorf("%w: weights take %d inputs, shards hold %d channels of %d",
			slot.ErrShapeMismatch, numIn, len(sigma), g.ChannelSize)
	}
	if err := e.Eval.RequireDepth(shards, 2); err != nil {
		return nil, err
	}
	logLayer("linear", "%s, %d shards of %d, %d -> %d, dup %d", g.Regime, g.NumShards, g.Slots, numIn, numOut, dup)

	scale := 1 / float64(dup*poolFactor*poolFactor)
	n := g.NumShards
	partials := make([]slot.Vector, numOut*n)
	err = e.parallelFor(len(partials), func(idx int) error {
		r, s := idx/n, idx%n
		v, err := e.linearPartial(shards[s], g, weights, sigma, dup, r, s, scale)
		partials[idx] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.Eval.Sum(partials)
}

// linearPartial is the dot product of shard s with row r of weights,
// left in slot r only.
func (e *Engine) linearPartial(x slot.Vector, g layout.Geometry, weights mat.Matrix, sigma []int, dup, r, s int, scale float64) (slot.Vector, error) {
	c := g.ChannelSize
	w := make([]float64, g.Slots)
	for i := range w {
		var col int
		if g.Regime == layout.ImageSharded {
			phys := i/c + s*g.PhysicalPerShard
			col = sigma[phys/dup]*c + i%c
		} else {
			spc := g.ShardsPerChannel
			col = sigma[s/spc]*c + (s%spc)*g.Slots + i
		}
		w[i] = weights.At(r, col)
	}

	res, err := e.Eval.MulPlain(x, w)
	if err != nil {
		return nil, err
	}
	for shift := g.Slots / 2; shift > 0; shift /= 2 {
		if res, err = e.addRotated(res, res, -shift); err != nil {
			return nil, err
		}
	}
	keep := make([]float64, g.Slots)
	keep[r] = scale
	return e.Eval.MulPlain(res, keep)
}

// Linear is a fully connected layer without bias.
type Linear struct {
	W *mat.Dense // [out][in]
	// PoolFactor divides the outputs by PoolFactor^2.
	PoolFactor int
	engine     *Engine
}

// NewLinear creates a linear layer running on eng.
func NewLinear(w *mat.Dense, poolFactor int, eng *Engine) *Linear {
	if poolFactor < 1 {
		poolFactor = 1
	}
	return &Linear{W: w, PoolFactor: poolFactor, engine: eng}
}

// ForwardPlain flattens x and returns W x / PoolFactor^2.
func (l *Linear) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, in := l.W.Dims()
	flat, err := x.Reshape(len(x.Data))
	if err != nil {
		return nil, err
	}
	if flat.Shape[0] != in {
		return nil, fmt.Errorf("Linear: %d inputs, weights take %d", flat.Shape[0], in)
	}
	var y mat.VecDense
	y.MulVec(l.W, mat.NewVecDense(in, append([]float64(nil), flat.Data...)))
	y.ScaleVec(1/float64(l.PoolFactor*l.PoolFactor), &y)
	return tensor.NewWithData(y.RawVector().Data[:out]), nil
}

// Forward accepts a packed feature map or the flat output of another
// linear layer.
func (l *Linear) Forward(in *layout.Packed) (*layout.Packed, error) {
	mtx, sigma := in.MtxSize, in.Sigma
	var w mat.Matrix = l.W
	if in.Flat {
		if len(in.Shards) != 1 {
			return nil, fmt.Errorf("%w: flat input in %d shards", slot.ErrShapeMismatch, len(in.Shards))
		}
		slots := in.Shards[0].Slots()
		out, inDim := l.W.Dims()
		if inDim > slots {
			return nil, fmt.Errorf("%w: %d inputs in a %d-slot shard", slot.ErrShapeMismatch, inDim, slots)
		}
		padded := mat.NewDense(out, slots, nil)
		padded.Slice(0, out, 0, inDim).(*mat.Dense).Copy(l.W)
		w, mtx, sigma = padded, 1, layout.Identity(slots)
	}
	v, err := l.engine.Linear(in.Shards, w, mtx, sigma, l.PoolFactor)
	if err != nil {
		return nil, err
	}
	out, _ := l.W.Dims()
	return &layout.Packed{Shards: []slot.Vector{v}, MtxSize: 1, Channels: out, Sigma: layout.Identity(out), Flat: true}, nil
}

func (l *Linear) Levels() int { return 2 }

func (l *Linear) Tag() string {
	out, in := l.W.Dims()
	return fmt.Sprintf("Linear_%d_%d", in, out)
}
