package layers

import (
	"fmt"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"
)

// rotationFamily returns x rotated by every kernel offset: fam[ki][kj]
// reads the value dr rows below and dc columns right of each slot. The
// centre row is rotated directly, the others by whole rows from their
// neighbour.
func (e *Engine) rotationFamily(x slot.Vector, rowStride, k int) ([][]slot.Vector, error) {
	fam := make([][]slot.Vector, k)
	for i := range fam {
		fam[i] = make([]slot.Vector, k)
	}
	center := layout.ShiftToKernelIndex(0, k)
	var err error
	for j := 0; j < k; j++ {
		if fam[center][j], err = e.Eval.Rotate(x, layout.KernelIndexToShift(j, k)); err != nil {
			return nil, err
		}
	}
	for i := center - 1; i >= 0; i-- {
		for j := 0; j < k; j++ {
			if fam[i][j], err = e.Eval.Rotate(fam[i+1][j], -rowStride); err != nil {
				return nil, err
			}
		}
	}
	for i := center + 1; i < k; i++ {
		for j := 0; j < k; j++ {
			if fam[i][j], err = e.Eval.Rotate(fam[i-1][j], rowStride); err != nil {
				return nil, err
			}
		}
	}
	return fam, nil
}

func (e *Engine) rotationFamilies(shards []slot.Vector, rowStride, k int) ([][][]slot.Vector, error) {
	fams := make([][][]slot.Vector, len(shards))
	err := e.parallelFor(len(shards), func(i int) error {
		fam, err := e.rotationFamily(shards[i], rowStride, k)
		fams[i] = fam
		return err
	})
	if err != nil {
		return nil, err
	}
	return fams, nil
}

// accumulate adds term to acc, treating a nil acc as zero.
func (e *Engine) accumulate(acc, term slot.Vector) (slot.Vector, error) {
	if acc == nil {
		return term, nil
	}
	return e.Eval.Add(acc, term)
}

// zeroProduct is the product of x with an all-zero mask. It stands in for
// a partial sum whose every weight vanished, at the depth a real product
// would have.
func (e *Engine) zeroProduct(x slot.Vector) (slot.Vector, error) {
	return e.Eval.MulPlain(x, make([]float64, x.Slots()))
}

func checkFilters(filters *tensor.Tensor) (inCh, outCh, k int, err error) {
	if filters == nil || len(filters.Shape) != 4 {
		return 0, 0, 0, fmt.Errorf("%w: filters must be [in, out, k, k]", slot.ErrShapeMismatch)
	}
	if filters.Shape[2] != filters.Shape[3] || filters.Shape[2] < 1 {
		return 0, 0, 0, fmt.Errorf("%w: kernel %dx%d is not square", slot.ErrInvalidArgument, filters.Shape[2], filters.Shape[3])
	}
	return filters.Shape[0], filters.Shape[1], filters.Shape[2], nil
}

// Conv2D cross-correlates shards holding mtxSize x mtxSize channels with
// filters laid out [in, out, k, k], zero padding so the spatial size is
// kept. sigma maps the input's physical channel groups to logical
// channels; channel-sharded inputs are never permuted and ignore it. The
// output is in logical order and consumes one level.
func (e *Engine) Conv2D(shards []slot.Vector, filters *tensor.Tensor, mtxSize int, sigma []int) ([]slot.Vector, error) {
	inCh, outCh, k, err := checkFilters(filters)
	if err != nil {
		return nil, err
	}
	g, err := layout.DescribeShards(shards, mtxSize)
	if err != nil {
		return nil, err
	}
	if g.Regime == layout.ImageSharded {
		if len(sigma) != inCh {
			return nil, fmt.Errorf("%w: permutation has %d entries for %d input channels", slot.ErrInvalidPermutation, len(sigma), inCh)
		}
		if _, err := g.CheckSigma(sigma); err != nil {
			return nil, err
		}
	}
	plan, err := layout.PlanConv(g, inCh, outCh)
	if err != nil {
		return nil, err
	}
	if err := e.Eval.RequireDepth(shards, 1); err != nil {
		return nil, err
	}

	logLayer("conv2d", "%s, %d shards of %d, %dx%d, %d->%d channels, kernel %d",
		g.Regime, g.NumShards, g.Slots, mtxSize, mtxSize, inCh, outCh, k)
	if g.Regime == layout.ChannelSharded {
		return e.convChannelSharded(shards, g, filters, outCh, k)
	}
	return e.convImageSharded(shards, g, plan, filters, sigma, k)
}

func (e *Engine) convImageSharded(shards []slot.Vector, g layout.Geometry, plan layout.ConvPlan,
	filters *tensor.Tensor, sigma []int, k int) ([]slot.Vector, error) {
	fams, err := e.rotationFamilies(shards, g.MtxSize, k)
	if err != nil {
		return nil, err
	}

	perOut := plan.InPerShard * g.NumShards
	partials := make([]slot.Vector, plan.OutShards*perOut)
	err = e.parallelFor(len(partials), func(idx int) error {
		s := idx / perOut
		f := (idx % perOut) / plan.InPerShard
		r := idx % plan.InPerShard
		v, err := e.convPartialImage(fams[f], g, plan, filters, sigma, k, s, f, r)
		partials[idx] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.sumGroups(partials, plan.OutShards, perOut)
}

// convPartialImage computes the contribution of input shard f, rotated by
// r channel groups, to output shard s.
func (e *Engine) convPartialImage(fam [][]slot.Vector, g layout.Geometry, plan layout.ConvPlan,
	filters *tensor.Tensor, sigma []int, k, s, f, r int) (slot.Vector, error) {
	p, c, n := g.PhysicalPerShard, g.ChannelSize, g.MtxSize
	coeffs := make([]float64, p)
	var acc slot.Vector
	for ki := 0; ki < k; ki++ {
		dr := layout.KernelIndexToShift(ki, k)
		for kj := 0; kj < k; kj++ {
			dc := layout.KernelIndexToShift(kj, k)
			for b := 0; b < p; b++ {
				i := plan.InPerShard*f + (b/plan.InDup+r)%plan.InPerShard
				j := plan.OutPerShard*s + b/plan.OutDup
				coeffs[b] = filters.At(sigma[i], j, ki, kj)
			}

			mask := layout.CombinedMask(p, n, n, dr, dc)
			weighted := make([]float64, g.Slots)
			zero := true
			for q := range weighted {
				b := (q/c - r*plan.InDup + p) % p
				weighted[q] = float64(mask[q]) * coeffs[b]
				if weighted[q] != 0 {
					zero = false
				}
			}
			if zero {
				continue
			}

			term, err := e.Eval.MulPlain(fam[ki][kj], weighted)
			if err != nil {
				return nil, err
			}
			if acc, err = e.accumulate(acc, term); err != nil {
				return nil, err
			}
		}
	}
	if acc == nil {
		center := layout.ShiftToKernelIndex(0, k)
		var err error
		if acc, err = e.zeroProduct(fam[center][center]); err != nil {
			return nil, err
		}
	}
	return e.Eval.Rotate(acc, r*c*plan.InDup)
}

func (e *Engine) convChannelSharded(shards []slot.Vector, g layout.Geometry, filters *tensor.Tensor, outCh, k int) ([]slot.Vector, error) {
	spc, rps := g.ShardsPerChannel, g.RowsPerShard
	for ki := 0; ki < k; ki++ {
		if dr := layout.KernelIndexToShift(ki, k); dr > rps || -dr > rps {
			return nil, fmt.Errorf("%w: kernel of %d reaches past the neighbouring %d-row band", slot.ErrUnsupportedLayout, k, rps)
		}
	}
	fams, err := e.rotationFamilies(shards, g.MtxSize, k)
	if err != nil {
		return nil, err
	}

	inCh := g.PhysicalChannels()
	partials := make([]slot.Vector, inCh*outCh*spc)
	err = e.parallelFor(len(partials), func(idx int) error {
		ch := idx / (outCh * spc)
		o := (idx % (outCh * spc)) / spc
		t := idx % spc
		v, err := e.convPartialChannel(fams[ch*spc:(ch+1)*spc], g, filters, k, ch, o, t)
		partials[idx] = v
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]slot.Vector, outCh*spc)
	err = e.parallelFor(len(out), func(dst int) error {
		terms := make([]slot.Vector, inCh)
		for ch := range terms {
			terms[ch] = partials[ch*outCh*spc+dst]
		}
		v, err := e.Eval.Sum(terms)
		out[dst] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// neighbourBand is the band a vertical shift of dr rows bleeds into, or -1
// at the top and bottom edges of the channel.
func neighbourBand(t, spc, dr int) int {
	switch {
	case dr > 0 && t+1 < spc:
		return t + 1
	case dr < 0 && t > 0:
		return t - 1
	}
	return -1
}

// convPartialChannel computes band t of output channel o from input
// channel ch. fams holds the rotation families of every band of ch.
func (e *Engine) convPartialChannel(fams [][][]slot.Vector, g layout.Geometry, filters *tensor.Tensor, k, ch, o, t int) (slot.Vector, error) {
	rows, cols := g.RowsPerShard, g.MtxSize
	var acc slot.Vector
	for ki := 0; ki < k; ki++ {
		dr := layout.KernelIndexToShift(ki, k)
		bleed := neighbourBand(t, g.ShardsPerChannel, dr)
		for kj := 0; kj < k; kj++ {
			w := filters.At(ch, o, ki, kj)
			if w == 0 {
				continue
			}
			dc := layout.KernelIndexToShift(kj, k)

			term, err := e.Eval.MulPlain(fams[t][ki][kj], floatMask(layout.ShiftMask(rows, cols, dr, dc), w))
			if err != nil {
				return nil, err
			}
			if acc, err = e.accumulate(acc, term); err != nil {
				return nil, err
			}

			if bleed < 0 {
				continue
			}
			bm := layout.BleedMask(rows, cols, dr, dc)
			if layout.Popcount(bm) == 0 {
				continue
			}
			if term, err = e.Eval.MulPlain(fams[bleed][ki][kj], floatMask(bm, w)); err != nil {
				return nil, err
			}
			if acc, err = e.accumulate(acc, term); err != nil {
				return nil, err
			}
		}
	}
	if acc == nil {
		center := layout.ShiftToKernelIndex(0, k)
		return e.zeroProduct(fams[t][center][center])
	}
	return acc, nil
}

// Conv2D is a same-padded convolution layer without bias.
type Conv2D struct {
	W      *tensor.Tensor // [in, out, k, k]
	engine *Engine
}

// NewConv2D checks the filter shape and creates the layer.
func NewConv2D(w *tensor.Tensor, eng *Engine) (*Conv2D, error) {
	if _, _, _, err := checkFilters(w); err != nil {
		return nil, err
	}
	return &Conv2D{W: w, engine: eng}, nil
}

func (c *Conv2D) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv2DSame(x, c.W)
}

// Forward convolves in. The output channels are in logical order.
func (c *Conv2D) Forward(in *layout.Packed) (*layout.Packed, error) {
	if in.Flat {
		return nil, fmt.Errorf("%w: cannot convolve a flat vector", slot.ErrUnsupportedLayout)
	}
	out, err := c.engine.Conv2D(in.Shards, c.W, in.MtxSize, in.Sigma)
	if err != nil {
		return nil, err
	}
	outCh := c.W.Shape[1]
	return &layout.Packed{Shards: out, MtxSize: in.MtxSize, Channels: outCh, Sigma: layout.Identity(outCh)}, nil
}

func (c *Conv2D) Levels() int { return 1 }

func (c *Conv2D) Tag() string {
	return fmt.Sprintf("Conv2D_%d_%d_%d_%d", c.W.Shape[0], c.W.Shape[1], c.W.Shape[2], c.W.Shape[3])
}
