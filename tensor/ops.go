package tensor

import "fmt"

// Plaintext reference operators on [C, H, W] feature maps. The encrypted
// engines are checked against these.

func chw(op string, x *Tensor) (c, h, w int, err error) {
	if len(x.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("%s: expected [C,H,W] input, got %v", op, x.Shape)
	}
	return x.Shape[0], x.Shape[1], x.Shape[2], nil
}

// KernelShift maps kernel index i of a size-k kernel to its spatial offset.
// Even kernels are anchored one past the centre.
func KernelShift(i, k int) int {
	if k%2 == 0 {
		return i - k/2 + 1
	}
	return i - k/2
}

// Conv2DSame cross-correlates x with filters laid out [in, out, kh, kw],
// zero padding so the output keeps the input's spatial size.
func Conv2DSame(x, filters *Tensor) (*Tensor, error) {
	inC, h, w, err := chw("Conv2DSame", x)
	if err != nil {
		return nil, err
	}
	if len(filters.Shape) != 4 || filters.Shape[0] != inC {
		return nil, fmt.Errorf("Conv2DSame: filters %v do not match %d input channels", filters.Shape, inC)
	}
	outC, kh, kw := filters.Shape[1], filters.Shape[2], filters.Shape[3]
	out := New(outC, h, w)
	for o := 0; o < outC; o++ {
		for i := 0; i < inC; i++ {
			for ki := 0; ki < kh; ki++ {
				dy := KernelShift(ki, kh)
				for kj := 0; kj < kw; kj++ {
					dx := KernelShift(kj, kw)
					wt := filters.At(i, o, ki, kj)
					if wt == 0 {
						continue
					}
					for y := 0; y < h; y++ {
						sy := y + dy
						if sy < 0 || sy >= h {
							continue
						}
						for xx := 0; xx < w; xx++ {
							sx := xx + dx
							if sx < 0 || sx >= w {
								continue
							}
							out.Data[(o*h+y)*w+xx] += wt * x.Data[(i*h+sy)*w+sx]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// AvgPool2x2 averages (or, with average=false, subsamples the top-left of)
// every 2x2 block.
func AvgPool2x2(x *Tensor, average bool) (*Tensor, error) {
	c, h, w, err := chw("AvgPool2x2", x)
	if err != nil {
		return nil, err
	}
	if h%2 != 0 || w%2 != 0 {
		return nil, fmt.Errorf("AvgPool2x2: odd spatial size %dx%d", h, w)
	}
	oh, ow := h/2, w/2
	out := New(c, oh, ow)
	for ch := 0; ch < c; ch++ {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				base := (ch*h+2*y)*w + 2*xx
				v := x.Data[base]
				if average {
					v = (x.Data[base] + x.Data[base+1] + x.Data[base+w] + x.Data[base+w+1]) / 4
				}
				out.Data[(ch*oh+y)*ow+xx] = v
			}
		}
	}
	return out, nil
}

// Upsample2x doubles the spatial size. With nearest=true every value fills
// its 2x2 block, otherwise only the top-left position is set.
func Upsample2x(x *Tensor, nearest bool) (*Tensor, error) {
	c, h, w, err := chw("Upsample2x", x)
	if err != nil {
		return nil, err
	}
	oh, ow := 2*h, 2*w
	out := New(c, oh, ow)
	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				v := x.Data[(ch*h+y)*w+xx]
				base := (ch*oh+2*y)*ow + 2*xx
				out.Data[base] = v
				if nearest {
					out.Data[base+1] = v
					out.Data[base+ow] = v
					out.Data[base+ow+1] = v
				}
			}
		}
	}
	return out, nil
}

// Apply returns f applied elementwise.
func Apply(x *Tensor, f func(float64) float64) *Tensor {
	out := x.Clone()
	for i, v := range out.Data {
		out.Data[i] = f(v)
	}
	return out
}
