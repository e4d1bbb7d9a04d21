package bench

import (
	"fmt"

	"hecnn_lib/core/ckkswrapper"
	"hecnn_lib/core/slot"
	"hecnn_lib/nn"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"

	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// Backend bundles an evaluator with the means to get tensors in and out of
// its shards.
type Backend struct {
	Name  string
	Eval  slot.Evaluator
	Slots int
	// Depth is the depth of freshly packed shards.
	Depth int
	// LogN is 0 for the simulator.
	LogN int

	encrypt func(vals [][]float64) ([]slot.Vector, error)
	decrypt func(vs []slot.Vector) ([][]float64, error)
	refresh nn.RefreshFunc
}

// NewSimBackend simulates shards of the given width and depth in plaintext.
func NewSimBackend(slots, depth int) *Backend {
	b := &Backend{
		Name:  "sim",
		Eval:  slot.NewSimEvaluator(),
		Slots: slots,
		Depth: depth,
		encrypt: func(vals [][]float64) ([]slot.Vector, error) {
			out := make([]slot.Vector, len(vals))
			for i, v := range vals {
				out[i] = slot.NewSimVector(v, depth)
			}
			return out, nil
		},
		decrypt: func(vs []slot.Vector) ([][]float64, error) {
			out := make([][]float64, len(vs))
			for i, v := range vs {
				sv, ok := v.(*slot.SimVector)
				if !ok {
					return nil, fmt.Errorf("%w: shard %d is %T", slot.ErrInvalidArgument, i, v)
				}
				out[i] = sv.Values()
			}
			return out, nil
		},
	}
	b.refresh = func(vs []slot.Vector, minDepth int) ([]slot.Vector, error) {
		out := make([]slot.Vector, len(vs))
		for i, v := range vs {
			out[i] = v
			if v.Depth() >= minDepth {
				continue
			}
			vals, err := b.decrypt(vs[i : i+1])
			if err != nil {
				return nil, err
			}
			out[i] = slot.NewSimVector(vals[0], depth)
		}
		return out, nil
	}
	return b
}

// NewCKKSBackend generates keys for lit, with rotation keys for every
// signed power of two, and evaluates with workers pooled evaluators.
func NewCKKSBackend(lit ckks.ParametersLiteral, workers int) (*Backend, error) {
	h, err := ckkswrapper.NewHeContextWithParams(lit)
	if err != nil {
		return nil, err
	}
	kit := h.GenServerKit(nil)
	return &Backend{
		Name:    "ckks",
		Eval:    ckkswrapper.NewShardEvaluator(kit, workers),
		Slots:   h.Slots(),
		Depth:   h.Params.MaxLevel() + 1,
		LogN:    h.Params.LogN(),
		encrypt: h.EncryptShards,
		decrypt: h.DecryptShards,
		refresh: h.RefreshBelow,
	}, nil
}

// Refresh brings every shard below minDepth back to b.Depth. On the CKKS
// backend this decrypts with the secret key and re-encrypts.
func (b *Backend) Refresh(shards []slot.Vector, minDepth int) ([]slot.Vector, error) {
	return b.refresh(shards, minDepth)
}

// Pack lays x out over shards and encrypts them.
func (b *Backend) Pack(x *tensor.Tensor) (*layout.Packed, error) {
	vals, sigma, err := layout.Pack(x, b.Slots)
	if err != nil {
		return nil, err
	}
	shards, err := b.encrypt(vals)
	if err != nil {
		return nil, err
	}
	return &layout.Packed{Shards: shards, MtxSize: x.Shape[1], Channels: x.Shape[0], Sigma: sigma}, nil
}

// Unpack decrypts p and undoes its layout.
func (b *Backend) Unpack(p *layout.Packed) (*tensor.Tensor, error) {
	vals, err := b.decrypt(p.Shards)
	if err != nil {
		return nil, err
	}
	if p.Flat {
		return layout.UnpackFlat(vals[0], p.Channels)
	}
	return layout.Unpack(vals, p.MtxSize, p.Sigma)
}
