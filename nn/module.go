// Package nn chains encrypted CNN layers into networks.
package nn

import (
	"fmt"
	"time"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/tensor"
	"hecnn_lib/utils"
)

// Module defines a single layer in the network.
type Module interface {
	// Forward evaluates the layer on packed shards.
	Forward(in *layout.Packed) (*layout.Packed, error)
	// ForwardPlain is the plaintext reference of Forward.
	ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error)
	// Levels is the depth the layer reserves.
	Levels() int
	Tag() string
}

// RefreshFunc restores every shard below minDepth towers to full depth.
// It must not modify the shards it is given.
type RefreshFunc func(shards []slot.Vector, minDepth int) ([]slot.Vector, error)

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
	// Stats, when set, receives the wall time of every layer.
	Stats *utils.TimingStats
	// Refresh, when set, runs before any layer whose Levels would take
	// a shard below slot.MinMulDepth.
	Refresh RefreshFunc
}

// NewSequential chains layers.
func NewSequential(layers ...Module) *Sequential {
	return &Sequential{Layers: layers}
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(in *layout.Packed) (*layout.Packed, error) {
	out := in
	for i, layer := range s.Layers {
		if s.Refresh != nil {
			var err error
			if out, err = s.refresh(out, slot.MinMulDepth+layer.Levels()); err != nil {
				return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Tag(), err)
			}
		}
		start := time.Now()
		next, err := layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Tag(), err)
		}
		if s.Stats != nil {
			s.Stats.AddLayer(layer.Tag(), time.Since(start))
		}
		utils.Logf("[nn] %s done in %v", layer.Tag(), time.Since(start))
		out = next
	}
	return out, nil
}

func (s *Sequential) refresh(in *layout.Packed, need int) (*layout.Packed, error) {
	if slot.LowestDepth(in.Shards) >= need {
		return in, nil
	}
	start := time.Now()
	shards, err := s.Refresh(in.Shards, need)
	if err != nil {
		return nil, fmt.Errorf("refresh failed: %w", err)
	}
	if s.Stats != nil {
		s.Stats.AddLayer("Refresh", time.Since(start))
	}
	utils.Logf("[nn] refreshed %d shards to depth %d", len(shards), slot.LowestDepth(shards))
	out := *in
	out.Shards = shards
	return &out, nil
}

// ForwardPlain applies each layer's plaintext reference in sequence.
func (s *Sequential) ForwardPlain(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	for i, layer := range s.Layers {
		var err error
		if out, err = layer.ForwardPlain(out); err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Tag(), err)
		}
	}
	return out, nil
}

// Levels sums Levels() of all layers.
func (s *Sequential) Levels() int {
	sum := 0
	for _, layer := range s.Layers {
		sum += layer.Levels()
	}
	return sum
}

// Tag joins the layer tags.
func (s *Sequential) Tag() string {
	tag := "Sequential"
	for _, layer := range s.Layers {
		tag += "/" + layer.Tag()
	}
	return tag
}
