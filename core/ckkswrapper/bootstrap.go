package ckkswrapper

import (
	"fmt"

	"hecnn_lib/core/slot"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// CheatBootstrap restores a ciphertext to the top level by decrypting and
// re-encrypting it. It needs the secret key, so it only stands in for real
// bootstrapping in tests and the demo pipeline.
func (h *HeContext) CheatBootstrap(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	vals, err := h.DecryptShard(&Shard{Ct: ct})
	if err != nil {
		return nil, err
	}
	s, err := h.EncryptShard(vals)
	if err != nil {
		return nil, err
	}
	return s.Ct, nil
}

// NeedsBootstrap reports whether ct is at or below threshold levels.
// A non-positive threshold means 1.
func NeedsBootstrap(ct *rlwe.Ciphertext, threshold int) bool {
	if threshold <= 0 {
		threshold = 1
	}
	return ct.Level() <= threshold
}

// Refresh returns v at full depth.
func (h *HeContext) Refresh(v slot.Vector) (slot.Vector, error) {
	s, err := asShard(v)
	if err != nil {
		return nil, err
	}
	ct, err := h.CheatBootstrap(s.Ct)
	if err != nil {
		return nil, err
	}
	return &Shard{Ct: ct}, nil
}

// RefreshBelow refreshes every shard of vs with fewer than minDepth towers
// and passes the others through.
func (h *HeContext) RefreshBelow(vs []slot.Vector, minDepth int) ([]slot.Vector, error) {
	out := make([]slot.Vector, len(vs))
	for i, v := range vs {
		s, err := asShard(v)
		if err != nil {
			return nil, err
		}
		out[i] = v
		if !NeedsBootstrap(s.Ct, minDepth-2) {
			continue
		}
		if out[i], err = h.Refresh(v); err != nil {
			return nil, fmt.Errorf("refresh shard %d failed: %w", i, err)
		}
	}
	return out, nil
}
