// Package ckkswrapper holds the CKKS key material and the lattigo-backed
// implementation of the slot evaluator.
package ckkswrapper

import (
	"fmt"

	"hecnn_lib/core/slot"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

// HeContext is the client side: parameters, keys, encoder, encryptor and
// decryptor. Evaluation keys are handed to the server through a ServerKit.
type HeContext struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor

	kgen *rlwe.KeyGenerator
	sk   *rlwe.SecretKey
	pk   *rlwe.PublicKey
	rlk  *rlwe.RelinearizationKey
}

// ParamsLiteral builds a parameter literal with depth levels of logScale
// bits on top of a logQ0-bit base prime.
func ParamsLiteral(logN, depth, logQ0, logP, logScale int) ckks.ParametersLiteral {
	logQ := make([]int, depth+1)
	logQ[0] = logQ0
	for i := 1; i <= depth; i++ {
		logQ[i] = logScale
	}
	return ckks.ParametersLiteral{
		LogN:            logN,
		LogQ:            logQ,
		LogP:            []int{logP, logP},
		LogDefaultScale: logScale,
	}
}

// NewHeContextWithLogN creates a context for 2^(logN-1) slots.
func NewHeContextWithLogN(logN int) (*HeContext, error) {
	return NewHeContextWithParams(ParamsLiteral(logN, 12, 55, 61, 40))
}

// NewHeContextWithParams generates fresh keys for lit.
func NewHeContextWithParams(lit ckks.ParametersLiteral) (*HeContext, error) {
	params, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("creating CKKS parameters: %w", err)
	}
	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	return &HeContext{
		Params:    params,
		Encoder:   ckks.NewEncoder(params),
		Encryptor: rlwe.NewEncryptor(params, pk),
		Decryptor: rlwe.NewDecryptor(params, sk),
		kgen:      kgen,
		sk:        sk,
		pk:        pk,
		rlk:       kgen.GenRelinearizationKeyNew(sk),
	}, nil
}

// Slots is the shard width of every ciphertext this context produces.
func (h *HeContext) Slots() int { return h.Params.MaxSlots() }

// ServerKit is what the evaluating party holds: no secret key.
type ServerKit struct {
	Params    ckks.Parameters
	Encoder   *ckks.Encoder
	Evaluator *ckks.Evaluator

	pool chan *ckks.Evaluator
}

// GenServerKit generates Galois keys for rots and a relinearization key.
// A nil rots gives every signed power of two below the slot count, which
// is all a WrappedEvaluator ever asks for.
func (h *HeContext) GenServerKit(rots []int) *ServerKit {
	if rots == nil {
		rots = PowerOfTwoRotations(h.Slots())
	}
	galEls := h.Params.GaloisElements(rots)
	evk := rlwe.NewMemEvaluationKeySet(h.rlk, h.kgen.GenGaloisKeysNew(galEls, h.sk)...)
	return &ServerKit{
		Params:    h.Params,
		Encoder:   ckks.NewEncoder(h.Params),
		Evaluator: ckks.NewEvaluator(h.Params, evk),
	}
}

// PowerOfTwoRotations lists +-2^i for 2^i < slots.
func PowerOfTwoRotations(slots int) []int {
	var rots []int
	for k := 1; k < slots; k <<= 1 {
		rots = append(rots, k, -k)
	}
	return rots
}

// InitPool fills a pool of n shallow copies of the evaluator, one per
// worker. Evaluators carry scratch buffers and cannot be shared.
func (k *ServerKit) InitPool(n int) {
	if n < 1 {
		n = 1
	}
	k.pool = make(chan *ckks.Evaluator, n)
	for i := 0; i < n; i++ {
		k.pool <- k.Evaluator.ShallowCopy()
	}
}

// GetWorkerEvaluator takes an evaluator from the pool. It must be handed
// back with PutWorkerEvaluator.
func (k *ServerKit) GetWorkerEvaluator() *ckks.Evaluator {
	if k.pool == nil {
		k.InitPool(1)
	}
	return <-k.pool
}

// PutWorkerEvaluator returns eval to the pool.
func (k *ServerKit) PutWorkerEvaluator(eval *ckks.Evaluator) {
	k.pool <- eval
}

// EncryptShard encodes vals at the top level and encrypts them. vals may
// be shorter than the slot count; the rest is zero.
func (h *HeContext) EncryptShard(vals []float64) (*Shard, error) {
	if len(vals) > h.Slots() {
		return nil, fmt.Errorf("%w: %d values for %d slots", slot.ErrShapeMismatch, len(vals), h.Slots())
	}
	pt := ckks.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(vals, pt); err != nil {
		return nil, fmt.Errorf("encode failed: %w", err)
	}
	ct, err := h.Encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	return &Shard{Ct: ct}, nil
}

// EncryptShards encrypts every row of vals.
func (h *HeContext) EncryptShards(vals [][]float64) ([]slot.Vector, error) {
	out := make([]slot.Vector, len(vals))
	for i, v := range vals {
		s, err := h.EncryptShard(v)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// DecryptShard returns the real parts of v's slots.
func (h *HeContext) DecryptShard(v slot.Vector) ([]float64, error) {
	s, err := asShard(v)
	if err != nil {
		return nil, err
	}
	pt := h.Decryptor.DecryptNew(s.Ct)
	decoded := make([]complex128, h.Slots())
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	out := make([]float64, len(decoded))
	for i, c := range decoded {
		out[i] = real(c)
	}
	return out, nil
}

// DecryptShards decrypts every shard.
func (h *HeContext) DecryptShards(vs []slot.Vector) ([][]float64, error) {
	out := make([][]float64, len(vs))
	for i, v := range vs {
		vals, err := h.DecryptShard(v)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}
