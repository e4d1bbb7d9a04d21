package ckkswrapper

import (
	"fmt"
	"math"

	"hecnn_lib/core/slot"

	"github.com/tuneinsight/lattigo/v6/circuits/ckks/polynomial"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
	"github.com/tuneinsight/lattigo/v6/utils/bignum"
)

// Shard is one CKKS ciphertext seen as a slot vector.
type Shard struct {
	Ct *rlwe.Ciphertext
}

func (s *Shard) Slots() int { return 1 << s.Ct.LogDimensions.Cols }

// Depth is the number of moduli left in the chain.
func (s *Shard) Depth() int { return s.Ct.Level() + 1 }

func asShard(v slot.Vector) (*Shard, error) {
	s, ok := v.(*Shard)
	if !ok {
		return nil, fmt.Errorf("%w: expected *ckkswrapper.Shard, got %T", slot.ErrInvalidArgument, v)
	}
	return s, nil
}

func shardPair(a, b slot.Vector) (*Shard, *Shard, error) {
	sa, err := asShard(a)
	if err != nil {
		return nil, nil, err
	}
	sb, err := asShard(b)
	if err != nil {
		return nil, nil, err
	}
	return sa, sb, nil
}

// ShardEvaluator implements slot.Evaluator with a ServerKit. Every call
// borrows an evaluator from the kit's pool, so it is safe for concurrent
// use by up to the pool size goroutines without contention.
type ShardEvaluator struct {
	kit *ServerKit
}

// NewShardEvaluator returns an evaluator over kit with workers pooled
// evaluator copies.
func NewShardEvaluator(kit *ServerKit, workers int) *ShardEvaluator {
	kit.InitPool(workers)
	return &ShardEvaluator{kit: kit}
}

func (e *ShardEvaluator) with(f func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error)) (slot.Vector, error) {
	eval := e.kit.GetWorkerEvaluator()
	defer e.kit.PutWorkerEvaluator(eval)
	ct, err := f(eval)
	if err != nil {
		return nil, err
	}
	return &Shard{Ct: ct}, nil
}

func (e *ShardEvaluator) Add(a, b slot.Vector) (slot.Vector, error) {
	sa, sb, err := shardPair(a, b)
	if err != nil {
		return nil, err
	}
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		return eval.AddNew(sa.Ct, sb.Ct)
	})
}

func (e *ShardEvaluator) Sub(a, b slot.Vector) (slot.Vector, error) {
	sa, sb, err := shardPair(a, b)
	if err != nil {
		return nil, err
	}
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		return eval.SubNew(sa.Ct, sb.Ct)
	})
}

// Negate multiplies by the constant -1, which needs no rescale.
func (e *ShardEvaluator) Negate(a slot.Vector) (slot.Vector, error) {
	sa, err := asShard(a)
	if err != nil {
		return nil, err
	}
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		return eval.MulNew(sa.Ct, -1)
	})
}

func (e *ShardEvaluator) MulPlain(a slot.Vector, mask []float64) (slot.Vector, error) {
	sa, err := asShard(a)
	if err != nil {
		return nil, err
	}
	if sa.Ct.Level() < 1 {
		return nil, fmt.Errorf("%w: ciphertext at level 0", slot.ErrInsufficientDepth)
	}
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		ct, err := eval.MulNew(sa.Ct, mask)
		if err != nil {
			return nil, err
		}
		if err = eval.Rescale(ct, ct); err != nil {
			return nil, err
		}
		return ct, nil
	})
}

func (e *ShardEvaluator) MulCipher(a, b slot.Vector) (slot.Vector, error) {
	sa, sb, err := shardPair(a, b)
	if err != nil {
		return nil, err
	}
	if min(sa.Ct.Level(), sb.Ct.Level()) < 1 {
		return nil, fmt.Errorf("%w: ciphertext at level 0", slot.ErrInsufficientDepth)
	}
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		ct, err := eval.MulRelinNew(sa.Ct, sb.Ct)
		if err != nil {
			return nil, err
		}
		if err = eval.Rescale(ct, ct); err != nil {
			return nil, err
		}
		return ct, nil
	})
}

func (e *ShardEvaluator) Rotate(a slot.Vector, k int) (slot.Vector, error) {
	sa, err := asShard(a)
	if err != nil {
		return nil, err
	}
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		return eval.RotateNew(sa.Ct, k)
	})
}

// EvalChebyshev maps [lo, hi] onto [-1, 1] with one scalar multiplication
// when needed, then runs lattigo's baby-step giant-step evaluator.
func (e *ShardEvaluator) EvalChebyshev(a slot.Vector, coeffs []float64, lo, hi float64) (slot.Vector, error) {
	sa, err := asShard(a)
	if err != nil {
		return nil, err
	}
	poly := bignum.NewPolynomial(bignum.Chebyshev, coeffs, [2]float64{lo, hi})
	params := e.kit.Params
	return e.with(func(eval *ckks.Evaluator) (*rlwe.Ciphertext, error) {
		ct := sa.Ct
		if math.Abs(lo+1) > 1e-12 || math.Abs(hi-1) > 1e-12 {
			scalarmul, scalaradd := poly.ChangeOfBasis()
			var err error
			if ct, err = eval.MulNew(ct, scalarmul); err != nil {
				return nil, err
			}
			if err = eval.Add(ct, scalaradd, ct); err != nil {
				return nil, err
			}
			if err = eval.Rescale(ct, ct); err != nil {
				return nil, err
			}
		}
		return polynomial.NewEvaluator(params, eval).Evaluate(ct, poly, params.DefaultScale())
	})
}
