package slot

import (
	"math"
	"math/bits"
	"sync"
)

var decomposeCache sync.Map // uint -> []int, smallest first

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns floor(log2(n)) for n > 0.
func Log2(n int) int {
	return bits.Len(uint(n)) - 1
}

// Decompose splits r into signed powers of two whose sum is r, using as few
// terms as the mixed-sign recursion finds (15 -> [16, -1]). The result is
// ordered by decreasing magnitude and Decompose(-r) is the elementwise
// negation of Decompose(r) for every r but math.MinInt, which is itself a
// power of two.
func Decompose(r int) []int {
	switch {
	case r == 0:
		return nil
	case r == math.MinInt:
		return []int{math.MinInt}
	}
	neg := r < 0
	if neg {
		r = -r
	}
	terms := decompose(uint(r))
	out := make([]int, len(terms))
	for i := range terms {
		t := terms[len(terms)-1-i]
		if neg {
			t = -t
		}
		out[i] = t
	}
	return out
}

// decompose returns the terms for 0 < r <= math.MaxInt, smallest first.
// The upper form is skipped when its leading power does not fit in an int.
// Results are shared through the cache and must not be modified.
func decompose(r uint) []int {
	if cached, ok := decomposeCache.Load(r); ok {
		return cached.([]int)
	}
	var terms []int
	if r&(r-1) == 0 {
		terms = []int{int(r)}
	} else {
		upper := uint(1) << bits.Len(r-1)
		lower := upper >> 1

		sub := decompose(r - lower)
		terms = append(append(make([]int, 0, len(sub)+1), sub...), int(lower))
		if upper <= math.MaxInt {
			sub = decompose(upper - r)
			upperSum := make([]int, 0, len(sub)+1)
			for _, t := range sub {
				upperSum = append(upperSum, -t)
			}
			upperSum = append(upperSum, int(upper))
			if len(upperSum) < len(terms) {
				terms = upperSum
			}
		}
	}
	decomposeCache.Store(r, terms)
	return terms
}

// RotationSteps reduces k modulo slots and returns the power-of-two steps
// that realise it, choosing whichever of the two directions needs fewer
// key switches.
func RotationSteps(k, slots int) []int {
	k %= slots
	if k < 0 {
		k += slots
	}
	if k == 0 {
		return nil
	}
	left := trimFullTurns(Decompose(k), slots)
	right := trimFullTurns(Decompose(k-slots), slots)
	if len(right) < len(left) {
		return right
	}
	return left
}

func trimFullTurns(steps []int, slots int) []int {
	out := steps[:0]
	for _, s := range steps {
		if s%slots != 0 {
			out = append(out, s)
		}
	}
	return out
}
