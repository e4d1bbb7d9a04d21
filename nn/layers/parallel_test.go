package layers

import (
	"errors"
	"sync/atomic"
	"testing"

	"hecnn_lib/core/slot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelFor_VisitsEveryIndex(t *testing.T) {
	eng := &Engine{Eval: slot.NewWrappedEvaluator(slot.NewSimEvaluator()), Workers: 3}
	seen := make([]int32, 50)
	require.NoError(t, eng.parallelFor(len(seen), func(i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	}))
	for i, n := range seen {
		assert.Equal(t, int32(1), n, "index %d", i)
	}
}

func TestParallelFor_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := simEngine().parallelFor(20, func(i int) error {
		if i == 7 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestSumGroups(t *testing.T) {
	eng := simEngine()
	parts := make([]slot.Vector, 6)
	for i := range parts {
		parts[i] = slot.NewSimVector([]float64{float64(i), 1}, 4)
	}
	out, err := eng.sumGroups(parts, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3, 3}, {12, 3}}, simValues(t, out))
}
