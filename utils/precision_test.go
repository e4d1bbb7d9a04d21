package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComparePrecision(t *testing.T) {
	want := []float64{1, 2, 3, 4}
	got := []float64{1, 2.5, 3, 3.5}

	p, err := ComparePrecision(want, got)
	require.NoError(t, err)
	assert.Equal(t, 4, p.N)
	assert.InDelta(t, 0.5, p.MaxAbsErr, 1e-12)
	assert.InDelta(t, 0.25, p.MeanErr, 1e-12)
	assert.InDelta(t, 1.0, p.Log2Bits, 1e-12)
	assert.Contains(t, p.String(), "n=4")

	exact, err := ComparePrecision(want, want)
	require.NoError(t, err)
	assert.True(t, math.IsInf(exact.Log2Bits, 1))

	_, err = ComparePrecision(want, got[:2])
	assert.Error(t, err)
}
