package layout

import "hecnn_lib/tensor"

// Shift masks over a rows x cols grid flattened row-major. A shift is a slot
// rotation, so values wrap into neighbouring rows or channels; the masks
// zero every position whose source fell outside the grid.

// KernelIndexToShift maps kernel index i of a size-k kernel to a spatial
// offset. Even kernels are anchored one past the centre.
func KernelIndexToShift(i, k int) int {
	return tensor.KernelShift(i, k)
}

// ShiftToKernelIndex is the inverse of KernelIndexToShift, -1 if shift is
// not reachable.
func ShiftToKernelIndex(shift, k int) int {
	for i := 0; i < k; i++ {
		if KernelIndexToShift(i, k) == shift {
			return i
		}
	}
	return -1
}

func gridMask(rows, cols int, keep func(row, col int) bool) []int {
	m := make([]int, rows*cols)
	for i := range m {
		if keep(i/cols, i%cols) {
			m[i] = 1
		}
	}
	return m
}

// UpMask keeps positions that read n rows below: the last n rows are zero.
func UpMask(rows, cols, n int) []int {
	return gridMask(rows, cols, func(r, _ int) bool { return r < rows-n })
}

// DownMask keeps positions that read n rows above: the first n rows are zero.
func DownMask(rows, cols, n int) []int {
	return gridMask(rows, cols, func(r, _ int) bool { return r >= n })
}

// LeftMask zeroes the last n columns.
func LeftMask(rows, cols, n int) []int {
	return gridMask(rows, cols, func(_, c int) bool { return c < cols-n })
}

// RightMask zeroes the first n columns.
func RightMask(rows, cols, n int) []int {
	return gridMask(rows, cols, func(_, c int) bool { return c >= n })
}

// UDMask is UpMask for n >= 0 and DownMask(-n) otherwise.
func UDMask(rows, cols, n int) []int {
	if n < 0 {
		return DownMask(rows, cols, -n)
	}
	return UpMask(rows, cols, n)
}

// LRMask is LeftMask for n >= 0 and RightMask(-n) otherwise.
func LRMask(rows, cols, n int) []int {
	if n < 0 {
		return RightMask(rows, cols, -n)
	}
	return LeftMask(rows, cols, n)
}

// ShiftMask is UDMask AND LRMask for a single grid.
func ShiftMask(rows, cols, dr, dc int) []int {
	ud := UDMask(rows, cols, dr)
	lr := LRMask(rows, cols, dc)
	for i := range ud {
		ud[i] &= lr[i]
	}
	return ud
}

// CombinedMask is ShiftMask tiled over numMtxs consecutive grids.
func CombinedMask(numMtxs, rows, cols, dr, dc int) []int {
	return Tile(ShiftMask(rows, cols, dr, dc), numMtxs*rows*cols)
}

// BleedMask selects the rows a shifted band must take from its vertical
// neighbour: (NOT UDMask) AND LRMask.
func BleedMask(rows, cols, dr, dc int) []int {
	ud := UDMask(rows, cols, dr)
	lr := LRMask(rows, cols, dc)
	for i := range ud {
		ud[i] = (1 - ud[i]) & lr[i]
	}
	return ud
}

// Tile repeats v until it has size entries.
func Tile(v []int, size int) []int {
	out := make([]int, size)
	if len(v) == 0 {
		return out
	}
	for i := range out {
		out[i] = v[i%len(v)]
	}
	return out
}

// Popcount counts the non-zero entries of m.
func Popcount(m []int) int {
	n := 0
	for _, v := range m {
		if v != 0 {
			n++
		}
	}
	return n
}
