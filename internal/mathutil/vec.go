package mathutil

import "gonum.org/v1/gonum/floats"

// Vec is a float64 vector.
type Vec = []float64

// RowNorms returns the L2 norm of each of the rows equal-length chunks of x.
// For a batch tensor [B, ...] this is the per-example norm over all non-batch axes.
func RowNorms(x Vec, rows int) Vec {
	if rows == 0 {
		return nil
	}
	n := len(x) / rows
	norms := make(Vec, rows)
	for r := 0; r < rows; r++ {
		norms[r] = floats.Norm(x[r*n:(r+1)*n], 2)
	}
	return norms
}

// ScaleRows multiplies row r of x by scales[r] in place.
func ScaleRows(x Vec, scales Vec) {
	rows := len(scales)
	if rows == 0 {
		return
	}
	n := len(x) / rows
	for r, s := range scales {
		floats.Scale(s, x[r*n:(r+1)*n])
	}
}

// Argmax returns the index of the largest element, the first one on ties.
func Argmax(v Vec) int {
	return floats.MaxIdx(v)
}

// Clip limits v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
