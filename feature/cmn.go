package feature

import "gonum.org/v1/gonum/floats"

// ApplyCMN subtracts the per-coefficient mean over all frames in place.
func ApplyCMN(features [][]float64) {
	if len(features) == 0 {
		return
	}
	mean := make([]float64, len(features[0]))
	for _, row := range features {
		floats.Add(mean, row)
	}
	floats.Scale(1/float64(len(features)), mean)
	for _, row := range features {
		floats.Sub(row, mean)
	}
}
