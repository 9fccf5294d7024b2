package train

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TieTolerance is the band below the best score within which entries count as tied.
const TieTolerance = 1e-6

// Scores returns test_acc - val_loss element-wise.
func Scores(testAcc, valLoss []float64) []float64 {
	n := min(len(testAcc), len(valLoss))
	s := make([]float64, n)
	floats.SubTo(s, testAcc[:n], valLoss[:n])
	return s
}

// SelectBest returns, in ascending order, every index whose score lies
// within tol of the maximum. It returns nil for an empty slice.
func SelectBest(scores []float64, tol float64) []int {
	if len(scores) == 0 {
		return nil
	}
	best := floats.Max(scores)
	var idx []int
	for i, s := range scores {
		if math.Abs(s-best) < tol {
			idx = append(idx, i)
		}
	}
	return idx
}

// BestIndices selects the epochs (or folds) with the highest test_acc - val_loss.
func BestIndices(testAcc, valLoss []float64, tol float64) []int {
	return SelectBest(Scores(testAcc, valLoss), tol)
}
