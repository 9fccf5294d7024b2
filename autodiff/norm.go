package autodiff

import (
	"fmt"
	"math"
)

// LayerNormEps matches the Keras LayerNormalization default.
const LayerNormEps = 1e-3

// LayerNorm normalises each last-axis vector of x to zero mean and unit
// variance, then applies gamma and beta (both [D]).
func (tp *Tape) LayerNorm(x, gamma, beta *Tensor) *Tensor {
	D := x.Dim(-1)
	if gamma.Size() != D || beta.Size() != D {
		panic(fmt.Sprintf("autodiff: LayerNorm over %d with gamma %v beta %v", D, gamma.Shape, beta.Shape))
	}
	rows := x.Size() / D
	y, track := tp.out(x.Shape, x, gamma, beta)
	xhat := make([]float64, x.Size())
	invStd := make([]float64, rows)

	for r := 0; r < rows; r++ {
		row := x.Data[r*D : (r+1)*D]
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(D)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(D)
		is := 1.0 / math.Sqrt(variance+LayerNormEps)
		invStd[r] = is
		for j, v := range row {
			xh := (v - mean) * is
			xhat[r*D+j] = xh
			y.Data[r*D+j] = gamma.Data[j]*xh + beta.Data[j]
		}
	}

	if track {
		tp.push(func() {
			dF := float64(D)
			for r := 0; r < rows; r++ {
				off := r * D
				sumDxhat := 0.0
				sumDxhatXhat := 0.0
				for j := 0; j < D; j++ {
					g := y.Grad[off+j]
					if tp.tracks(gamma) {
						gamma.Grad[j] += g * xhat[off+j]
					}
					if tp.tracks(beta) {
						beta.Grad[j] += g
					}
					dxh := g * gamma.Data[j]
					sumDxhat += dxh
					sumDxhatXhat += dxh * xhat[off+j]
				}
				if !tp.tracks(x) {
					continue
				}
				for j := 0; j < D; j++ {
					dxh := y.Grad[off+j] * gamma.Data[j]
					x.Grad[off+j] += invStd[r] / dF * (dF*dxh - sumDxhat - xhat[off+j]*sumDxhatXhat)
				}
			}
		})
	}
	return y
}

// Softmax normalises each last-axis vector of x into a probability distribution.
func (tp *Tape) Softmax(x *Tensor) *Tensor {
	K := x.Dim(-1)
	rows := x.Size() / K
	y, track := tp.out(x.Shape, x)
	for r := 0; r < rows; r++ {
		softmaxRow(x.Data[r*K:(r+1)*K], y.Data[r*K:(r+1)*K])
	}
	if track {
		tp.push(func() {
			for r := 0; r < rows; r++ {
				off := r * K
				dot := 0.0
				for j := 0; j < K; j++ {
					dot += y.Grad[off+j] * y.Data[off+j]
				}
				for j := 0; j < K; j++ {
					x.Grad[off+j] += y.Data[off+j] * (y.Grad[off+j] - dot)
				}
			}
		})
	}
	return y
}

// softmaxRow writes softmax(src) into dst, subtracting the max for stability.
func softmaxRow(src, dst []float64) {
	maxVal := math.Inf(-1)
	for _, v := range src {
		if v > maxVal {
			maxVal = v
		}
	}
	sum := 0.0
	for j, v := range src {
		e := math.Exp(v - maxVal)
		dst[j] = e
		sum += e
	}
	for j := range dst {
		dst[j] /= sum
	}
}
