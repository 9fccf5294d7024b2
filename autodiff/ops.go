package autodiff

import (
	"fmt"
	"math"

	"github.com/ieee0824/vatformer/internal/blas"
)

// Linear computes y = x·Wᵀ + b over the last axis of x.
// x: [..., in], w: [out, in], b: [out] or nil. Result: [..., out].
func (tp *Tape) Linear(x, w, b *Tensor) *Tensor {
	out, in := w.Shape[0], w.Shape[1]
	if x.Dim(-1) != in {
		panic(fmt.Sprintf("autodiff: Linear input %v does not match weight %v", x.Shape, w.Shape))
	}
	rows := x.Size() / in
	shape := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), out)
	y, track := tp.out(shape, x, w, b)

	blas.Dgemm(false, true, rows, out, in, 1.0, x.Data, in, w.Data, in, 0.0, y.Data, out)
	if b != nil {
		for r := 0; r < rows; r++ {
			row := y.Data[r*out : (r+1)*out]
			for j := range row {
				row[j] += b.Data[j]
			}
		}
	}

	if track {
		tp.push(func() {
			// dx += dy @ W
			if tp.tracks(x) {
				blas.Dgemm(false, false, rows, in, out, 1.0, y.Grad, out, w.Data, in, 1.0, x.Grad, in)
			}
			// dW += dy^T @ x
			if tp.tracks(w) {
				blas.Dgemm(true, false, out, in, rows, 1.0, y.Grad, out, x.Data, in, 1.0, w.Grad, in)
			}
			if tp.tracks(b) {
				for r := 0; r < rows; r++ {
					g := y.Grad[r*out : (r+1)*out]
					for j, v := range g {
						b.Grad[j] += v
					}
				}
			}
		})
	}
	return y
}

// Add returns a + b for tensors of equal size.
func (tp *Tape) Add(a, b *Tensor) *Tensor {
	if a.Size() != b.Size() {
		panic(fmt.Sprintf("autodiff: Add shapes %v and %v", a.Shape, b.Shape))
	}
	y, track := tp.out(a.Shape, a, b)
	for i := range y.Data {
		y.Data[i] = a.Data[i] + b.Data[i]
	}
	if track {
		tp.push(func() {
			if tp.tracks(a) {
				for i, g := range y.Grad {
					a.Grad[i] += g
				}
			}
			if tp.tracks(b) {
				for i, g := range y.Grad {
					b.Grad[i] += g
				}
			}
		})
	}
	return y
}

// AddConst adds a constant block c, repeated over the leading axes of x.
// len(c) must divide x.Size().
func (tp *Tape) AddConst(x *Tensor, c []float64) *Tensor {
	if len(c) == 0 || x.Size()%len(c) != 0 {
		panic(fmt.Sprintf("autodiff: AddConst block of %d does not tile %v", len(c), x.Shape))
	}
	y, track := tp.out(x.Shape, x)
	n := len(c)
	for i := range y.Data {
		y.Data[i] = x.Data[i] + c[i%n]
	}
	if track {
		tp.push(func() {
			for i, g := range y.Grad {
				x.Grad[i] += g
			}
		})
	}
	return y
}

// Scale returns s·x.
func (tp *Tape) Scale(x *Tensor, s float64) *Tensor {
	y, track := tp.out(x.Shape, x)
	for i, v := range x.Data {
		y.Data[i] = s * v
	}
	if track {
		tp.push(func() {
			for i, g := range y.Grad {
				x.Grad[i] += s * g
			}
		})
	}
	return y
}

// GELU applies the exact (erf) Gaussian error linear unit.
func (tp *Tape) GELU(x *Tensor) *Tensor {
	y, track := tp.out(x.Shape, x)
	for i, v := range x.Data {
		y.Data[i] = 0.5 * v * (1 + math.Erf(v/math.Sqrt2))
	}
	if track {
		tp.push(func() {
			const invSqrt2Pi = 0.3989422804014327
			for i, v := range x.Data {
				cdf := 0.5 * (1 + math.Erf(v/math.Sqrt2))
				pdf := invSqrt2Pi * math.Exp(-0.5*v*v)
				x.Grad[i] += y.Grad[i] * (cdf + v*pdf)
			}
		})
	}
	return y
}

// ELU applies x for x > 0 and exp(x)-1 otherwise.
func (tp *Tape) ELU(x *Tensor) *Tensor {
	y, track := tp.out(x.Shape, x)
	for i, v := range x.Data {
		if v > 0 {
			y.Data[i] = v
		} else {
			y.Data[i] = math.Expm1(v)
		}
	}
	if track {
		tp.push(func() {
			for i, v := range x.Data {
				if v > 0 {
					x.Grad[i] += y.Grad[i]
				} else {
					x.Grad[i] += y.Grad[i] * (y.Data[i] + 1)
				}
			}
		})
	}
	return y
}

