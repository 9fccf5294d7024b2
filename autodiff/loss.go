package autodiff

import (
	"fmt"
	"math"

	"github.com/ieee0824/vatformer/internal/mathutil"
)

// ProbEps is the clipping bound applied to probabilities before taking logs.
const ProbEps = 1e-7

// CrossEntropy returns the batch mean of -log p[label] for probabilities
// p: [B, K]. Probabilities are clipped to [ProbEps, 1-ProbEps]; clipped
// entries pass no gradient.
func (tp *Tape) CrossEntropy(p *Tensor, labels []int) *Tensor {
	K := p.Dim(-1)
	B := p.Size() / K
	if len(labels) != B {
		panic(fmt.Sprintf("autodiff: %d labels for %d rows", len(labels), B))
	}
	y, track := tp.out([]int{1}, p)
	invB := 1.0 / float64(B)
	for r, lbl := range labels {
		pv := p.Data[r*K+lbl]
		y.Data[0] -= math.Log(mathutil.Clip(pv, ProbEps, 1-ProbEps)) * invB
	}
	if track {
		tp.push(func() {
			g := y.Grad[0]
			for r, lbl := range labels {
				pv := p.Data[r*K+lbl]
				if pv < ProbEps || pv > 1-ProbEps {
					continue
				}
				p.Grad[r*K+lbl] -= g * invB / pv
			}
		})
	}
	return y
}

// KLDivergence returns Σ over rows and classes of p·log(p/q), with both
// distributions clipped to [ProbEps, 1]. p and q: [B, K].
func (tp *Tape) KLDivergence(p, q *Tensor) *Tensor {
	if p.Size() != q.Size() {
		panic(fmt.Sprintf("autodiff: KLDivergence shapes %v and %v", p.Shape, q.Shape))
	}
	y, track := tp.out([]int{1}, p, q)
	for i, pv := range p.Data {
		pc := mathutil.Clip(pv, ProbEps, 1)
		qc := mathutil.Clip(q.Data[i], ProbEps, 1)
		y.Data[0] += pc * math.Log(pc/qc)
	}
	if track {
		tp.push(func() {
			g := y.Grad[0]
			for i, pv := range p.Data {
				pc := mathutil.Clip(pv, ProbEps, 1)
				qc := mathutil.Clip(q.Data[i], ProbEps, 1)
				if tp.tracks(p) && pv >= ProbEps && pv <= 1 {
					p.Grad[i] += g * (math.Log(pc/qc) + 1)
				}
				if tp.tracks(q) && q.Data[i] >= ProbEps && q.Data[i] <= 1 {
					q.Grad[i] -= g * pc / qc
				}
			}
		})
	}
	return y
}

// Combine returns the scalar wa·a + wb·b.
func (tp *Tape) Combine(a *Tensor, wa float64, b *Tensor, wb float64) *Tensor {
	if a.Size() != 1 || b.Size() != 1 {
		panic("autodiff: Combine wants scalars")
	}
	y, track := tp.out([]int{1}, a, b)
	y.Data[0] = wa*a.Data[0] + wb*b.Data[0]
	if track {
		tp.push(func() {
			if tp.tracks(a) {
				a.Grad[0] += wa * y.Grad[0]
			}
			if tp.tracks(b) {
				b.Grad[0] += wb * y.Grad[0]
			}
		})
	}
	return y
}
