// Package vat implements virtual adversarial training: it estimates the
// input perturbation of bounded norm that most changes the model output
// and turns the resulting divergence into a smoothness penalty.
package vat

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ieee0824/vatformer/autodiff"
	"github.com/ieee0824/vatformer/internal/mathutil"
)

// VAT holds the perturbation settings.
type VAT struct {
	Xi         float64 // norm of the initial random direction
	Epsilon    float64 // norm of the final adversarial perturbation
	Alpha      float64 // weight of the smoothness penalty
	Stabilizer float64 // added to the gradient norm before rescaling; 0 disables it
	Rand       *rand.Rand
}

// New returns a VAT with ξ=1e-6 and no stabilizer. The divergence gradient
// scales with ξ, so any fixed stabilizer would dominate ‖g‖ and shrink the
// final perturbation well below ε; rows with ‖g‖ = 0 are left at zero instead.
func New(epsilon, alpha float64, rng *rand.Rand) *VAT {
	return &VAT{Xi: 1e-6, Epsilon: epsilon, Alpha: alpha, Rand: rng}
}

// Perturbation is the result of one adversarial direction estimate.
type Perturbation struct {
	Delta        *autodiff.Tensor // same shape as the input batch
	Smoothness   float64          // divergence at the initial random direction
	InitialNorms []float64        // per-example norm of the random direction
	GradNorms    []float64        // per-example norm of the divergence gradient
}

// Perturb draws a random direction of norm Xi for every example in x,
// differentiates KL(m(x) ‖ m(x+Δ)) with respect to Δ only, and rescales the
// gradient to norm Epsilon. Model parameters are left untouched.
func (v *VAT) Perturb(m autodiff.Function, x *autodiff.Tensor) (Perturbation, error) {
	if len(x.Shape) < 2 || x.Dim(0) == 0 {
		return Perturbation{}, fmt.Errorf("vat: input %v has no examples", x.Shape)
	}
	rows := x.Dim(0)

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: v.Rand}
	d := make([]float64, x.Size())
	for i := range d {
		d[i] = normal.Rand()
	}
	norms := mathutil.RowNorms(d, rows)
	scales := make([]float64, rows)
	for r, n := range norms {
		scales[r] = v.Xi / n
	}
	mathutil.ScaleRows(d, scales)
	initial := mathutil.RowNorms(d, rows)

	clean := m.Forward(nil, x)
	delta := autodiff.FromSlice(d, x.Shape...).RequireGrad()
	tp := autodiff.NewTape().FreezeParams()
	adv := m.Forward(tp, tp.Add(x, delta))
	l := tp.KLDivergence(clean, adv)
	if err := tp.Backward(l); err != nil {
		return Perturbation{}, fmt.Errorf("vat: perturbation gradient: %w", err)
	}

	g := delta.Grad
	gradNorms := mathutil.RowNorms(g, rows)
	for r, n := range gradNorms {
		if den := n + v.Stabilizer; den > 0 {
			scales[r] = v.Epsilon / den
		} else {
			scales[r] = 0
		}
	}
	mathutil.ScaleRows(g, scales)

	return Perturbation{
		Delta:        autodiff.FromSlice(g, x.Shape...),
		Smoothness:   l.Item(),
		InitialNorms: initial,
		GradNorms:    gradNorms,
	}, nil
}

// Penalty estimates the adversarial perturbation at the current parameters
// and records KL(clean ‖ m(x+Δ)) on tp. clean must be m(x) evaluated on the
// same tape so the penalty trains both branches.
func (v *VAT) Penalty(tp *autodiff.Tape, m autodiff.Function, x, clean *autodiff.Tensor) (*autodiff.Tensor, error) {
	p, err := v.Perturb(m, x)
	if err != nil {
		return nil, err
	}
	adv := m.Forward(tp, tp.Add(x, p.Delta))
	return tp.KLDivergence(clean, adv), nil
}

// Weight scales the summed divergence to a per-example penalty.
func (v *VAT) Weight(batchSize int) float64 {
	return v.Alpha / float64(batchSize)
}
