// Package optim provides the Adam optimizer and learning-rate schedules
// used to train the classifier.
package optim

import (
	"math"

	"github.com/ieee0824/vatformer/autodiff"
)

// AdamConfig holds the moment decay rates and the denominator epsilon.
type AdamConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamConfig returns the Transformer settings β1=0.9, β2=0.98, ε=1e-9.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{Beta1: 0.9, Beta2: 0.98, Epsilon: 1e-9}
}

// Adam keeps first and second moment estimates for a fixed parameter list.
// The step counter is shared by every phase that uses the optimizer, so the
// schedule keeps advancing from pretraining into the main phase.
type Adam struct {
	cfg      AdamConfig
	schedule Schedule
	params   []*autodiff.Tensor
	m, v     [][]float64
	t        int
	lr       float64
}

// NewAdam returns an optimizer over params driven by schedule.
func NewAdam(params []*autodiff.Tensor, schedule Schedule, cfg AdamConfig) *Adam {
	a := &Adam{cfg: cfg, schedule: schedule, params: params}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, p.Size())
		a.v[i] = make([]float64, p.Size())
	}
	return a
}

// Step applies one update from the accumulated gradients and clears them.
func (a *Adam) Step() {
	a.t++
	a.lr = a.schedule.LR(a.t)
	for i, p := range a.params {
		adamUpdate(p.Data, p.Grad, a.m[i], a.v[i], a.lr, a.cfg.Beta1, a.cfg.Beta2, a.cfg.Epsilon, a.t)
		p.ZeroGrad()
	}
}

// ZeroGrad clears the gradients of every parameter without updating.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// LR returns the learning rate used by the most recent update.
func (a *Adam) LR() float64 { return a.lr }

// adamUpdate applies one Adam step: params -= lr * m_hat / (sqrt(v_hat) + eps)
func adamUpdate(params, grad, m, v []float64, lr, beta1, beta2, eps float64, t int) {
	bc1 := 1.0 - math.Pow(beta1, float64(t))
	bc2 := 1.0 - math.Pow(beta2, float64(t))
	for i := range params {
		g := grad[i]
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}
