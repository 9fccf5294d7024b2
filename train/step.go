package train

import (
	"fmt"

	"github.com/ieee0824/vatformer/autodiff"
	"github.com/ieee0824/vatformer/internal/mathutil"
	"github.com/ieee0824/vatformer/optim"
)

// Model is a trainable probability model.
type Model interface {
	autodiff.Function
	Params() []*autodiff.Tensor
}

// LossFunc records a scalar supervised loss for probabilities p on tp.
type LossFunc func(tp *autodiff.Tape, p *autodiff.Tensor, labels []int) *autodiff.Tensor

// CrossEntropy is the sparse categorical cross-entropy on probabilities.
func CrossEntropy(tp *autodiff.Tape, p *autodiff.Tensor, labels []int) *autodiff.Tensor {
	return tp.CrossEntropy(p, labels)
}

// Regularizer adds a penalty to the supervised loss of a step.
// Penalty receives the clean outputs recorded on tp and returns a scalar
// recorded on the same tape; Weight scales it for a batch of the given size.
type Regularizer interface {
	Penalty(tp *autodiff.Tape, m autodiff.Function, x, clean *autodiff.Tensor) (*autodiff.Tensor, error)
	Weight(batchSize int) float64
}

// StepResult holds the scalars of one update.
type StepResult struct {
	Loss       float64 // total objective
	Smoothness float64 // unweighted penalty, 0 without a regularizer
	Accuracy   float64 // accuracy of the clean outputs on this batch only
}

// Step applies one optimizer update for batch (x, y). With a nil reg it is
// plain supervised training.
func Step(m Model, opt *optim.Adam, loss LossFunc, reg Regularizer, x *autodiff.Tensor, y []int) (StepResult, error) {
	tp := autodiff.NewTape()
	clean := m.Forward(tp, x)
	total := loss(tp, clean, y)

	var res StepResult
	if reg != nil {
		l, err := reg.Penalty(tp, m, x, clean)
		if err != nil {
			opt.ZeroGrad()
			return StepResult{}, fmt.Errorf("train: penalty: %w", err)
		}
		res.Smoothness = l.Item()
		total = tp.Combine(total, 1, l, reg.Weight(len(y)))
	}
	if err := tp.Backward(total); err != nil {
		opt.ZeroGrad()
		return StepResult{}, fmt.Errorf("train: backward: %w", err)
	}
	opt.Step()

	res.Loss = total.Item()
	res.Accuracy = Accuracy(clean.Data, y)
	return res, nil
}

// Accuracy returns the fraction of rows of the flat probability matrix p
// whose argmax equals the label.
func Accuracy(p []float64, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	k := len(p) / len(labels)
	correct := 0
	for r, lbl := range labels {
		if mathutil.Argmax(p[r*k:(r+1)*k]) == lbl {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}
