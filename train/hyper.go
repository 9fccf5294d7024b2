// Package train runs supervised pretraining followed by virtual adversarial
// training of the classifier, logging six metrics per epoch.
package train

import (
	"fmt"

	"github.com/ieee0824/vatformer/model"
)

// Hyperparameters drive one training run. Values are copied, never mutated.
type Hyperparameters struct {
	Width          int
	Heads          []int
	Classes        int
	InputShape     [2]int
	BatchSize      int
	Epochs         int
	LearningRate   float64
	WarmupSteps    int
	PretrainEpochs int
	Epsilon        float64 // adversarial perturbation norm
	Alpha          float64 // smoothness penalty weight
}

// DefaultHyperparameters returns the tuned fold-1 setting of the 10-fold experiment.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Width:          64,
		Heads:          []int{64, 32},
		Classes:        5,
		InputShape:     [2]int{137, 15},
		BatchSize:      32,
		Epochs:         2000,
		LearningRate:   0.0376087962339086,
		WarmupSteps:    3282,
		PretrainEpochs: 5,
		Epsilon:        49.5219842550157,
		Alpha:          3.76978313949224,
	}
}

// ModelConfig returns the architecture part of h.
func (h Hyperparameters) ModelConfig() model.Config {
	return model.Config{
		Width:      h.Width,
		Heads:      append([]int(nil), h.Heads...),
		Classes:    h.Classes,
		InputShape: h.InputShape,
		BatchSize:  h.BatchSize,
	}
}

// Validate checks the training settings and the architecture.
func (h Hyperparameters) Validate() error {
	if h.Epochs < 0 || h.PretrainEpochs < 0 {
		return fmt.Errorf("train: negative epoch count (epochs=%d pretrain=%d)", h.Epochs, h.PretrainEpochs)
	}
	if h.LearningRate <= 0 || h.WarmupSteps <= 0 {
		return fmt.Errorf("train: learning rate %g and warmup %d must be positive", h.LearningRate, h.WarmupSteps)
	}
	if h.Epsilon < 0 || h.Alpha < 0 {
		return fmt.Errorf("train: epsilon %g and alpha %g must not be negative", h.Epsilon, h.Alpha)
	}
	return h.ModelConfig().Validate()
}

// Tuple returns the values in the order
// (width, heads, classes, input shape, batch, epochs, lr, warmup, pretrain, eps, alpha).
func (h Hyperparameters) Tuple() []any {
	return []any{
		h.Width, append([]int(nil), h.Heads...), h.Classes, h.InputShape, h.BatchSize,
		h.Epochs, h.LearningRate, h.WarmupSteps, h.PretrainEpochs, h.Epsilon, h.Alpha,
	}
}

func (h Hyperparameters) String() string {
	return fmt.Sprintf("(%d, %v, %d, (%d, %d), %d, %d, %g, %d, %d, %g, %g)",
		h.Width, h.Heads, h.Classes, h.InputShape[0], h.InputShape[1], h.BatchSize,
		h.Epochs, h.LearningRate, h.WarmupSteps, h.PretrainEpochs, h.Epsilon, h.Alpha)
}
