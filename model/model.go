// Package model assembles the attention classifier: a positional embedding,
// one self-attention + distilling feed-forward block per head count,
// mean pooling over time and a softmax head.
package model

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/ieee0824/vatformer/autodiff"
)

// Config describes the classifier architecture.
type Config struct {
	Width      int    // model width D
	Heads      []int  // one attention block per entry
	Classes    int    // output classes
	InputShape [2]int // time steps, coefficients per step
	BatchSize  int    // inference chunk size used by Predict
}

// DefaultConfig returns the architecture used for the MFCC experiments.
func DefaultConfig() Config {
	return Config{
		Width:      64,
		Heads:      []int{64, 32},
		Classes:    5,
		InputShape: [2]int{137, 15},
		BatchSize:  32,
	}
}

// ErrInvalidConfig is wrapped by every error New returns for a bad Config.
var ErrInvalidConfig = errors.New("model: invalid config")

// Validate checks that the architecture can be built for its input shape.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Classes <= 0 || c.BatchSize <= 0:
		return fmt.Errorf("%w: width=%d classes=%d batch=%d", ErrInvalidConfig, c.Width, c.Classes, c.BatchSize)
	case c.InputShape[0] <= 0 || c.InputShape[1] <= 0:
		return fmt.Errorf("%w: input shape %v", ErrInvalidConfig, c.InputShape)
	case c.Width%2 != 0:
		return fmt.Errorf("%w: width %d must be even for the positional table", ErrInvalidConfig, c.Width)
	case c.InputShape[0] > maxPositions:
		return fmt.Errorf("%w: %d time steps exceed %d positions", ErrInvalidConfig, c.InputShape[0], maxPositions)
	case len(c.Heads) == 0:
		return fmt.Errorf("%w: no attention blocks", ErrInvalidConfig)
	}
	for i, h := range c.Heads {
		if h <= 0 || c.Width%h != 0 {
			return fmt.Errorf("%w: block %d: %d heads do not divide width %d", ErrInvalidConfig, i, h, c.Width)
		}
	}
	steps := c.StepsPerBlock()
	if last := steps[len(steps)-1]; last < 1 {
		return fmt.Errorf("%w: %d input steps collapse to zero after %d blocks", ErrInvalidConfig, c.InputShape[0], len(c.Heads))
	}
	return nil
}

// StepsPerBlock returns the time-axis length after each block.
// For the default 137 input steps this is [68 33].
func (c Config) StepsPerBlock() []int {
	steps := make([]int, len(c.Heads))
	n := c.InputShape[0]
	for i := range c.Heads {
		n = autodiff.PooledLen(n, poolSize, poolStride)
		steps[i] = n
	}
	return steps
}

type block struct {
	attn *selfAttention
	ff   *feedForward
}

// Classifier maps [B, T, F] feature batches to [B, Classes] probabilities.
type Classifier struct {
	cfg    Config
	embed  *positionalEmbedding
	blocks []block
	head   dense
}

// New builds a classifier with Xavier-initialised weights drawn from rng.
func New(cfg Config, rng *rand.Rand) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Heads = append([]int(nil), cfg.Heads...)
	c := &Classifier{
		cfg:   cfg,
		embed: newPositionalEmbedding(rng, cfg.InputShape[1], cfg.Width),
		head:  newDense(rng, cfg.Width, cfg.Classes),
	}
	for _, h := range cfg.Heads {
		c.blocks = append(c.blocks, block{
			attn: newSelfAttention(rng, cfg.Width, h),
			ff:   newFeedForward(rng, cfg.Width),
		})
	}
	return c, nil
}

// Config returns a copy of the architecture.
func (c *Classifier) Config() Config {
	cfg := c.cfg
	cfg.Heads = append([]int(nil), c.cfg.Heads...)
	return cfg
}

// Forward runs the classifier. x must be [B, T, F] matching the configured
// input shape. With a nil tape nothing is recorded.
func (c *Classifier) Forward(tp *autodiff.Tape, x *autodiff.Tensor) *autodiff.Tensor {
	if len(x.Shape) != 3 || x.Shape[1] != c.cfg.InputShape[0] || x.Shape[2] != c.cfg.InputShape[1] {
		panic(fmt.Sprintf("model: input %v does not match [B %d %d]", x.Shape, c.cfg.InputShape[0], c.cfg.InputShape[1]))
	}
	h := c.embed.forward(tp, x)
	for _, b := range c.blocks {
		h = b.attn.forward(tp, h)
		h = b.ff.forward(tp, h)
	}
	h = tp.MeanTime(h)
	return tp.Softmax(c.head.forward(tp, h))
}

// Params returns every trainable tensor in a fixed order.
func (c *Classifier) Params() []*autodiff.Tensor {
	ps := c.embed.proj.params()
	for _, b := range c.blocks {
		ps = append(ps, b.attn.params()...)
		ps = append(ps, b.ff.params()...)
	}
	return append(ps, c.head.params()...)
}

// NumParams returns the total number of trainable weights.
func (c *Classifier) NumParams() int {
	n := 0
	for _, p := range c.Params() {
		n += p.Size()
	}
	return n
}

// Weights returns a deep copy of the parameter values in Params order.
func (c *Classifier) Weights() [][]float64 {
	ps := c.Params()
	ws := make([][]float64, len(ps))
	for i, p := range ps {
		ws[i] = append([]float64(nil), p.Data...)
	}
	return ws
}

// SetWeights overwrites the parameter values with ws, as returned by Weights.
func (c *Classifier) SetWeights(ws [][]float64) error {
	ps := c.Params()
	if len(ws) != len(ps) {
		return fmt.Errorf("model: %d weight tensors, want %d", len(ws), len(ps))
	}
	for i, p := range ps {
		if len(ws[i]) != p.Size() {
			return fmt.Errorf("model: weight tensor %d has %d values, want %d", i, len(ws[i]), p.Size())
		}
	}
	for i, p := range ps {
		copy(p.Data, ws[i])
	}
	return nil
}

// Predict runs inference over x, a flat buffer of whole examples, in chunks
// of BatchSize and returns the flat [N × Classes] probabilities.
func (c *Classifier) Predict(x []float64) ([]float64, error) {
	T, F := c.cfg.InputShape[0], c.cfg.InputShape[1]
	per := T * F
	if len(x)%per != 0 {
		return nil, fmt.Errorf("model: %d values is not a whole number of %dx%d examples", len(x), T, F)
	}
	n := len(x) / per
	out := make([]float64, 0, n*c.cfg.Classes)
	for start := 0; start < n; start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, n)
		batch := autodiff.FromSlice(x[start*per:end*per], end-start, T, F)
		out = append(out, c.Forward(nil, batch).Data...)
	}
	return out, nil
}
