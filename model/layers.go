package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/vatformer/autodiff"
)

// dense is a fully-connected layer. W is [out × in] row-major, B is [out].
type dense struct {
	W *autodiff.Tensor
	B *autodiff.Tensor
}

func newDense(rng *rand.Rand, in, out int) dense {
	d := dense{W: autodiff.NewParam(out, in), B: autodiff.NewParam(out)}
	xavierInit(rng, d.W.Data, in, out)
	return d
}

func xavierInit(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	scale := math.Sqrt(2.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
}

func (d dense) forward(tp *autodiff.Tape, x *autodiff.Tensor) *autodiff.Tensor {
	return tp.Linear(x, d.W, d.B)
}

func (d dense) params() []*autodiff.Tensor { return []*autodiff.Tensor{d.W, d.B} }

// maxPositions is the length of the precomputed sinusoidal table.
const maxPositions = 2048

// positionalTable returns a [length × depth] table whose first depth/2
// columns are sin(pos·rate) and last depth/2 columns are cos(pos·rate),
// with rate = 1/10000^(i/(depth/2)).
func positionalTable(length, depth int) *mat.Dense {
	half := depth / 2
	table := mat.NewDense(length, depth, nil)
	for pos := 0; pos < length; pos++ {
		for i := 0; i < half; i++ {
			angle := float64(pos) / math.Pow(10000, float64(i)/float64(half))
			table.Set(pos, i, math.Sin(angle))
			table.Set(pos, half+i, math.Cos(angle))
		}
	}
	return table
}

// positionalEmbedding projects each frame to the model width (a kernel-1
// convolution), scales by √width and adds the sinusoidal table.
type positionalEmbedding struct {
	proj  dense
	width int
	table *mat.Dense
}

func newPositionalEmbedding(rng *rand.Rand, coeffs, width int) *positionalEmbedding {
	return &positionalEmbedding{
		proj:  newDense(rng, coeffs, width),
		width: width,
		table: positionalTable(maxPositions, width),
	}
}

func (p *positionalEmbedding) forward(tp *autodiff.Tape, x *autodiff.Tensor) *autodiff.Tensor {
	steps := x.Dim(1)
	h := p.proj.forward(tp, x)
	h = tp.Scale(h, math.Sqrt(float64(p.width)))
	raw := p.table.RawMatrix()
	return tp.AddConst(h, raw.Data[:steps*raw.Stride])
}

// selfAttention projects to queries, keys and values, attends over time
// with the given number of heads and projects back to the model width.
type selfAttention struct {
	q, k, v, o dense
	heads      int
}

func newSelfAttention(rng *rand.Rand, width, heads int) *selfAttention {
	return &selfAttention{
		q:     newDense(rng, width, width),
		k:     newDense(rng, width, width),
		v:     newDense(rng, width, width),
		o:     newDense(rng, width, width),
		heads: heads,
	}
}

func (a *selfAttention) forward(tp *autodiff.Tape, x *autodiff.Tensor) *autodiff.Tensor {
	q := a.q.forward(tp, x)
	k := a.k.forward(tp, x)
	v := a.v.forward(tp, x)
	return a.o.forward(tp, tp.Attention(q, k, v, a.heads))
}

func (a *selfAttention) params() []*autodiff.Tensor {
	var ps []*autodiff.Tensor
	for _, d := range []dense{a.q, a.k, a.v, a.o} {
		ps = append(ps, d.params()...)
	}
	return ps
}

// Distilling convolution geometry: causal kernel, then max-pool window and stride.
const (
	convKernel = 3
	poolSize   = 3
	poolStride = 2
)

// feedForward distils the sequence (causal conv → ELU → max-pool, roughly
// halving its length), then applies a GELU dense layer with a residual
// connection, a second dense layer and layer normalisation.
type feedForward struct {
	conv   dense
	dense1 dense
	dense2 dense
	gamma  *autodiff.Tensor
	beta   *autodiff.Tensor
}

func newFeedForward(rng *rand.Rand, width int) *feedForward {
	f := &feedForward{
		conv:   newDense(rng, convKernel*width, width),
		dense1: newDense(rng, width, width),
		dense2: newDense(rng, width, width),
		gamma:  autodiff.NewParam(width),
		beta:   autodiff.NewParam(width),
	}
	for i := range f.gamma.Data {
		f.gamma.Data[i] = 1.0
	}
	return f
}

func (f *feedForward) forward(tp *autodiff.Tape, x *autodiff.Tensor) *autodiff.Tensor {
	h := f.conv.forward(tp, tp.CausalWindow(x, convKernel))
	h = tp.ELU(h)
	h = tp.MaxPool(h, poolSize, poolStride)
	h = tp.Add(tp.GELU(f.dense1.forward(tp, h)), h)
	h = f.dense2.forward(tp, h)
	return tp.LayerNorm(h, f.gamma, f.beta)
}

func (f *feedForward) params() []*autodiff.Tensor {
	ps := append(f.conv.params(), f.dense1.params()...)
	ps = append(ps, f.dense2.params()...)
	return append(ps, f.gamma, f.beta)
}
