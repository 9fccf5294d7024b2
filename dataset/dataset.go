// Package dataset holds MFCC feature tensors and class labels in memory and
// reads and writes them as numpy .npz archives.
package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/ieee0824/vatformer/autodiff"
)

// Dataset is a set of fixed-shape examples. X holds N·Steps·Coeffs values
// row-major; Y holds N labels. Sub-ranges returned by Slice share the
// backing arrays and must not be written to.
type Dataset struct {
	X      []float64
	Y      []int
	Steps  int
	Coeffs int
}

// New checks that x holds len(y) examples of steps×coeffs values.
func New(x []float64, y []int, steps, coeffs int) (*Dataset, error) {
	if steps <= 0 || coeffs <= 0 {
		return nil, fmt.Errorf("dataset: invalid example shape (%d, %d)", steps, coeffs)
	}
	if len(x) != len(y)*steps*coeffs {
		return nil, fmt.Errorf("dataset: %d feature values for %d examples of (%d, %d)", len(x), len(y), steps, coeffs)
	}
	for i, lbl := range y {
		if lbl < 0 {
			return nil, fmt.Errorf("dataset: example %d has negative label %d", i, lbl)
		}
	}
	return &Dataset{X: x, Y: y, Steps: steps, Coeffs: coeffs}, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Y) }

// ExampleSize returns Steps·Coeffs.
func (d *Dataset) ExampleSize() int { return d.Steps * d.Coeffs }

// Example returns the features of example i without copying.
func (d *Dataset) Example(i int) []float64 {
	n := d.ExampleSize()
	return d.X[i*n : (i+1)*n]
}

// Classes returns one more than the largest label, or 0 when empty.
func (d *Dataset) Classes() int {
	k := 0
	for _, y := range d.Y {
		if y+1 > k {
			k = y + 1
		}
	}
	return k
}

// Slice returns examples [lo, hi) sharing storage with d.
func (d *Dataset) Slice(lo, hi int) *Dataset {
	if lo < 0 || hi > d.Len() || lo > hi {
		panic(fmt.Sprintf("dataset: slice [%d:%d] of %d examples", lo, hi, d.Len()))
	}
	n := d.ExampleSize()
	return &Dataset{X: d.X[lo*n : hi*n], Y: d.Y[lo:hi], Steps: d.Steps, Coeffs: d.Coeffs}
}

// Concat copies parts, in order, into a new dataset.
func Concat(parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("dataset: nothing to concatenate")
	}
	steps, coeffs := parts[0].Steps, parts[0].Coeffs
	var x []float64
	var y []int
	for i, p := range parts {
		if p.Steps != steps || p.Coeffs != coeffs {
			return nil, fmt.Errorf("dataset: part %d has shape (%d, %d), want (%d, %d)", i, p.Steps, p.Coeffs, steps, coeffs)
		}
		x = append(x, p.X...)
		y = append(y, p.Y...)
	}
	return &Dataset{X: x, Y: y, Steps: steps, Coeffs: coeffs}, nil
}

// Batch gathers the examples at idx into a [len(idx), Steps, Coeffs] tensor.
func (d *Dataset) Batch(idx []int) (*autodiff.Tensor, []int) {
	n := d.ExampleSize()
	x := autodiff.New(len(idx), d.Steps, d.Coeffs)
	y := make([]int, len(idx))
	for b, i := range idx {
		copy(x.Data[b*n:(b+1)*n], d.Example(i))
		y[b] = d.Y[i]
	}
	return x, y
}

// Batches splits the example indices into batches of size. With a non-nil
// rng the order is shuffled. A short final batch is dropped when
// dropRemainder is set.
func (d *Dataset) Batches(size int, rng *rand.Rand, dropRemainder bool) [][]int {
	if size <= 0 {
		panic(fmt.Sprintf("dataset: batch size %d", size))
	}
	order := make([]int, d.Len())
	for i := range order {
		order[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	var batches [][]int
	for start := 0; start < len(order); start += size {
		end := start + size
		if end > len(order) {
			if dropRemainder {
				break
			}
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

// Synthetic returns n examples whose labels cycle through classes, so every
// contiguous range is close to balanced. Each example is unit Gaussian
// noise plus a class-dependent offset on every classes-th coefficient.
func Synthetic(n, steps, coeffs, classes int, rng *rand.Rand) *Dataset {
	d := &Dataset{
		X:      make([]float64, n*steps*coeffs),
		Y:      make([]int, n),
		Steps:  steps,
		Coeffs: coeffs,
	}
	for i := 0; i < n; i++ {
		lbl := i % classes
		d.Y[i] = lbl
		ex := d.Example(i)
		for j := range ex {
			ex[j] = rng.NormFloat64()
			if (j%coeffs)%classes == lbl {
				ex[j] += 1.5
			}
		}
	}
	return d
}
