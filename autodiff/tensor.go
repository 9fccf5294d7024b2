// Package autodiff implements a small reverse-mode differentiation tape over
// flat row-major float64 tensors. Matrix products go through internal/blas;
// everything else is written out as explicit loops.
package autodiff

import (
	"errors"
	"fmt"
)

// Tensor is a dense row-major array.
// Grad is nil for constants; parameters and watched inputs carry a gradient buffer
// of the same length as Data.
type Tensor struct {
	Data  []float64
	Grad  []float64
	Shape []int
	param bool
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New returns a zero-filled constant tensor.
func New(shape ...int) *Tensor {
	return &Tensor{Data: make([]float64, numel(shape)), Shape: append([]int(nil), shape...)}
}

// FromSlice wraps data as a constant tensor. It panics if len(data) does not match shape.
func FromSlice(data []float64, shape ...int) *Tensor {
	if len(data) != numel(shape) {
		panic(fmt.Sprintf("autodiff: %d values for shape %v", len(data), shape))
	}
	return &Tensor{Data: data, Shape: append([]int(nil), shape...)}
}

// NewParam returns a zero-filled trainable parameter.
func NewParam(shape ...int) *Tensor {
	t := New(shape...)
	t.Grad = make([]float64, len(t.Data))
	t.param = true
	return t
}

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Dim returns the size of axis i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// IsParam reports whether t was created by NewParam.
func (t *Tensor) IsParam() bool { return t.param }

// RequireGrad allocates a gradient buffer so the tensor is tracked by a tape.
func (t *Tensor) RequireGrad() *Tensor {
	if t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
	return t
}

// ZeroGrad clears the gradient buffer, if any.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// Item returns the first element; used for scalar losses.
func (t *Tensor) Item() float64 { return t.Data[0] }

// Clone returns a constant deep copy of the values.
func (t *Tensor) Clone() *Tensor {
	return FromSlice(append([]float64(nil), t.Data...), t.Shape...)
}

// Rows splits the tensor into its leading-axis slices without copying.
func (t *Tensor) Rows() [][]float64 {
	n := t.Shape[0]
	if n == 0 {
		return nil
	}
	w := len(t.Data) / n
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = t.Data[i*w : (i+1)*w]
	}
	return rows
}

// Tape records the backward closures of the ops evaluated through it.
// A nil *Tape is valid and means inference: nothing is recorded and
// outputs carry no gradient buffers.
type Tape struct {
	backward     []func()
	freezeParams bool
}

// NewTape returns an empty tape.
func NewTape() *Tape { return &Tape{} }

// FreezeParams makes the tape ignore parameter tensors, so only
// non-parameter inputs with gradient buffers receive gradients.
func (tp *Tape) FreezeParams() *Tape {
	tp.freezeParams = true
	return tp
}

// Len returns the number of recorded ops.
func (tp *Tape) Len() int {
	if tp == nil {
		return 0
	}
	return len(tp.backward)
}

func (tp *Tape) tracks(t *Tensor) bool {
	if tp == nil || t == nil || t.Grad == nil {
		return false
	}
	return !(tp.freezeParams && t.param)
}

// out allocates an op result. The result gets a gradient buffer when any
// input is tracked; the returned bool says whether a backward closure is needed.
func (tp *Tape) out(shape []int, inputs ...*Tensor) (*Tensor, bool) {
	y := New(shape...)
	for _, in := range inputs {
		if tp.tracks(in) {
			y.Grad = make([]float64, len(y.Data))
			return y, true
		}
	}
	return y, false
}

func (tp *Tape) push(fn func()) {
	tp.backward = append(tp.backward, fn)
}

// Function is a differentiable map evaluated through a tape, such as a model.
type Function interface {
	Forward(tp *Tape, x *Tensor) *Tensor
}

// ErrNotScalar is returned by Backward when the loss has more than one element.
var ErrNotScalar = errors.New("autodiff: backward from non-scalar tensor")

// Backward seeds d(loss)/d(loss) = 1 and runs the recorded closures in reverse.
// The tape is emptied afterwards.
func (tp *Tape) Backward(loss *Tensor) error {
	if tp == nil {
		return errors.New("autodiff: backward on nil tape")
	}
	if loss.Size() != 1 {
		return ErrNotScalar
	}
	if loss.Grad == nil {
		return errors.New("autodiff: loss does not depend on any tracked tensor")
	}
	loss.Grad[0] = 1
	for i := len(tp.backward) - 1; i >= 0; i-- {
		tp.backward[i]()
	}
	tp.backward = tp.backward[:0]
	return nil
}

// Reshape returns a view of x with a new shape sharing data and gradient.
func Reshape(x *Tensor, shape ...int) *Tensor {
	if numel(shape) != len(x.Data) {
		panic(fmt.Sprintf("autodiff: cannot reshape %v to %v", x.Shape, shape))
	}
	return &Tensor{Data: x.Data, Grad: x.Grad, Shape: append([]int(nil), shape...), param: x.param}
}
