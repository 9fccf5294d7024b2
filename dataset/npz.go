package dataset

import (
	"errors"
	"fmt"
	"os"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// Archive is the content of a feature archive. Archives holding X and Y
// fill All; archives holding x_train, y_train, x_test and y_test fill Train
// and Test.
type Archive struct {
	All   *Dataset
	Train *Dataset
	Test  *Dataset
}

// Presplit reports whether the archive carried its own train/test split.
func (a *Archive) Presplit() bool { return a.Train != nil }

// ErrMissingKey is wrapped when an archive lacks a required array.
var ErrMissingKey = errors.New("dataset: missing archive key")

// Load reads a feature archive. X may be (N, T, F), or (N, T·F) together
// with a "shape" array holding [T, F]. Float and integer dtypes are accepted
// for both features and labels.
func Load(path string) (*Archive, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer r.Close()

	ar := archiveReader{r: r, keys: r.Keys()}
	if ar.has("X") {
		all, err := ar.dataset("X", "Y")
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
		return &Archive{All: all}, nil
	}
	if ar.has("x_train") {
		train, err := ar.dataset("x_train", "y_train")
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
		test, err := ar.dataset("x_test", "y_test")
		if err != nil {
			return nil, fmt.Errorf("dataset: %s: %w", path, err)
		}
		if train.Steps != test.Steps || train.Coeffs != test.Coeffs {
			return nil, fmt.Errorf("dataset: %s: train shape (%d, %d) differs from test (%d, %d)",
				path, train.Steps, train.Coeffs, test.Steps, test.Coeffs)
		}
		return &Archive{Train: train, Test: test}, nil
	}
	return nil, fmt.Errorf("%w: %s has neither X nor x_train (keys %v)", ErrMissingKey, path, ar.keys)
}

// Save writes d as X (N, T·F), Y and shape [T, F].
func Save(path string, d *Dataset) error {
	if d.Len() == 0 {
		return fmt.Errorf("dataset: refusing to save an empty dataset to %s", path)
	}
	w, err := npz.Create(path)
	if err != nil {
		return err
	}
	y := make([]int64, d.Len())
	for i, v := range d.Y {
		y[i] = int64(v)
	}
	x := mat.NewDense(d.Len(), d.ExampleSize(), d.X)
	for _, kv := range []struct {
		key string
		val any
	}{
		{"X", x},
		{"Y", y},
		{"shape", []int64{int64(d.Steps), int64(d.Coeffs)}},
	} {
		if err := w.Write(kv.key, kv.val); err != nil {
			w.Close()
			os.Remove(path)
			return fmt.Errorf("dataset: write %s to %s: %w", kv.key, path, err)
		}
	}
	return w.Close()
}

type archiveReader struct {
	r    *npz.Reader
	keys []string
}

// key resolves name with or without the .npy suffix.
func (a archiveReader) key(name string) (string, bool) {
	for _, k := range a.keys {
		if k == name || k == name+".npy" {
			return k, true
		}
	}
	return "", false
}

func (a archiveReader) has(name string) bool {
	_, ok := a.key(name)
	return ok
}

func (a archiveReader) dataset(xName, yName string) (*Dataset, error) {
	x, shape, err := a.floats(xName)
	if err != nil {
		return nil, err
	}
	yf, _, err := a.floats(yName)
	if err != nil {
		return nil, err
	}
	y := make([]int, len(yf))
	for i, v := range yf {
		y[i] = int(v)
	}

	var steps, coeffs int
	switch len(shape) {
	case 3:
		steps, coeffs = shape[1], shape[2]
	case 2:
		dims, _, err := a.floats("shape")
		if err != nil {
			return nil, fmt.Errorf("%s is 2-D: %w", xName, err)
		}
		if len(dims) != 2 {
			return nil, fmt.Errorf("shape array has %d entries, want 2", len(dims))
		}
		steps, coeffs = int(dims[0]), int(dims[1])
	default:
		return nil, fmt.Errorf("%s has shape %v, want (N, T, F)", xName, shape)
	}
	if shape[0] != len(y) {
		return nil, fmt.Errorf("%s has %d examples but %s has %d labels", xName, shape[0], yName, len(y))
	}
	return New(x, y, steps, coeffs)
}

// floats reads an array of any supported dtype as float64.
func (a archiveReader) floats(name string) ([]float64, []int, error) {
	key, ok := a.key(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingKey, name)
	}
	hdr := a.r.Header(key)
	if hdr == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingKey, name)
	}
	if hdr.Descr.Fortran {
		return nil, nil, fmt.Errorf("%s is Fortran-ordered", name)
	}
	shape := hdr.Descr.Shape

	switch hdr.Descr.Type {
	case "<f8":
		var v []float64
		err := a.r.Read(key, &v)
		return v, shape, err
	case "<f4":
		var v []float32
		if err := a.r.Read(key, &v); err != nil {
			return nil, nil, err
		}
		return convert(v), shape, nil
	case "<i8":
		var v []int64
		if err := a.r.Read(key, &v); err != nil {
			return nil, nil, err
		}
		return convert(v), shape, nil
	case "<i4":
		var v []int32
		if err := a.r.Read(key, &v); err != nil {
			return nil, nil, err
		}
		return convert(v), shape, nil
	case "|u1":
		var v []uint8
		if err := a.r.Read(key, &v); err != nil {
			return nil, nil, err
		}
		return convert(v), shape, nil
	}
	return nil, nil, fmt.Errorf("%s has unsupported dtype %q", name, hdr.Descr.Type)
}

func convert[T float32 | int64 | int32 | uint8](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
