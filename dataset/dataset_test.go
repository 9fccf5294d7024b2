package dataset

import (
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	d := Synthetic(12, 6, 3, 4, rng)
	path := filepath.Join(t.TempDir(), "mfcc.npz")
	must.M(Save(path, d))

	ar := must.M1(Load(path))
	if ar.Presplit() {
		t.Fatal("archive reported as pre-split")
	}
	got := ar.All
	if got.Len() != 12 || got.Steps != 6 || got.Coeffs != 3 {
		t.Fatalf("loaded %d examples of (%d, %d)", got.Len(), got.Steps, got.Coeffs)
	}
	if !floats.Equal(got.X, d.X) {
		t.Error("features differ after round trip")
	}
	for i := range d.Y {
		if got.Y[i] != d.Y[i] {
			t.Fatalf("Y[%d] = %d, want %d", i, got.Y[i], d.Y[i])
		}
	}
}

func TestLoad_Presplit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.npz")
	w := must.M1(npz.Create(path))
	must.M(w.Write("x_train", mat.NewDense(3, 4, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})))
	must.M(w.Write("y_train", []int64{0, 1, 2}))
	must.M(w.Write("x_test", mat.NewDense(1, 4, []float64{-1, -2, -3, -4})))
	must.M(w.Write("y_test", []int64{1}))
	must.M(w.Write("shape", []int64{2, 2}))
	must.M(w.Close())

	ar := must.M1(Load(path))
	if !ar.Presplit() {
		t.Fatal("archive not reported as pre-split")
	}
	if ar.Train.Len() != 3 || ar.Test.Len() != 1 {
		t.Fatalf("train %d, test %d examples", ar.Train.Len(), ar.Test.Len())
	}
	if ar.Test.Y[0] != 1 || ar.Test.Example(0)[3] != -4 {
		t.Errorf("test example = %v label %d", ar.Test.Example(0), ar.Test.Y[0])
	}
}

func TestLoad_MissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.npz")
	w := must.M1(npz.Create(path))
	must.M(w.Write("other", []float64{1}))
	must.M(w.Close())

	if _, err := Load(path); !errors.Is(err, ErrMissingKey) {
		t.Errorf("Load error = %v, want ErrMissingKey", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.npz")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}

func TestNew_RejectsMismatch(t *testing.T) {
	if _, err := New(make([]float64, 10), []int{0, 1}, 2, 3); err == nil {
		t.Error("New accepted 10 values for 2 examples of 6")
	}
	if _, err := New(make([]float64, 6), []int{-1}, 2, 3); err == nil {
		t.Error("New accepted a negative label")
	}
}

func TestSliceConcat(t *testing.T) {
	d := Synthetic(10, 2, 2, 5, rand.New(rand.NewPCG(2, 2)))
	head := d.Slice(0, 3)
	tail := d.Slice(7, 10)
	if &head.X[0] != &d.X[0] {
		t.Error("Slice copied the features")
	}
	joined := must.M1(Concat(head, tail))
	if joined.Len() != 6 {
		t.Fatalf("Concat len = %d, want 6", joined.Len())
	}
	if !floats.Equal(joined.Example(3), d.Example(7)) || joined.Y[5] != d.Y[9] {
		t.Error("Concat order is wrong")
	}
	joined.X[0] = 99
	if d.X[0] == 99 {
		t.Error("Concat shares storage with its parts")
	}
}

func TestBatches(t *testing.T) {
	d := Synthetic(10, 1, 1, 2, rand.New(rand.NewPCG(3, 3)))

	batches := d.Batches(4, nil, true)
	if len(batches) != 2 || batches[1][0] != 4 {
		t.Errorf("ordered batches = %v", batches)
	}
	if got := d.Batches(4, nil, false); len(got) != 3 || len(got[2]) != 2 {
		t.Errorf("batches with remainder = %v", got)
	}

	seen := map[int]bool{}
	for _, b := range d.Batches(5, rand.New(rand.NewPCG(4, 4)), true) {
		for _, i := range b {
			seen[i] = true
		}
	}
	if len(seen) != 10 {
		t.Errorf("shuffled batches cover %d of 10 examples", len(seen))
	}
}

func TestBatch_GathersExamples(t *testing.T) {
	d := Synthetic(5, 2, 3, 5, rand.New(rand.NewPCG(5, 5)))
	x, y := d.Batch([]int{4, 1})
	if x.Shape[0] != 2 || x.Shape[1] != 2 || x.Shape[2] != 3 {
		t.Fatalf("batch shape = %v", x.Shape)
	}
	if !floats.Equal(x.Data[:6], d.Example(4)) || y[0] != 4 || y[1] != 1 {
		t.Error("batch does not match the requested examples")
	}
}

func TestSynthetic_Balanced(t *testing.T) {
	d := Synthetic(1000, 137, 15, 5, rand.New(rand.NewPCG(6, 6)))
	counts := make([]int, 5)
	for _, y := range d.Y {
		counts[y]++
	}
	for c, n := range counts {
		if n != 200 {
			t.Errorf("class %d has %d examples, want 200", c, n)
		}
	}
	if d.Classes() != 5 {
		t.Errorf("Classes = %d", d.Classes())
	}
}
