package mathutil

import (
	"math"
	"testing"
)

func TestRowNorms(t *testing.T) {
	x := Vec{3, 4, 0, 0, 0, 0, 1, 0}
	got := RowNorms(x, 2)
	want := Vec{5, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("norm[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestScaleRows(t *testing.T) {
	x := Vec{1, 2, 3, 4}
	ScaleRows(x, Vec{2, -1})
	want := Vec{2, 4, -3, -4}
	for i := range want {
		if x[i] != want[i] {
			t.Errorf("x[%d] = %f, want %f", i, x[i], want[i])
		}
	}
}

func TestArgmax_FirstOnTie(t *testing.T) {
	if got := Argmax(Vec{0.1, 0.4, 0.4, 0.1}); got != 1 {
		t.Errorf("Argmax = %d, want 1", got)
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		v, want float64
	}{
		{-1, 0},
		{0.5, 0.5},
		{2, 1},
	}
	for _, tt := range tests {
		if got := Clip(tt.v, 0, 1); got != tt.want {
			t.Errorf("Clip(%f) = %f, want %f", tt.v, got, tt.want)
		}
	}
}
