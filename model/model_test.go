package model

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/vatformer/autodiff"
)

func smallConfig() Config {
	return Config{
		Width:      8,
		Heads:      []int{2, 1},
		Classes:    3,
		InputShape: [2]int{20, 4},
		BatchSize:  4,
	}
}

func randBatch(rng *rand.Rand, b int, cfg Config) *autodiff.Tensor {
	x := autodiff.New(b, cfg.InputShape[0], cfg.InputShape[1])
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	return x
}

func TestForward_RowsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	cfg := smallConfig()
	c := must.M1(New(cfg, rng))
	y := c.Forward(nil, randBatch(rng, 5, cfg))

	if len(y.Shape) != 2 || y.Shape[0] != 5 || y.Shape[1] != cfg.Classes {
		t.Fatalf("output shape = %v, want [5 %d]", y.Shape, cfg.Classes)
	}
	for r, row := range y.Rows() {
		if s := floats.Sum(row); math.Abs(s-1) > 1e-5 {
			t.Errorf("row %d sums to %f", r, s)
		}
	}
}

func TestDefaultConfig_StepsPerBlock(t *testing.T) {
	got := DefaultConfig().StepsPerBlock()
	want := []int{68, 33}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("StepsPerBlock = %v, want %v", got, want)
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"heads do not divide width", func(c *Config) { c.Heads = []int{3} }},
		{"no heads", func(c *Config) { c.Heads = nil }},
		{"zero classes", func(c *Config) { c.Classes = 0 }},
		{"odd width", func(c *Config) { c.Width = 7; c.Heads = []int{7} }},
		{"too few steps", func(c *Config) { c.InputShape = [2]int{6, 4} }},
		{"zero coefficients", func(c *Config) { c.InputShape[1] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mod(&cfg)
			_, err := New(cfg, rand.New(rand.NewPCG(1, 1)))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestForward_GradientReachesEveryParam(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	cfg := smallConfig()
	c := must.M1(New(cfg, rng))
	tp := autodiff.NewTape()
	p := c.Forward(tp, randBatch(rng, 4, cfg))
	loss := tp.CrossEntropy(p, []int{0, 1, 2, 0})
	must.M(tp.Backward(loss))

	// A key bias shifts every score in a row equally, so softmax ignores it.
	keyBias := map[*autodiff.Tensor]bool{}
	for _, b := range c.blocks {
		keyBias[b.attn.k.B] = true
	}
	for i, param := range c.Params() {
		if keyBias[param] {
			if n := floats.Norm(param.Grad, 2); n > 1e-9 {
				t.Errorf("key bias gradient norm = %g, want ~0", n)
			}
			continue
		}
		if floats.Norm(param.Grad, 2) == 0 {
			t.Errorf("param %d %v has zero gradient", i, param.Shape)
		}
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	cfg := smallConfig()
	c := must.M1(New(cfg, rng))

	var buf bytes.Buffer
	must.M(c.Save(&buf))
	loaded := must.M1(Load(&buf))

	if loaded.NumParams() != c.NumParams() {
		t.Fatalf("NumParams = %d, want %d", loaded.NumParams(), c.NumParams())
	}
	x := randBatch(rng, 3, cfg)
	want := c.Forward(nil, x).Data
	got := loaded.Forward(nil, x).Data
	if !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("loaded output = %v, want %v", got, want)
	}
}

func TestSetWeights_RejectsMismatch(t *testing.T) {
	c := must.M1(New(smallConfig(), rand.New(rand.NewPCG(1, 1))))
	ws := c.Weights()
	if err := c.SetWeights(ws[1:]); err == nil {
		t.Error("SetWeights accepted a short list")
	}
	ws[0] = ws[0][1:]
	if err := c.SetWeights(ws); err == nil {
		t.Error("SetWeights accepted a short tensor")
	}
}

func TestPredict_MatchesForward(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	cfg := smallConfig()
	c := must.M1(New(cfg, rng))
	x := randBatch(rng, 6, cfg) // two chunks with BatchSize 4

	got := must.M1(c.Predict(x.Data))
	want := c.Forward(nil, x).Data
	if !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("Predict = %v, want %v", got, want)
	}
	if _, err := c.Predict(x.Data[1:]); err == nil {
		t.Error("Predict accepted a partial example")
	}
}

func TestPositionalTable(t *testing.T) {
	table := positionalTable(4, 6)
	// position 0: sin half is 0, cos half is 1
	for i := 0; i < 3; i++ {
		if table.At(0, i) != 0 || table.At(0, 3+i) != 1 {
			t.Fatalf("row 0 = %v", table.RawRowView(0))
		}
	}
	if got, want := table.At(2, 0), math.Sin(2); math.Abs(got-want) > 1e-15 {
		t.Errorf("table[2,0] = %f, want %f", got, want)
	}
}
