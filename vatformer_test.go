package vatformer

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/vatformer/audio"
	"github.com/ieee0824/vatformer/model"
)

func testModel(t *testing.T) *model.Classifier {
	t.Helper()
	cfg := model.Config{
		Width:      8,
		Heads:      []int{2},
		Classes:    3,
		InputShape: [2]int{40, 13},
		BatchSize:  4,
	}
	return must.M1(model.New(cfg, rand.New(rand.NewPCG(1, 2))))
}

func tone(n, rate int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 0.5*math.Sin(2*math.Pi*440*float64(i)/float64(rate)) + 0.01*math.Sin(float64(i*i)/1000)
	}
	return s
}

func TestClassifyFile(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.gob")
	must.M(testModel(t).SaveFile(ckpt))
	wav := filepath.Join(dir, "clip.wav")
	must.M(audio.WriteWAVFile(wav, tone(8000, 16000), 16000))

	c := must.M1(NewClassifier(ckpt, WithLabels("a", "b", "c")))
	if c.FeatCfg.Frames != 40 || c.FeatCfg.NumCepstra != 13 {
		t.Fatalf("feature shape = %dx%d, want 40x13", c.FeatCfg.Frames, c.FeatCfg.NumCepstra)
	}
	pred := must.M1(c.ClassifyFile(wav))
	if len(pred.Probs) != 3 || math.Abs(floats.Sum(pred.Probs)-1) > 1e-9 {
		t.Errorf("probs = %v", pred.Probs)
	}
	if pred.Class != floats.MaxIdx(pred.Probs) || pred.Label != c.Labels[pred.Class] {
		t.Errorf("prediction = %+v", pred)
	}
}

func TestClassifySamples_Resamples(t *testing.T) {
	c := must.M1(NewClassifierFromModel(testModel(t)))
	at8k := must.M1(c.ClassifySamples(tone(4000, 8000), 8000))
	if len(at8k.Probs) != 3 || at8k.Label != "" {
		t.Errorf("prediction = %+v", at8k)
	}
	if _, err := c.ClassifySamples(make([]float64, 10), 16000); err == nil {
		t.Error("accepted a clip shorter than one frame")
	}
}

func TestClassifyFeatures(t *testing.T) {
	m := testModel(t)
	c := must.M1(NewClassifierFromModel(m))
	x := make([]float64, 5*40*13)
	rng := rand.New(rand.NewPCG(3, 4))
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	preds := must.M1(c.ClassifyFeatures(x))
	if len(preds) != 5 {
		t.Fatalf("got %d predictions, want 5", len(preds))
	}
	probs := must.M1(m.Predict(x))
	for i, p := range preds {
		if !floats.Equal(p.Probs, probs[i*3:(i+1)*3]) {
			t.Errorf("prediction %d probs differ from model output", i)
		}
	}
	if _, err := c.ClassifyFeatures(x[:7]); err == nil {
		t.Error("accepted a partial matrix")
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	if _, err := NewClassifier(filepath.Join(t.TempDir(), "missing.gob")); err == nil {
		t.Error("loaded a missing checkpoint")
	}
	if _, err := NewClassifierFromModel(testModel(t), WithLabels("only-one")); err == nil {
		t.Error("accepted one label for three classes")
	}
}
