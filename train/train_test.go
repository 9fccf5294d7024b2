package train

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/model"
	"github.com/ieee0824/vatformer/optim"
	"github.com/ieee0824/vatformer/vat"
)

func TestBestIndices_ExactTie(t *testing.T) {
	testAcc := []float64{0.5, 0.75, 0.25, 0.75}
	valLoss := []float64{0.25, 0.25, 0.5, 0.25}
	got := BestIndices(testAcc, valLoss, TieTolerance)
	if want := []int{1, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("BestIndices = %v, want %v", got, want)
	}
}

func TestSelectBest_ToleranceBand(t *testing.T) {
	scores := []float64{0.5, 0.5 - 5e-7, 0.5 - 2e-6, 0.1}
	got := SelectBest(scores, TieTolerance)
	if want := []int{0, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("SelectBest = %v, want %v", got, want)
	}
	if SelectBest(nil, TieTolerance) != nil {
		t.Error("SelectBest of nothing is not nil")
	}
}

func TestHyperparameters(t *testing.T) {
	hp := DefaultHyperparameters()
	if err := hp.Validate(); err != nil {
		t.Fatalf("default hyperparameters invalid: %v", err)
	}
	if got := len(hp.Tuple()); got != 11 {
		t.Errorf("Tuple has %d fields, want 11", got)
	}
	want := "(64, [64 32], 5, (137, 15), 32, 2000, 0.0376087962339086, 3282, 5, 49.5219842550157, 3.76978313949224)"
	if hp.String() != want {
		t.Errorf("String = %s", hp.String())
	}
	hp.Heads = []int{3}
	if hp.Validate() == nil {
		t.Error("3 heads over width 64 accepted")
	}
}

func smallHyper() Hyperparameters {
	return Hyperparameters{
		Width:          8,
		Heads:          []int{2},
		Classes:        3,
		InputShape:     [2]int{12, 3},
		BatchSize:      10,
		Epochs:         50,
		LearningRate:   0.01,
		WarmupSteps:    10,
		PretrainEpochs: 0,
		Epsilon:        1,
		Alpha:          1,
	}
}

func smallSplit(rng *rand.Rand) Split {
	d := dataset.Synthetic(60, 12, 3, 3, rng)
	return Split{Train: d.Slice(0, 40), Val: d.Slice(40, 50), Test: d.Slice(50, 60)}
}

func TestStep_Strategies(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	hp := smallHyper()
	m := must.M1(model.New(hp.ModelConfig(), rng))
	opt := optim.NewAdam(m.Params(), optim.Constant(0.01), optim.DefaultAdamConfig())
	d := dataset.Synthetic(10, 12, 3, 3, rng)
	x, y := d.Batch([]int{0, 1, 2, 3, 4, 5})

	before := m.Weights()
	plain := must.M1(Step(m, opt, CrossEntropy, nil, x, y))
	if plain.Smoothness != 0 || math.IsNaN(plain.Loss) || plain.Accuracy < 0 || plain.Accuracy > 1 {
		t.Errorf("plain step = %+v", plain)
	}
	if floats.Equal(m.Weights()[0], before[0]) {
		t.Error("plain step did not update the weights")
	}

	reg := &vat.VAT{Xi: 1e-3, Epsilon: 2, Alpha: 1, Stabilizer: 1e-6, Rand: rng}
	adv := must.M1(Step(m, opt, CrossEntropy, reg, x, y))
	if adv.Smoothness <= 0 {
		t.Errorf("VAT step smoothness = %g, want > 0", adv.Smoothness)
	}
	if opt.Steps() != 2 {
		t.Errorf("optimizer took %d steps, want 2", opt.Steps())
	}
	for i, p := range m.Params() {
		if floats.Norm(p.Grad, 2) != 0 {
			t.Fatalf("param %d gradient not cleared", i)
		}
	}
}

func TestAccuracy(t *testing.T) {
	p := []float64{0.7, 0.3, 0.2, 0.8, 0.6, 0.4}
	if got := Accuracy(p, []int{0, 1, 1}); math.Abs(got-2.0/3) > 1e-12 {
		t.Errorf("Accuracy = %f", got)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("trains on 1000 examples")
	}
	rng := rand.New(rand.NewPCG(2, 2))
	data := dataset.Synthetic(1000, 137, 15, 5, rng)
	split := Split{Train: data.Slice(0, 800), Val: data.Slice(800, 900), Test: data.Slice(900, 1000)}
	hp := Hyperparameters{
		Width:          16,
		Heads:          []int{4, 2},
		Classes:        5,
		InputShape:     [2]int{137, 15},
		BatchSize:      50,
		Epochs:         1,
		LearningRate:   0.05,
		WarmupSteps:    100,
		PretrainEpochs: 1,
		Epsilon:        8,
		Alpha:          1,
	}
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.LogDir = dir
	opts.CheckpointPath = filepath.Join(dir, "best.gob")
	opts.PretrainCheckpoint = filepath.Join(dir, "pretrained.gob")
	opts.Rand = rng

	res := must.M1(Run(hp, split, opts))

	for _, name := range Metrics {
		v := res.Log.Get(name)
		if len(v) != 1 {
			t.Fatalf("%s has %d entries, want 1", name, len(v))
		}
		if math.IsNaN(v[0]) || math.IsInf(v[0], 0) {
			t.Errorf("%s = %g, want finite", name, v[0])
		}
	}
	for _, name := range []string{MetricValAcc, MetricTestAcc, MetricTrainAcc} {
		if v := res.Log.Get(name)[0]; v < 0 || v > 1 {
			t.Errorf("%s = %g, want in [0, 1]", name, v)
		}
	}
	if !reflect.DeepEqual(res.BestEpochs, []int{0}) {
		t.Errorf("BestEpochs = %v, want [0]", res.BestEpochs)
	}

	saved := must.M1(LoadLog(res.LogPath))
	for _, name := range Metrics {
		if !floats.Equal(saved.Get(name), res.Log.Get(name)) {
			t.Errorf("saved %s = %v, want %v", name, saved.Get(name), res.Log.Get(name))
		}
	}
	for _, path := range []string{opts.CheckpointPath, opts.PretrainCheckpoint} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("checkpoint missing: %v", err)
		}
	}
	best := must.M1(model.LoadFile(opts.CheckpointPath))
	if best.NumParams() != res.Model.NumParams() {
		t.Errorf("checkpoint has %d params, want %d", best.NumParams(), res.Model.NumParams())
	}
}

func TestRun_EarlyStopping(t *testing.T) {
	tests := []struct {
		name       string
		startEpoch int
		wantEpochs int
	}{
		{"from first epoch", 0, 3},
		{"delayed start", 3, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(3, 3))
			opts := DefaultOptions()
			opts.Patience = 2
			opts.StartEpoch = tt.startEpoch
			opts.RestoreBest = true
			// A zero learning rate keeps every validation score equal, so
			// nothing after the first watched epoch counts as an improvement.
			opts.Schedule = optim.Constant(0)
			opts.Rand = rng

			res := must.M1(Run(smallHyper(), smallSplit(rng), opts))
			if !res.StoppedEarly {
				t.Fatal("run did not stop early")
			}
			if res.Log.Len() != tt.wantEpochs {
				t.Errorf("logged %d epochs, want %d", res.Log.Len(), tt.wantEpochs)
			}
		})
	}
}

func TestRun_RejectsBadSplit(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	split := smallSplit(rng)
	split.Val = nil
	if _, err := Run(smallHyper(), split, DefaultOptions()); err == nil {
		t.Error("Run accepted a missing validation set")
	}

	split = smallSplit(rng)
	hp := smallHyper()
	hp.InputShape = [2]int{13, 3}
	if _, err := Run(hp, split, DefaultOptions()); err == nil {
		t.Error("Run accepted mismatched example shapes")
	}
}

func TestNewSchedule(t *testing.T) {
	hp := smallHyper()
	hp.LearningRate, hp.WarmupSteps, hp.PretrainEpochs, hp.Epochs = 0.2, 50, 1, 3

	s := must.M1(NewSchedule("", hp, 10))
	if want := (optim.Warmup{Base: 0.2, WarmupSteps: 50}); s != want {
		t.Errorf("default schedule = %#v, want %#v", s, want)
	}
	s = must.M1(NewSchedule(ScheduleCosine, hp, 10))
	if want := (optim.Cosine{Base: 0.2, TotalSteps: 40}); s != want {
		t.Errorf("cosine schedule = %#v, want %#v", s, want)
	}
	if _, err := NewSchedule("step", hp, 10); err == nil {
		t.Error("accepted an unknown schedule")
	}
}

func TestTaggedPath(t *testing.T) {
	if got := TaggedPath("logs/log20240101-120000.npz", "fold2"); got != "logs/log20240101-120000-fold2.npz" {
		t.Errorf("TaggedPath = %s", got)
	}
	if TaggedPath("best.gob", "") != "best.gob" || TaggedPath("", "run1") != "" {
		t.Error("empty path or tag changed the path")
	}
}

func TestLog_SaveLoad(t *testing.T) {
	l := NewLog()
	l.Append(EpochMetrics{1, 0.1, 0.5, 0.9, 0.6, 0.55})
	l.Append(EpochMetrics{0.8, 0.2, 0.6, 0.7, 0.65, 0.6})
	path := filepath.Join(t.TempDir(), "log.npz")
	must.M(l.Save(path))
	// a second save replaces the first
	l.Append(EpochMetrics{0.7, 0.2, 0.7, 0.6, 0.7, 0.7})
	must.M(l.Save(path))

	got := must.M1(LoadLog(path))
	if got.Len() != 3 {
		t.Fatalf("loaded %d epochs, want 3", got.Len())
	}
	if got.Epoch(1) != l.Epoch(1) {
		t.Errorf("epoch 1 = %+v, want %+v", got.Epoch(1), l.Epoch(1))
	}
	entries := must.M1(os.ReadDir(filepath.Dir(path)))
	if len(entries) != 1 {
		t.Errorf("log directory holds %d files, want 1", len(entries))
	}
}
