package crossval

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/train"
)

// Point is one grid point: the hyperparameters to train with, its
// early-stopping setting and the grid coordinates recorded in the history.
// A zero Patience keeps the patience and restore setting of the run options.
type Point struct {
	Hyper       train.Hyperparameters
	StartEpoch  int
	Patience    int
	RestoreBest bool
	Params      map[string]float64
}

// Record is one history entry. Hyper is the full hyperparameter tuple of
// the point, in train.Hyperparameters.Tuple order.
type Record struct {
	Params  map[string]float64 `json:"params"`
	Hyper   []any              `json:"hyperparameters"`
	Metrics map[string]float64 `json:"metrics"`
	Error   string             `json:"error,omitempty"`
}

// LRWarmupPatience is the early-stopping patience of LRWarmupGrid points.
const LRWarmupPatience = 300

// EvalFunc trains and scores one grid point.
type EvalFunc func(p Point) (map[string]float64, error)

// LRWarmupGrid returns one point per (warmup, lr) pair, warmup-major. The
// epoch budget and the early-stopping start scale with the warmup length:
// epochs = warmup/4000·1000 and start = warmup/4000·300. Every point stops
// after LRWarmupPatience epochs without a better val_acc and restores the
// best weights.
func LRWarmupGrid(base train.Hyperparameters, lrs []float64, warmups []int) []Point {
	var points []Point
	for _, w := range warmups {
		for _, lr := range lrs {
			hp := base
			hp.Heads = append([]int(nil), base.Heads...)
			hp.LearningRate = lr
			hp.WarmupSteps = w
			hp.Epochs = int(float64(w) / 4000 * 1000)
			points = append(points, Point{
				Hyper:       hp,
				StartEpoch:  int(float64(w) / 4000 * 300),
				Patience:    LRWarmupPatience,
				RestoreBest: true,
				Params:      map[string]float64{"lr": lr, "warmup": float64(w)},
			})
		}
	}
	return points
}

// PretrainEpsGrid returns one point per (pretrain epochs, ε) pair,
// pretrain-major, with a fixed early-stopping start.
func PretrainEpsGrid(base train.Hyperparameters, pretrains []int, eps []float64, startEpoch int) []Point {
	var points []Point
	for _, p := range pretrains {
		for _, e := range eps {
			hp := base
			hp.Heads = append([]int(nil), base.Heads...)
			hp.PretrainEpochs = p
			hp.Epsilon = e
			points = append(points, Point{
				Hyper:      hp,
				StartEpoch: startEpoch,
				Params:     map[string]float64{"pretraining_epochs": float64(p), "eps": e},
			})
		}
	}
	return points
}

// TrainEval returns an EvalFunc that runs train.Run on split with base
// options (StartEpoch, and Patience when set, taken from the point) and
// reports the final epoch metrics plus the best test accuracy. Each call gets its own generator
// seeded from base.Rand and "-runN" tagged output files, so points may run
// concurrently.
func TrainEval(split train.Split, base train.Options) EvalFunc {
	var (
		mu   sync.Mutex
		runs int
	)
	return func(p Point) (map[string]float64, error) {
		opts := base
		opts.StartEpoch = p.StartEpoch
		if p.Patience > 0 {
			opts.Patience = p.Patience
			opts.RestoreBest = p.RestoreBest
		}
		mu.Lock()
		runs++
		tag := fmt.Sprintf("run%d", runs)
		if base.Rand != nil {
			opts.Rand = rand.New(rand.NewPCG(base.Rand.Uint64(), base.Rand.Uint64()))
		}
		mu.Unlock()
		opts.LogTag = tag
		opts.CheckpointPath = train.TaggedPath(base.CheckpointPath, tag)
		opts.PretrainCheckpoint = train.TaggedPath(base.PretrainCheckpoint, tag)
		res, err := train.Run(p.Hyper, split, opts)
		if err != nil {
			return nil, err
		}
		m := map[string]float64{"epochs": float64(res.Log.Len()), "stopped_early": 0}
		if res.StoppedEarly {
			m["stopped_early"] = 1
		}
		if res.Log.Len() > 0 {
			last := res.Log.Epoch(res.Log.Len() - 1)
			setFinite(m, train.MetricTrainLoss, last.TrainLoss)
			setFinite(m, train.MetricTrainAcc, last.TrainAcc)
			setFinite(m, train.MetricValLoss, last.ValLoss)
			setFinite(m, train.MetricValAcc, last.ValAcc)
			setFinite(m, train.MetricTestAcc, last.TestAcc)
		}
		if len(res.BestTestAcc) > 0 {
			setFinite(m, "best_test_acc", floats.Max(res.BestTestAcc))
		}
		return m, nil
	}
}

// setFinite stores v unless it is NaN or infinite, which JSON cannot carry.
func setFinite(m map[string]float64, key string, v float64) {
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		m[key] = v
	}
}

// GridSearch evaluates every point on up to workers goroutines and returns
// the records in grid order. When historyPath is set, the history of the
// points finished so far is rewritten as JSON after every point. A failing
// point is recorded with its error and the search continues.
func GridSearch(points []Point, eval EvalFunc, historyPath string, workers int) ([]Record, error) {
	if workers < 1 {
		workers = 1
	}
	records := make([]Record, len(points))
	done := make([]bool, len(points))
	var (
		mu      sync.Mutex
		saveErr error
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, workers)

	for i, p := range points {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p Point) {
			defer wg.Done()
			defer func() { <-sem }()

			metrics, err := eval(p)
			rec := Record{Params: p.Params, Hyper: p.Hyper.Tuple(), Metrics: metrics}
			if err != nil {
				rec.Error = err.Error()
				klog.Errorf("grid point %s: %v", p.Hyper, err)
			} else {
				klog.Infof("grid point %s: %v", p.Hyper, metrics)
			}

			mu.Lock()
			defer mu.Unlock()
			records[i] = rec
			done[i] = true
			if historyPath != "" && saveErr == nil {
				saveErr = saveHistory(historyPath, records, done)
			}
		}(i, p)
	}
	wg.Wait()
	if saveErr != nil {
		return records, saveErr
	}
	return records, nil
}

// saveHistory writes the finished records, in grid order, replacing path.
func saveHistory(path string, records []Record, done []bool) error {
	finished := make([]Record, 0, len(records))
	for i, r := range records {
		if done[i] {
			finished = append(finished, r)
		}
	}
	data, err := json.MarshalIndent(finished, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("crossval: write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("crossval: write history: %w", err)
	}
	return nil
}

// LoadHistory reads a history written by GridSearch.
func LoadHistory(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("crossval: parse history %s: %w", path, err)
	}
	return records, nil
}
