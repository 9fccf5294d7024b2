package crossval

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/train"
)

// DefaultValSize is the number of validation examples carved from each
// fold's training part.
const DefaultValSize = 100

// Options configures CrossValidate. Train is applied to every fold; a
// non-empty checkpoint path gets a per-fold suffix.
type Options struct {
	Train   train.Options
	ValSize int
}

// DefaultOptions returns DefaultValSize and train.DefaultOptions.
func DefaultOptions() Options {
	return Options{Train: train.DefaultOptions(), ValSize: DefaultValSize}
}

// FoldResult is the outcome of one fold.
type FoldResult struct {
	Fold        int
	Test        Range
	BestEpochs  []int
	BestTestAcc []float64
	LogPath     string
	Log         *train.Log
}

// Score returns the largest test accuracy among the fold's best epochs.
func (f FoldResult) Score() float64 {
	if len(f.BestTestAcc) == 0 {
		return 0
	}
	return floats.Max(f.BestTestAcc)
}

// Summary aggregates fold scores.
type Summary struct {
	Mean      float64
	Std       float64
	BestFolds []int // folds with the highest test_acc - val_loss at their final epoch
}

// CrossValidate trains a fresh model on each of k folds of d.
func CrossValidate(d *dataset.Dataset, hp train.Hyperparameters, k int, opts Options) ([]FoldResult, Summary, error) {
	folds, err := KFold(d.Len(), k)
	if err != nil {
		return nil, Summary{}, err
	}
	if opts.ValSize == 0 {
		opts.ValSize = DefaultValSize
	}

	results := make([]FoldResult, 0, k)
	for i, test := range folds {
		split, err := FoldSplit(d, test, opts.ValSize)
		if err != nil {
			return nil, Summary{}, err
		}
		to := opts.Train
		to.CheckpointPath = foldPath(to.CheckpointPath, i)
		to.PretrainCheckpoint = foldPath(to.PretrainCheckpoint, i)
		to.LogTag = foldTag(i)

		klog.Infof("Fold %d/%d: test [%d, %d), %d train, %d validation", i+1, k, test.Lo, test.Hi, split.Train.Len(), split.Val.Len())
		res, err := train.Run(hp, split, to)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("crossval: fold %d: %w", i+1, err)
		}
		fr := FoldResult{
			Fold:        i,
			Test:        test,
			BestEpochs:  res.BestEpochs,
			BestTestAcc: res.BestTestAcc,
			LogPath:     res.LogPath,
			Log:         res.Log,
		}
		klog.Infof("Fold %d/%d: best epochs %v, test_acc %v", i+1, k, fr.BestEpochs, fr.BestTestAcc)
		results = append(results, fr)
	}
	return results, Summarize(results), nil
}

// Summarize computes the mean and standard deviation of the fold scores
// and selects the best folds by their final test_acc - val_loss.
func Summarize(results []FoldResult) Summary {
	if len(results) == 0 {
		return Summary{}
	}
	scores := make([]float64, len(results))
	testAcc := make([]float64, 0, len(results))
	valLoss := make([]float64, 0, len(results))
	for i, r := range results {
		scores[i] = r.Score()
		if r.Log != nil && r.Log.Len() > 0 {
			last := r.Log.Epoch(r.Log.Len() - 1)
			testAcc = append(testAcc, last.TestAcc)
			valLoss = append(valLoss, last.ValLoss)
		}
	}
	var s Summary
	s.Mean, s.Std = stat.MeanStdDev(scores, nil)
	if len(results) == 1 {
		s.Std = 0
	}
	if len(testAcc) == len(results) {
		s.BestFolds = train.BestIndices(testAcc, valLoss, train.TieTolerance)
	}
	return s
}

func foldTag(fold int) string { return fmt.Sprintf("fold%d", fold+1) }

// foldPath inserts "-foldN" before the extension of path.
func foldPath(path string, fold int) string {
	return train.TaggedPath(path, foldTag(fold))
}
