// Command gridsearch evaluates a hyperparameter grid on one split and keeps
// a JSON history of every finished point.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/crossval"
	"github.com/ieee0824/vatformer/internal/cli"
	"github.com/ieee0824/vatformer/train"
)

func main() {
	klog.InitFlags(nil)
	dataPath := flag.String("data", "mfcc.npz", "feature archive")
	folds := flag.Int("folds", 10, "folds for an X/Y archive")
	fold := flag.Int("fold", 0, "held-out test fold for an X/Y archive")
	valSize := flag.Int("val-size", 100, "validation examples taken from the end of the training part")
	grid := flag.String("grid", "lr-warmup", "grid to search: lr-warmup (patience 300, restores best weights) or pretrain-eps")
	lrsStr := flag.String("lrs", "0.01,0.02,0.04", "comma-separated base learning rates (lr-warmup)")
	warmupsStr := flag.String("warmups", "2000,4000,8000", "comma-separated warmup steps (lr-warmup)")
	pretrainsStr := flag.String("pretrains", "0,5,10", "comma-separated pretraining epochs (pretrain-eps)")
	epsStr := flag.String("eps-grid", "1,8,32", "comma-separated perturbation norms (pretrain-eps)")
	history := flag.String("history", "history.json", "JSON history path")
	workers := flag.Int("workers", 1, "points evaluated in parallel")
	hf := cli.RegisterHyperFlags(flag.CommandLine)
	tf := cli.RegisterTrainFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: gridsearch -data mfcc.npz -grid lr-warmup|pretrain-eps [flags]")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	base, err := hf.Hyper()
	if err != nil {
		klog.Exitf("hyperparameters: %v", err)
	}
	opts, err := tf.Options()
	if err != nil {
		klog.Exitf("options: %v", err)
	}

	var points []crossval.Point
	switch *grid {
	case "lr-warmup":
		lrs, err := cli.ParseFloats(*lrsStr)
		if err != nil {
			klog.Exitf("-lrs: %v", err)
		}
		warmups, err := cli.ParseInts(*warmupsStr)
		if err != nil {
			klog.Exitf("-warmups: %v", err)
		}
		points = crossval.LRWarmupGrid(base, lrs, warmups)
	case "pretrain-eps":
		pretrains, err := cli.ParseInts(*pretrainsStr)
		if err != nil {
			klog.Exitf("-pretrains: %v", err)
		}
		eps, err := cli.ParseFloats(*epsStr)
		if err != nil {
			klog.Exitf("-eps-grid: %v", err)
		}
		points = crossval.PretrainEpsGrid(base, pretrains, eps, opts.StartEpoch)
	default:
		klog.Exitf("unknown grid %q", *grid)
	}
	if len(points) == 0 {
		klog.Exit("empty grid")
	}

	split, err := cli.LoadSplit(*dataPath, *fold, *folds, *valSize)
	if err != nil {
		klog.Exitf("load %s: %v", *dataPath, err)
	}
	klog.Infof("Grid %s: %d points, %d workers", *grid, len(points), *workers)

	records, err := crossval.GridSearch(points, crossval.TrainEval(split, opts), *history, *workers)
	if err != nil {
		klog.Exitf("grid search: %v", err)
	}

	// best final test accuracy first, failed points last
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := records[order[a]], records[order[b]]
		if (ra.Error == "") != (rb.Error == "") {
			return ra.Error == ""
		}
		return ra.Metrics[train.MetricTestAcc] > rb.Metrics[train.MetricTestAcc]
	})
	for rank, i := range order {
		r := records[i]
		if r.Error != "" {
			fmt.Printf("%3d  %v  error: %s\n", rank+1, r.Params, r.Error)
			continue
		}
		fmt.Printf("%3d  %v  test_acc=%.4f val_loss=%.4f epochs=%.0f\n", rank+1, r.Params,
			r.Metrics[train.MetricTestAcc], r.Metrics[train.MetricValLoss], r.Metrics["epochs"])
	}
}
