// Command crossval runs k-fold cross-validation over a feature archive.
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/crossval"
	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/internal/cli"
)

func main() {
	klog.InitFlags(nil)
	dataPath := flag.String("data", "mfcc.npz", "feature archive; pre-split archives are merged train then test")
	k := flag.Int("k", 10, "number of folds")
	valSize := flag.Int("val-size", crossval.DefaultValSize, "validation examples per fold")
	hf := cli.RegisterHyperFlags(flag.CommandLine)
	tf := cli.RegisterTrainFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: crossval -data mfcc.npz -k 10 [flags]")
		fmt.Fprintln(os.Stderr, "  Train a fresh model per fold; one npz log per fold.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	hp, err := hf.Hyper()
	if err != nil {
		klog.Exitf("hyperparameters: %v", err)
	}
	trainOpts, err := tf.Options()
	if err != nil {
		klog.Exitf("options: %v", err)
	}
	arc, err := dataset.Load(*dataPath)
	if err != nil {
		klog.Exitf("load %s: %v", *dataPath, err)
	}
	d := arc.All
	if arc.Presplit() {
		if d, err = dataset.Concat(arc.Train, arc.Test); err != nil {
			klog.Exitf("merge pre-split archive: %v", err)
		}
	}

	klog.Infof("Hyperparameters %s", hp)
	results, sum, err := crossval.CrossValidate(d, hp, *k, crossval.Options{Train: trainOpts, ValSize: *valSize})
	if err != nil {
		klog.Exitf("cross-validation: %v", err)
	}
	for _, r := range results {
		fmt.Printf("fold %2d  test=[%d,%d)  best_epochs=%v  test_acc=%v  log=%s\n",
			r.Fold+1, r.Test.Lo, r.Test.Hi, r.BestEpochs, r.BestTestAcc, r.LogPath)
	}
	fmt.Printf("mean=%.4f std=%.4f best_folds=%v\n", sum.Mean, sum.Std, sum.BestFolds)
}
