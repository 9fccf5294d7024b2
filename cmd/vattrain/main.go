// Command vattrain trains one classifier with supervised pretraining
// followed by virtual adversarial training, logging every epoch.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/internal/blas"
	"github.com/ieee0824/vatformer/internal/cli"
	"github.com/ieee0824/vatformer/train"
)

func main() {
	klog.InitFlags(nil)
	dataPath := flag.String("data", "mfcc.npz", "feature archive (X/Y or x_train/y_train/x_test/y_test)")
	folds := flag.Int("folds", 10, "folds for an X/Y archive")
	fold := flag.Int("fold", 0, "held-out test fold for an X/Y archive")
	valSize := flag.Int("val-size", 100, "validation examples taken from the end of the training part")
	output := flag.String("output", "", "write the final model here")
	hf := cli.RegisterHyperFlags(flag.CommandLine)
	tf := cli.RegisterTrainFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vattrain -data mfcc.npz [flags]")
		fmt.Fprintln(os.Stderr, "  Train one model and write a timestamped npz epoch log.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	hp, err := hf.Hyper()
	if err != nil {
		klog.Exitf("hyperparameters: %v", err)
	}
	opts, err := tf.Options()
	if err != nil {
		klog.Exitf("options: %v", err)
	}
	split, err := cli.LoadSplit(*dataPath, *fold, *folds, *valSize)
	if err != nil {
		klog.Exitf("load %s: %v", *dataPath, err)
	}
	klog.Infof("Hyperparameters %s, schedule %s, Accelerate BLAS: %v", hp, opts.ScheduleKind, blas.HasAccelerate())
	klog.Infof("Data: %d train, %d validation, %d test", split.Train.Len(), split.Val.Len(), split.Test.Len())

	res, err := train.Run(hp, split, opts)
	if err != nil {
		klog.Exitf("train: %v", err)
	}
	klog.Infof("Trained %d epochs (stopped early: %v), log %s", res.Log.Len(), res.StoppedEarly, res.LogPath)
	klog.Infof("Best epochs %v, test_acc %v", res.BestEpochs, res.BestTestAcc)
	if *output != "" {
		must.M(res.Model.SaveFile(*output))
		klog.Infof("Model written to %s", *output)
	}
}
