// Package cli holds the flag sets and input helpers shared by the commands.
package cli

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/ieee0824/vatformer/train"
)

// ParseFloats parses a comma-separated list; empty items are skipped.
func ParseFloats(s string) ([]float64, error) {
	var vals []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", part, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// ParseInts parses a comma-separated list; empty items are skipped.
func ParseInts(s string) ([]int, error) {
	var vals []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q: %w", part, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// HyperFlags binds train.Hyperparameters to command-line flags.
type HyperFlags struct {
	hp    train.Hyperparameters
	heads string
}

// RegisterHyperFlags defines the hyperparameter flags on fs with
// train.DefaultHyperparameters as defaults.
func RegisterHyperFlags(fs *flag.FlagSet) *HyperFlags {
	h := &HyperFlags{hp: train.DefaultHyperparameters()}
	d := h.hp
	fs.IntVar(&h.hp.Width, "width", d.Width, "model width")
	fs.StringVar(&h.heads, "heads", joinInts(d.Heads), "comma-separated head counts, one attention block each")
	fs.IntVar(&h.hp.Classes, "classes", d.Classes, "number of classes")
	fs.IntVar(&h.hp.InputShape[0], "steps", d.InputShape[0], "time steps per example")
	fs.IntVar(&h.hp.InputShape[1], "coeffs", d.InputShape[1], "coefficients per time step")
	fs.IntVar(&h.hp.BatchSize, "batch", d.BatchSize, "batch size")
	fs.IntVar(&h.hp.Epochs, "epochs", d.Epochs, "VAT training epochs")
	fs.Float64Var(&h.hp.LearningRate, "lr", d.LearningRate, "base learning rate of the warmup schedule")
	fs.IntVar(&h.hp.WarmupSteps, "warmup", d.WarmupSteps, "warmup steps")
	fs.IntVar(&h.hp.PretrainEpochs, "pretrain", d.PretrainEpochs, "supervised pretraining epochs")
	fs.Float64Var(&h.hp.Epsilon, "eps", d.Epsilon, "adversarial perturbation norm")
	fs.Float64Var(&h.hp.Alpha, "alpha", d.Alpha, "smoothness penalty weight")
	return h
}

// Hyper returns the parsed and validated hyperparameters.
func (h *HyperFlags) Hyper() (train.Hyperparameters, error) {
	heads, err := ParseInts(h.heads)
	if err != nil {
		return train.Hyperparameters{}, fmt.Errorf("-heads: %w", err)
	}
	hp := h.hp
	hp.Heads = heads
	if err := hp.Validate(); err != nil {
		return train.Hyperparameters{}, err
	}
	return hp, nil
}

// TrainFlags binds train.Options to command-line flags.
type TrainFlags struct {
	opts     train.Options
	monitor  string
	schedule string
	seed     uint64
}

// RegisterTrainFlags defines the run option flags on fs.
func RegisterTrainFlags(fs *flag.FlagSet) *TrainFlags {
	t := &TrainFlags{opts: train.DefaultOptions()}
	fs.StringVar(&t.opts.LogDir, "log-dir", ".", "directory for the per-run npz epoch log (empty disables)")
	fs.StringVar(&t.opts.CheckpointPath, "checkpoint", "", "best-model checkpoint path")
	fs.StringVar(&t.opts.PretrainCheckpoint, "pretrain-checkpoint", "", "checkpoint written after pretraining")
	fs.StringVar(&t.monitor, "monitor", string(train.MonitorValAcc), "checkpoint and early-stopping metric: val_acc or val_loss")
	fs.IntVar(&t.opts.Patience, "patience", 0, "early-stopping patience in epochs (0 disables)")
	fs.IntVar(&t.opts.StartEpoch, "start-epoch", 0, "epochs before early stopping starts watching")
	fs.BoolVar(&t.opts.RestoreBest, "restore-best", false, "restore the best weights when stopping early")
	fs.StringVar(&t.schedule, "schedule", string(train.ScheduleWarmup), "learning rate schedule: warmup or cosine")
	fs.Uint64Var(&t.seed, "seed", 0, "random seed (0 uses the clock)")
	return t
}

// Options returns the parsed run options.
func (t *TrainFlags) Options() (train.Options, error) {
	opts := t.opts
	switch m := train.Monitor(t.monitor); m {
	case train.MonitorValAcc, train.MonitorValLoss:
		opts.Monitor = m
	default:
		return train.Options{}, fmt.Errorf("-monitor: unknown metric %q", t.monitor)
	}
	switch k := train.ScheduleKind(t.schedule); k {
	case train.ScheduleWarmup, train.ScheduleCosine:
		opts.ScheduleKind = k
	default:
		return train.Options{}, fmt.Errorf("-schedule: unknown schedule %q", t.schedule)
	}
	seed := t.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	opts.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	return opts, nil
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
