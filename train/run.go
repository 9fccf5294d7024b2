package train

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"k8s.io/klog/v2"

	"github.com/ieee0824/vatformer/autodiff"
	"github.com/ieee0824/vatformer/dataset"
	"github.com/ieee0824/vatformer/model"
	"github.com/ieee0824/vatformer/optim"
	"github.com/ieee0824/vatformer/vat"
)

// Monitor names the validation metric used for checkpointing and early stopping.
type Monitor string

const (
	MonitorValAcc  Monitor = MetricValAcc  // higher is better
	MonitorValLoss Monitor = MetricValLoss // lower is better
)

func (m Monitor) improved(current, best float64) bool {
	if m == MonitorValLoss {
		return current < best
	}
	return current > best
}

func (m Monitor) worst() float64 {
	if m == MonitorValLoss {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

func (m Monitor) value(e EpochMetrics) float64 {
	if m == MonitorValLoss {
		return e.ValLoss
	}
	return e.ValAcc
}

// Options controls persistence and stopping of a run.
type Options struct {
	LogDir             string         // rewrite the npz log here after every epoch; "" disables
	LogTag             string         // appended to the timestamped log name, e.g. "fold3"
	CheckpointPath     string         // best-so-far checkpoint by Monitor; "" disables
	PretrainCheckpoint string         // weights after pretraining; "" disables
	Monitor            Monitor        // val_acc or val_loss
	Patience           int            // early-stopping patience in epochs (0 = disabled)
	StartEpoch         int            // epochs before early stopping starts watching
	RestoreBest        bool           // restore the best weights when stopping early
	ScheduleKind       ScheduleKind   // learning rate schedule built when Schedule is nil
	Schedule           optim.Schedule // overrides ScheduleKind
	Rand               *rand.Rand
}

// ScheduleKind names a learning rate schedule derived from the hyperparameters.
type ScheduleKind string

const (
	ScheduleWarmup ScheduleKind = "warmup" // Transformer warmup, the default
	ScheduleCosine ScheduleKind = "cosine" // cosine annealing over every step of the run
)

// NewSchedule builds the kind schedule for hp. stepsPerEpoch is the number
// of optimizer updates per epoch; the cosine schedule spans pretraining and
// VAT training.
func NewSchedule(kind ScheduleKind, hp Hyperparameters, stepsPerEpoch int) (optim.Schedule, error) {
	switch kind {
	case "", ScheduleWarmup:
		return optim.Warmup{Base: hp.LearningRate, WarmupSteps: hp.WarmupSteps}, nil
	case ScheduleCosine:
		return optim.Cosine{Base: hp.LearningRate, TotalSteps: (hp.PretrainEpochs + hp.Epochs) * stepsPerEpoch}, nil
	}
	return nil, fmt.Errorf("train: unknown schedule %q", kind)
}

// DefaultOptions returns options that keep everything in memory and never stop early.
func DefaultOptions() Options {
	return Options{Monitor: MonitorValAcc}
}

// Split is a fixed train / validation / test partition.
type Split struct {
	Train *dataset.Dataset
	Val   *dataset.Dataset
	Test  *dataset.Dataset
}

// Result is the outcome of Run.
type Result struct {
	Log          *Log
	LogPath      string
	BestEpochs   []int     // epochs with the highest test_acc - val_loss
	BestTestAcc  []float64 // test_acc at BestEpochs
	StoppedEarly bool
	Model        *model.Classifier
}

func (s Split) validate(hp Hyperparameters) error {
	for _, part := range []struct {
		name string
		d    *dataset.Dataset
	}{{"train", s.Train}, {"validation", s.Val}, {"test", s.Test}} {
		if part.d == nil || part.d.Len() == 0 {
			return fmt.Errorf("train: empty %s set", part.name)
		}
		if part.d.Steps != hp.InputShape[0] || part.d.Coeffs != hp.InputShape[1] {
			return fmt.Errorf("train: %s examples are (%d, %d), model expects %v",
				part.name, part.d.Steps, part.d.Coeffs, hp.InputShape)
		}
		if k := part.d.Classes(); k > hp.Classes {
			return fmt.Errorf("train: %s set has label %d for %d classes", part.name, k-1, hp.Classes)
		}
	}
	if s.Train.Len() < hp.BatchSize {
		return fmt.Errorf("train: %d training examples fill no batch of %d", s.Train.Len(), hp.BatchSize)
	}
	return nil
}

// Run trains a fresh classifier: PretrainEpochs of supervised steps, then
// Epochs of VAT steps, evaluating on the validation and test sets after
// every VAT epoch. Pretraining and VAT share one optimizer, so the learning
// rate schedule carries over.
func Run(hp Hyperparameters, split Split, opts Options) (*Result, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	if err := split.validate(hp); err != nil {
		return nil, err
	}
	if opts.Monitor == "" {
		opts.Monitor = MonitorValAcc
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	sched := opts.Schedule
	if sched == nil {
		var err error
		if sched, err = NewSchedule(opts.ScheduleKind, hp, split.Train.Len()/hp.BatchSize); err != nil {
			return nil, err
		}
	}

	m, err := model.New(hp.ModelConfig(), rng)
	if err != nil {
		return nil, err
	}
	opt := optim.NewAdam(m.Params(), sched, optim.DefaultAdamConfig())
	klog.V(1).Infof("train: %s, %d parameters", hp, m.NumParams())

	for epoch := 0; epoch < hp.PretrainEpochs; epoch++ {
		avg, err := runEpoch(m, opt, nil, split.Train, hp.BatchSize, rng)
		if err != nil {
			return nil, fmt.Errorf("train: pretrain epoch %d: %w", epoch+1, err)
		}
		klog.V(1).Infof("  Pretrain %2d: train_loss=%.4f train_acc=%.1f%%", epoch+1, avg.Loss, avg.Accuracy*100)
	}
	if opts.PretrainCheckpoint != "" {
		if err := m.SaveFile(opts.PretrainCheckpoint); err != nil {
			return nil, err
		}
	}

	res := &Result{Log: NewLog(), Model: m}
	if opts.LogDir != "" {
		res.LogPath = TaggedPath(LogPath(opts.LogDir, time.Now()), opts.LogTag)
	}
	reg := vat.New(hp.Epsilon, hp.Alpha, rng)

	bestCkpt := opts.Monitor.worst()
	bestStop := opts.Monitor.worst()
	var bestWeights [][]float64
	wait := 0

	for epoch := 0; epoch < hp.Epochs; epoch++ {
		avg, err := runEpoch(m, opt, reg, split.Train, hp.BatchSize, rng)
		if err != nil {
			return nil, fmt.Errorf("train: epoch %d: %w", epoch+1, err)
		}
		valLoss, valAcc, err := Evaluate(m, split.Val)
		if err != nil {
			return nil, err
		}
		_, testAcc, err := Evaluate(m, split.Test)
		if err != nil {
			return nil, err
		}
		em := EpochMetrics{
			TrainLoss:       avg.Loss,
			TrainSmoothness: avg.Smoothness,
			TrainAcc:        avg.Accuracy,
			ValLoss:         valLoss,
			ValAcc:          valAcc,
			TestAcc:         testAcc,
		}
		res.Log.Append(em)
		if res.LogPath != "" {
			if err := res.Log.Save(res.LogPath); err != nil {
				return nil, err
			}
		}
		klog.Infof("  Epoch %2d: train_loss=%.4f train_l=%.4f train_acc=%.1f%% val_loss=%.4f val_acc=%.1f%% test_acc=%.1f%% lr=%.6f",
			epoch+1, em.TrainLoss, em.TrainSmoothness, em.TrainAcc*100, em.ValLoss, em.ValAcc*100, em.TestAcc*100, opt.LR())

		current := opts.Monitor.value(em)
		if opts.CheckpointPath != "" && opts.Monitor.improved(current, bestCkpt) {
			bestCkpt = current
			if err := m.SaveFile(opts.CheckpointPath); err != nil {
				return nil, err
			}
			klog.V(1).Infof("  %s improved to %.4f, saved %s", opts.Monitor, current, opts.CheckpointPath)
		}

		if opts.Patience > 0 && epoch >= opts.StartEpoch {
			if opts.Monitor.improved(current, bestStop) {
				bestStop = current
				wait = 0
				if opts.RestoreBest {
					bestWeights = m.Weights()
				}
			} else {
				wait++
				if wait >= opts.Patience {
					klog.Infof("  Early stopping at epoch %d", epoch+1)
					res.StoppedEarly = true
					if bestWeights != nil {
						if err := m.SetWeights(bestWeights); err != nil {
							return nil, err
						}
					}
					break
				}
			}
		}
	}

	res.BestEpochs = BestIndices(res.Log.Get(MetricTestAcc), res.Log.Get(MetricValLoss), TieTolerance)
	for _, i := range res.BestEpochs {
		res.BestTestAcc = append(res.BestTestAcc, res.Log.Get(MetricTestAcc)[i])
	}
	return res, nil
}

// runEpoch applies Step to every full batch of a freshly shuffled order and
// returns the averaged step results.
func runEpoch(m Model, opt *optim.Adam, reg Regularizer, d *dataset.Dataset, batchSize int, rng *rand.Rand) (StepResult, error) {
	var sum StepResult
	batches := d.Batches(batchSize, rng, true)
	for _, idx := range batches {
		x, y := d.Batch(idx)
		r, err := Step(m, opt, CrossEntropy, reg, x, y)
		if err != nil {
			return StepResult{}, err
		}
		sum.Loss += r.Loss
		sum.Smoothness += r.Smoothness
		sum.Accuracy += r.Accuracy
	}
	n := float64(len(batches))
	return StepResult{Loss: sum.Loss / n, Smoothness: sum.Smoothness / n, Accuracy: sum.Accuracy / n}, nil
}

// Evaluate runs inference over d and returns the mean cross-entropy and accuracy.
func Evaluate(m *model.Classifier, d *dataset.Dataset) (loss, acc float64, err error) {
	p, err := m.Predict(d.X)
	if err != nil {
		return 0, 0, err
	}
	var tp *autodiff.Tape
	probs := autodiff.FromSlice(p, d.Len(), len(p)/d.Len())
	return tp.CrossEntropy(probs, d.Y).Item(), Accuracy(p, d.Y), nil
}
