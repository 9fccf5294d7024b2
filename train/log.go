package train

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sbinet/npyio/npz"
)

// Metric names, in logging order.
const (
	MetricTrainLoss = "training_loss"
	MetricTrainL    = "training_l"
	MetricTrainAcc  = "training_acc"
	MetricValLoss   = "val_loss"
	MetricValAcc    = "val_acc"
	MetricTestAcc   = "test_acc"
)

// Metrics lists every tracked metric.
var Metrics = []string{MetricTrainLoss, MetricTrainL, MetricTrainAcc, MetricValLoss, MetricValAcc, MetricTestAcc}

// EpochMetrics is one row of the log.
type EpochMetrics struct {
	TrainLoss       float64
	TrainSmoothness float64
	TrainAcc        float64
	ValLoss         float64
	ValAcc          float64
	TestAcc         float64
}

func (e EpochMetrics) values() []float64 {
	return []float64{e.TrainLoss, e.TrainSmoothness, e.TrainAcc, e.ValLoss, e.ValAcc, e.TestAcc}
}

// Log accumulates per-epoch metric values.
type Log struct {
	series map[string][]float64
}

// NewLog returns an empty log.
func NewLog() *Log {
	l := &Log{series: make(map[string][]float64, len(Metrics))}
	for _, name := range Metrics {
		l.series[name] = []float64{}
	}
	return l
}

// Append adds one epoch.
func (l *Log) Append(e EpochMetrics) {
	for i, v := range e.values() {
		name := Metrics[i]
		l.series[name] = append(l.series[name], v)
	}
}

// Len returns the number of logged epochs.
func (l *Log) Len() int { return len(l.series[MetricTrainLoss]) }

// Get returns the values of metric name, or nil if it is not tracked.
func (l *Log) Get(name string) []float64 { return l.series[name] }

// Epoch returns the metrics of epoch i.
func (l *Log) Epoch(i int) EpochMetrics {
	return EpochMetrics{
		TrainLoss:       l.series[MetricTrainLoss][i],
		TrainSmoothness: l.series[MetricTrainL][i],
		TrainAcc:        l.series[MetricTrainAcc][i],
		ValLoss:         l.series[MetricValLoss][i],
		ValAcc:          l.series[MetricValAcc][i],
		TestAcc:         l.series[MetricTestAcc][i],
	}
}

// LogPath returns the timestamped log file name for a run started at t.
func LogPath(dir string, t time.Time) string {
	return filepath.Join(dir, "log"+t.Format("20060102-150405")+".npz")
}

// TaggedPath inserts "-tag" before the extension of path. Empty path or
// tag return path unchanged.
func TaggedPath(path, tag string) string {
	if path == "" || tag == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + tag + ext
}

// Save writes the complete log to path as an npz archive with one array per
// metric. The archive is written beside path and renamed over it, so a
// reader never sees a partial file.
func (l *Log) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".log-*.npz")
	if err != nil {
		return fmt.Errorf("train: save log: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	w, err := npz.Create(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("train: save log: %w", err)
	}
	for _, name := range Metrics {
		if err := w.Write(name, l.series[name]); err != nil {
			w.Close()
			os.Remove(tmpName)
			return fmt.Errorf("train: save log %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("train: save log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("train: save log: %w", err)
	}
	return nil
}

// LoadLog reads a log written by Save.
func LoadLog(path string) (*Log, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("train: open log %s: %w", path, err)
	}
	defer r.Close()

	keys := map[string]string{}
	for _, k := range r.Keys() {
		keys[strings.TrimSuffix(k, ".npy")] = k
	}
	l := NewLog()
	for _, name := range Metrics {
		key, ok := keys[name]
		if !ok {
			return nil, fmt.Errorf("train: log %s has no %s", path, name)
		}
		var v []float64
		if err := r.Read(key, &v); err != nil {
			return nil, fmt.Errorf("train: log %s: %s: %w", path, name, err)
		}
		l.series[name] = v
	}
	n := l.Len()
	for _, name := range Metrics {
		if len(l.series[name]) != n {
			return nil, fmt.Errorf("train: log %s: %s has %d epochs, want %d", path, name, len(l.series[name]), n)
		}
	}
	return l, nil
}
