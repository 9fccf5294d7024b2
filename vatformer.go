// Package vatformer classifies audio clips with a trained attention
// classifier checkpoint. Training lives in the train and crossval packages;
// this package covers inference from WAV files, raw samples or MFCC matrices.
package vatformer

import (
	"fmt"

	"github.com/ieee0824/vatformer/audio"
	"github.com/ieee0824/vatformer/feature"
	"github.com/ieee0824/vatformer/internal/mathutil"
	"github.com/ieee0824/vatformer/model"
)

// Classifier couples a model with the feature extraction it was trained on.
type Classifier struct {
	Model   *model.Classifier
	FeatCfg feature.Config
	Labels  []string // optional class names, indexed by class
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFeatureConfig sets custom MFCC parameters. Frames and NumCepstra are
// always taken from the model input shape.
func WithFeatureConfig(cfg feature.Config) Option {
	return func(c *Classifier) {
		c.FeatCfg = cfg
	}
}

// WithLabels names the classes in Prediction.Label.
func WithLabels(labels ...string) Option {
	return func(c *Classifier) {
		c.Labels = append([]string(nil), labels...)
	}
}

// Prediction is the outcome for one clip.
type Prediction struct {
	Class int
	Label string
	Probs []float64
}

// NewClassifier loads a checkpoint written by model.SaveFile.
func NewClassifier(checkpointPath string, opts ...Option) (*Classifier, error) {
	m, err := model.LoadFile(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return NewClassifierFromModel(m, opts...)
}

// NewClassifierFromModel wraps an already built model.
func NewClassifierFromModel(m *model.Classifier, opts ...Option) (*Classifier, error) {
	c := &Classifier{Model: m, FeatCfg: feature.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}
	shape := m.Config().InputShape
	c.FeatCfg.Frames, c.FeatCfg.NumCepstra = shape[0], shape[1]
	if c.FeatCfg.NumMelFilters < c.FeatCfg.NumCepstra {
		return nil, fmt.Errorf("%d mel filters cannot give %d coefficients", c.FeatCfg.NumMelFilters, c.FeatCfg.NumCepstra)
	}
	if n := len(c.Labels); n != 0 && n != m.Config().Classes {
		return nil, fmt.Errorf("%d labels for %d classes", n, m.Config().Classes)
	}
	return c, nil
}

// ClassifyFile reads a WAV file and classifies it.
func (c *Classifier) ClassifyFile(wavPath string) (Prediction, error) {
	samples, h, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return Prediction{}, fmt.Errorf("read WAV: %w", err)
	}
	return c.ClassifySamples(samples, int(h.SampleRate))
}

// ClassifySamples classifies mono samples recorded at sampleRate, resampling
// to the feature sample rate when they differ.
func (c *Classifier) ClassifySamples(samples []float64, sampleRate int) (Prediction, error) {
	if sampleRate != c.FeatCfg.SampleRate {
		samples = audio.Resample(samples, sampleRate, c.FeatCfg.SampleRate)
	}
	x, err := feature.ExtractFixed(samples, c.FeatCfg)
	if err != nil {
		return Prediction{}, fmt.Errorf("extract features: %w", err)
	}
	preds, err := c.ClassifyFeatures(x)
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// ClassifyFeatures classifies a flat buffer of whole T×F feature matrices.
func (c *Classifier) ClassifyFeatures(x []float64) ([]Prediction, error) {
	probs, err := c.Model.Predict(x)
	if err != nil {
		return nil, err
	}
	k := c.Model.Config().Classes
	preds := make([]Prediction, len(probs)/k)
	for i := range preds {
		p := probs[i*k : (i+1)*k : (i+1)*k]
		preds[i] = Prediction{Class: mathutil.Argmax(p), Probs: p}
		if len(c.Labels) != 0 {
			preds[i].Label = c.Labels[preds[i].Class]
		}
	}
	return preds, nil
}
