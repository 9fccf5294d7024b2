package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
)

const checkpointVersion = 1

// serializedClassifier is the gob format for checkpoints.
type serializedClassifier struct {
	Version   int // = 1
	Width     int
	Heads     []int
	Classes   int
	Steps     int
	Coeffs    int
	BatchSize int
	Weights   [][]float64
}

// Save serializes the architecture and weights to w using gob encoding.
func (c *Classifier) Save(w io.Writer) error {
	sc := serializedClassifier{
		Version:   checkpointVersion,
		Width:     c.cfg.Width,
		Heads:     c.cfg.Heads,
		Classes:   c.cfg.Classes,
		Steps:     c.cfg.InputShape[0],
		Coeffs:    c.cfg.InputShape[1],
		BatchSize: c.cfg.BatchSize,
		Weights:   c.Weights(),
	}
	return gob.NewEncoder(w).Encode(sc)
}

// Load reads a checkpoint written by Save.
func Load(r io.Reader) (*Classifier, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var sc serializedClassifier
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sc); err != nil {
		return nil, fmt.Errorf("model: decode checkpoint: %w", err)
	}
	if sc.Version != checkpointVersion {
		return nil, fmt.Errorf("model: unsupported checkpoint version %d", sc.Version)
	}
	cfg := Config{
		Width:      sc.Width,
		Heads:      sc.Heads,
		Classes:    sc.Classes,
		InputShape: [2]int{sc.Steps, sc.Coeffs},
		BatchSize:  sc.BatchSize,
	}
	c, err := New(cfg, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, err
	}
	if err := c.SetWeights(sc.Weights); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveFile writes a checkpoint to path.
func (c *Classifier) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.Save(f); err != nil {
		f.Close()
		return fmt.Errorf("model: save %s: %w", path, err)
	}
	return f.Close()
}

// LoadFile reads a checkpoint from path.
func LoadFile(path string) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
