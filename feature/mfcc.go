// Package feature turns audio samples into fixed-size MFCC matrices for the
// classifier: pre-emphasis, Hamming-windowed frames, mel log energies,
// liftered DCT cepstra, optional mean normalisation, then padding or
// trimming to a fixed number of frames.
package feature

import (
	"errors"
	"fmt"
)

// Config holds the MFCC extraction parameters.
type Config struct {
	SampleRate    int
	FrameLenMs    float64 // frame length in milliseconds
	FrameShiftMs  float64 // frame shift in milliseconds
	PreEmphCoeff  float64
	NumMelFilters int
	NumCepstra    int
	LowFreq       float64
	HighFreq      float64 // 0 means SampleRate/2
	FFTSize       int     // raised to the frame length when smaller
	CepLifter     int     // 0 disables liftering
	UseCMN        bool    // cepstral mean normalisation
	Frames        int     // output frames for ExtractFixed
}

// DefaultConfig returns the configuration producing 137×15 matrices.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		FrameLenMs:    25.0,
		FrameShiftMs:  10.0,
		PreEmphCoeff:  0.97,
		NumMelFilters: 26,
		NumCepstra:    15,
		FFTSize:       512,
		CepLifter:     22,
		UseCMN:        true,
		Frames:        137,
	}
}

// ErrTooShort is returned when the audio does not fill a single frame.
var ErrTooShort = errors.New("feature: audio too short for a single frame")

func (c Config) validate() error {
	if c.SampleRate <= 0 || c.FrameLenMs <= 0 || c.FrameShiftMs <= 0 {
		return fmt.Errorf("feature: invalid framing rate=%d len=%gms shift=%gms", c.SampleRate, c.FrameLenMs, c.FrameShiftMs)
	}
	if c.NumMelFilters <= 0 || c.NumCepstra <= 0 || c.NumCepstra > c.NumMelFilters {
		return fmt.Errorf("feature: %d cepstra from %d mel filters", c.NumCepstra, c.NumMelFilters)
	}
	return nil
}

func (c Config) frameGeometry() (frameLen, frameShift, fftSize int) {
	frameLen = int(c.FrameLenMs * float64(c.SampleRate) / 1000.0)
	frameShift = max(1, int(c.FrameShiftMs*float64(c.SampleRate)/1000.0))
	fftSize = max(c.FFTSize, frameLen)
	return frameLen, frameShift, fftSize
}

// Extract computes one row of NumCepstra coefficients per frame.
func Extract(samples []float64, cfg Config) ([][]float64, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	frameLen, frameShift, fftSize := cfg.frameGeometry()
	frames := Frame(PreEmphasize(samples, cfg.PreEmphCoeff), frameLen, frameShift)
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %d samples, frame length %d", ErrTooShort, len(samples), frameLen)
	}

	highFreq := cfg.HighFreq
	if highFreq <= 0 {
		highFreq = float64(cfg.SampleRate) / 2
	}
	ws := newSpectrumWorkspace(frameLen, fftSize)
	melFB := NewMelFilterbank(cfg.NumMelFilters, fftSize, cfg.SampleRate, cfg.LowFreq, highFreq)
	cep := newCepstrum(cfg.NumCepstra, cfg.NumMelFilters, cfg.CepLifter)
	melBuf := make([]float64, cfg.NumMelFilters)

	mfccs := make([][]float64, len(frames))
	all := make([]float64, len(frames)*cfg.NumCepstra)
	for i, frame := range frames {
		melFB.applyInto(ws.compute(frame), melBuf)
		mfccs[i] = all[i*cfg.NumCepstra : (i+1)*cfg.NumCepstra]
		cep.applyInto(melBuf, mfccs[i])
	}
	if cfg.UseCMN {
		ApplyCMN(mfccs)
	}
	return mfccs, nil
}

// Fit flattens rows into a frames×dim row-major buffer, trimming extra rows
// and zero-padding missing ones at the end.
func Fit(rows [][]float64, frames, dim int) []float64 {
	out := make([]float64, frames*dim)
	for t := 0; t < frames && t < len(rows); t++ {
		copy(out[t*dim:(t+1)*dim], rows[t])
	}
	return out
}

// ExtractFixed runs Extract and fits the result to cfg.Frames rows, returning
// a flat Frames×NumCepstra buffer ready for dataset or model input.
func ExtractFixed(samples []float64, cfg Config) ([]float64, error) {
	if cfg.Frames <= 0 {
		return nil, fmt.Errorf("feature: invalid frame count %d", cfg.Frames)
	}
	rows, err := Extract(samples, cfg)
	if err != nil {
		return nil, err
	}
	return Fit(rows, cfg.Frames, cfg.NumCepstra), nil
}
