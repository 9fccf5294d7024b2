package feature

import "math"

// melFilter is one triangular filter stored from its first non-zero bin.
type melFilter struct {
	start  int
	coeffs []float64
}

// MelFilterbank maps a power spectrum to log energies in triangular bands
// spaced evenly on the mel scale.
type MelFilterbank struct {
	filters []melFilter
}

// NewMelFilterbank builds numFilters bands between lowFreq and highFreq Hz
// for spectra of fftSize/2+1 bins at sampleRate.
func NewMelFilterbank(numFilters, fftSize, sampleRate int, lowFreq, highFreq float64) *MelFilterbank {
	nBins := fftSize/2 + 1
	lowMel, highMel := hzToMel(lowFreq), hzToMel(highFreq)
	step := (highMel - lowMel) / float64(numFilters+1)

	edges := make([]int, numFilters+2)
	for i := range edges {
		hz := melToHz(lowMel + float64(i)*step)
		edges[i] = int(math.Floor(hz * float64(fftSize+1) / float64(sampleRate)))
	}

	fb := &MelFilterbank{filters: make([]melFilter, numFilters)}
	for i := range fb.filters {
		left, center, right := edges[i], edges[i+1], edges[i+2]
		end := min(right+1, nBins)
		if left >= end {
			continue
		}
		coeffs := make([]float64, end-left)
		for j := left; j < end; j++ {
			switch {
			case j < center:
				coeffs[j-left] = float64(j-left) / float64(center-left)
			case right > center:
				coeffs[j-left] = float64(right-j) / float64(right-center)
			case j == center:
				coeffs[j-left] = 1
			}
		}
		fb.filters[i] = melFilter{start: left, coeffs: coeffs}
	}
	return fb
}

// applyInto writes the log band energies of powerSpec into dst.
func (fb *MelFilterbank) applyInto(powerSpec, dst []float64) {
	for i, f := range fb.filters {
		sum := 0.0
		for j, c := range f.coeffs {
			if k := f.start + j; k < len(powerSpec) {
				sum += powerSpec[k] * c
			}
		}
		dst[i] = math.Log(max(sum, 1e-30))
	}
}

// cepstrum turns log mel energies into liftered DCT-II cepstral coefficients.
type cepstrum struct {
	cos  [][]float64 // [numCepstra][numFilters]
	lift []float64   // nil when liftering is off
}

func newCepstrum(numCepstra, numFilters, lifter int) *cepstrum {
	c := &cepstrum{cos: make([][]float64, numCepstra)}
	for k := range c.cos {
		c.cos[k] = make([]float64, numFilters)
		for j := range c.cos[k] {
			c.cos[k][j] = math.Cos(math.Pi * float64(k) * (float64(j) + 0.5) / float64(numFilters))
		}
	}
	if lifter > 0 {
		c.lift = make([]float64, numCepstra)
		for k := range c.lift {
			c.lift[k] = 1 + float64(lifter)/2*math.Sin(math.Pi*float64(k)/float64(lifter))
		}
	}
	return c
}

func (c *cepstrum) applyInto(logMel, dst []float64) {
	for k, row := range c.cos {
		sum := 0.0
		for j, v := range row {
			sum += logMel[j] * v
		}
		if c.lift != nil {
			sum *= c.lift[k]
		}
		dst[k] = sum
	}
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}
