package feature

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// spectrumWorkspace computes windowed power spectra for frames of one length,
// reusing its buffers between calls.
type spectrumWorkspace struct {
	fft    *fourier.FFT
	window []float64
	buf    []float64    // [fftSize] zero-padded windowed frame
	coeffs []complex128 // [fftSize/2+1]
	power  []float64    // [fftSize/2+1]
}

func newSpectrumWorkspace(frameLen, fftSize int) *spectrumWorkspace {
	bins := fftSize/2 + 1
	return &spectrumWorkspace{
		fft:    fourier.NewFFT(fftSize),
		window: hammingWindow(frameLen),
		buf:    make([]float64, fftSize),
		coeffs: make([]complex128, bins),
		power:  make([]float64, bins),
	}
}

// compute writes |FFT(window·frame)|²/N into ws.power and returns it.
func (ws *spectrumWorkspace) compute(frame []float64) []float64 {
	for i, w := range ws.window {
		ws.buf[i] = frame[i] * w
	}
	clear(ws.buf[len(ws.window):])
	ws.coeffs = ws.fft.Coefficients(ws.coeffs, ws.buf)
	n := float64(len(ws.buf))
	for i, c := range ws.coeffs {
		a := cmplx.Abs(c)
		ws.power[i] = a * a / n
	}
	return ws.power
}
