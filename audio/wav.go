// Package audio reads and writes PCM WAV clips as mono float64 samples.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ieee0824/vatformer/internal/mathutil"
)

// WAV format codes accepted by ReadWAV.
const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// Header holds the parsed fmt chunk of a clip.
type Header struct {
	SampleRate    uint32
	BitsPerSample uint16
	NumChannels   uint16
	Format        uint16
	NumFrames     int // samples per channel
}

// Duration returns the clip length in seconds.
func (h Header) Duration() float64 {
	if h.SampleRate == 0 {
		return 0
	}
	return float64(h.NumFrames) / float64(h.SampleRate)
}

// ErrUnsupportedFormat is wrapped by ReadWAV for encodings it cannot decode.
var ErrUnsupportedFormat = errors.New("audio: unsupported WAV encoding")

// ReadWAV decodes a WAV stream into samples in [-1, 1]. Multi-channel clips
// are downmixed to mono by averaging. Integer PCM of 8, 16, 24 or 32 bits
// and 32/64-bit IEEE float are supported at any sample rate.
func ReadWAV(r io.ReadSeeker) ([]float64, Header, error) {
	var h Header

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, h, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, h, errors.New("audio: not a RIFF/WAVE stream")
	}

	var fmtFound bool
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, h, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if err := readFmtChunk(r, size, &h); err != nil {
				return nil, h, err
			}
			fmtFound = true
		case "data":
			if !fmtFound {
				return nil, h, errors.New("audio: data chunk before fmt chunk")
			}
			return readDataChunk(r, size, h)
		default:
			skip := int64(size)
			if size%2 != 0 {
				skip++
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, h, fmt.Errorf("audio: skip chunk %q: %w", id, err)
			}
		}
	}
	if !fmtFound {
		return nil, h, errors.New("audio: missing fmt chunk")
	}
	return nil, h, errors.New("audio: missing data chunk")
}

// ReadWAVFile opens path and decodes it with ReadWAV.
func ReadWAVFile(path string) ([]float64, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer f.Close()
	samples, h, err := ReadWAV(f)
	if err != nil {
		return nil, h, fmt.Errorf("%s: %w", path, err)
	}
	return samples, h, nil
}

func readFmtChunk(r io.ReadSeeker, size uint32, h *Header) error {
	if size < 16 {
		return fmt.Errorf("audio: fmt chunk of %d bytes", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("audio: read fmt chunk: %w", err)
	}
	if size%2 != 0 {
		if _, err := r.Seek(1, io.SeekCurrent); err != nil {
			return err
		}
	}
	h.Format = binary.LittleEndian.Uint16(buf[0:2])
	h.NumChannels = binary.LittleEndian.Uint16(buf[2:4])
	h.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
	h.BitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
	if h.Format == formatExtensible && size >= 26 {
		// the first two bytes of the sub-format GUID carry the real code
		h.Format = binary.LittleEndian.Uint16(buf[24:26])
	}

	switch {
	case h.NumChannels == 0:
		return fmt.Errorf("%w: zero channels", ErrUnsupportedFormat)
	case h.SampleRate == 0:
		return fmt.Errorf("%w: zero sample rate", ErrUnsupportedFormat)
	case h.Format == formatPCM:
		switch h.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedFormat, h.BitsPerSample)
		}
	case h.Format == formatIEEEFloat:
		if h.BitsPerSample != 32 && h.BitsPerSample != 64 {
			return fmt.Errorf("%w: %d-bit float", ErrUnsupportedFormat, h.BitsPerSample)
		}
	default:
		return fmt.Errorf("%w: format code %d", ErrUnsupportedFormat, h.Format)
	}
	return nil
}

func readDataChunk(r io.Reader, size uint32, h Header) ([]float64, Header, error) {
	width := int(h.BitsPerSample) / 8
	channels := int(h.NumChannels)
	frameBytes := width * channels
	raw := make([]byte, int(size)/frameBytes*frameBytes)
	// Truncated data chunks are common in the wild; keep the whole frames read.
	n, err := io.ReadFull(r, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, h, fmt.Errorf("audio: read samples: %w", err)
	}
	raw = raw[:n/frameBytes*frameBytes]
	h.NumFrames = len(raw) / frameBytes

	decode := decoder(h)
	samples := make([]float64, h.NumFrames)
	inv := 1 / float64(channels)
	for i := range samples {
		frame := raw[i*frameBytes : (i+1)*frameBytes]
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += decode(frame[c*width : (c+1)*width])
		}
		samples[i] = sum * inv
	}
	return samples, h, nil
}

func decoder(h Header) func([]byte) float64 {
	if h.Format == formatIEEEFloat {
		if h.BitsPerSample == 64 {
			return func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
		}
		return func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	}
	switch h.BitsPerSample {
	case 8:
		// 8-bit PCM is unsigned
		return func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case 16:
		return func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case 24:
		return func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / (1 << 23)
		}
	default:
		return func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31) }
	}
}

// WriteWAV encodes mono samples as 16-bit PCM on the same 1/32768 scale
// ReadWAV decodes with. Values outside [-1, 1) are clipped.
func WriteWAV(w io.Writer, samples []float64, sampleRate int) error {
	dataSize := uint32(len(samples) * 2)
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], 36+dataSize)
	copy(hdr[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], formatPCM)
	binary.LittleEndian.PutUint16(hdr[22:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(sampleRate)*2)
	binary.LittleEndian.PutUint16(hdr[32:], 2)
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], dataSize)
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("audio: write header: %w", err)
	}

	pcm := make([]byte, dataSize)
	for i, s := range samples {
		v := mathutil.Clip(math.Round(s*32768), -32768, 32767)
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write samples: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path with WriteWAV.
func WriteWAVFile(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
