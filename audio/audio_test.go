package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"
)

// buildWAV assembles a WAV stream with an optional LIST chunk before the data.
func buildWAV(format uint16, rate uint32, bits, channels uint16, data []byte, withList bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // size is not checked
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, rate)
	binary.Write(&buf, binary.LittleEndian, rate*uint32(channels)*uint32(bits)/8)
	binary.Write(&buf, binary.LittleEndian, channels*bits/8)
	binary.Write(&buf, binary.LittleEndian, bits)

	if withList {
		buf.WriteString("LIST")
		binary.Write(&buf, binary.LittleEndian, uint32(3))
		buf.Write([]byte{1, 2, 3, 0}) // odd size plus pad byte
	}

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func pcm16(vals ...int16) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, vals)
	return buf.Bytes()
}

func TestReadWAV_Mono16(t *testing.T) {
	data := buildWAV(formatPCM, 22050, 16, 1, pcm16(0, 16384, -32768), true)
	samples, h, err := ReadWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if h.SampleRate != 22050 || h.NumFrames != 3 {
		t.Errorf("header = %+v", h)
	}
	want := []float64{0, 0.5, -1}
	if !floats.EqualApprox(samples, want, 1e-12) {
		t.Errorf("samples = %v, want %v", samples, want)
	}
}

func TestReadWAV_StereoDownmix(t *testing.T) {
	// two frames: (L=16384, R=0), (L=-16384, R=-16384)
	data := buildWAV(formatPCM, 16000, 16, 2, pcm16(16384, 0, -16384, -16384), false)
	samples, h, err := ReadWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if h.NumChannels != 2 || h.NumFrames != 2 {
		t.Fatalf("header = %+v", h)
	}
	want := []float64{0.25, -0.5}
	if !floats.EqualApprox(samples, want, 1e-12) {
		t.Errorf("samples = %v, want %v", samples, want)
	}
}

func TestReadWAV_OtherEncodings(t *testing.T) {
	var f32 bytes.Buffer
	binary.Write(&f32, binary.LittleEndian, []float32{0.25, -0.75})
	tests := []struct {
		name   string
		format uint16
		bits   uint16
		data   []byte
		want   []float64
	}{
		{"8-bit", formatPCM, 8, []byte{128, 192, 0}, []float64{0, 0.5, -1}},
		{"24-bit", formatPCM, 24, []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xC0}, []float64{0.5, -0.5}},
		{"float32", formatIEEEFloat, 32, f32.Bytes(), []float64{0.25, -0.75}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildWAV(tt.format, 8000, tt.bits, 1, tt.data, false)
			samples, _, err := ReadWAV(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("ReadWAV: %v", err)
			}
			if !floats.EqualApprox(samples, tt.want, 1e-9) {
				t.Errorf("samples = %v, want %v", samples, tt.want)
			}
		})
	}
}

func TestReadWAV_Errors(t *testing.T) {
	if _, _, err := ReadWAV(bytes.NewReader([]byte("RIFX\x00\x00\x00\x00WAVE"))); err == nil {
		t.Error("accepted a non-RIFF stream")
	}
	data := buildWAV(2, 16000, 16, 1, pcm16(1), false) // ADPCM
	if _, _, err := ReadWAV(bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ADPCM error = %v, want ErrUnsupportedFormat", err)
	}
	data = buildWAV(formatPCM, 16000, 12, 1, pcm16(1), false)
	if _, _, err := ReadWAV(bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("12-bit error = %v, want ErrUnsupportedFormat", err)
	}
	noData := buildWAV(formatPCM, 16000, 16, 1, nil, false)
	noData = noData[:len(noData)-8] // drop the data chunk header
	if _, _, err := ReadWAV(bytes.NewReader(noData)); err == nil {
		t.Error("accepted a stream without a data chunk")
	}
}

func TestReadWAV_TruncatedData(t *testing.T) {
	data := buildWAV(formatPCM, 16000, 16, 1, pcm16(100, 200, 300), false)
	data = data[:len(data)-3] // the last sample and half of the second are lost
	samples, h, err := ReadWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if len(samples) != 1 || h.NumFrames != 1 {
		t.Errorf("got %d samples, want 1", len(samples))
	}
}

func TestWriteWAV_RoundTrip(t *testing.T) {
	in := make([]float64, 400)
	for i := range in {
		in[i] = 0.8 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	must.M(WriteWAVFile(path, in, 16000))

	out, h, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if h.SampleRate != 16000 || h.NumChannels != 1 || h.BitsPerSample != 16 {
		t.Errorf("header = %+v", h)
	}
	if math.Abs(h.Duration()-0.025) > 1e-12 {
		t.Errorf("Duration = %f, want 0.025", h.Duration())
	}
	if !floats.EqualApprox(out, in, 0.5/32768+1e-12) {
		t.Error("round trip differs by more than half a quantisation step")
	}
}

func TestWriteWAV_FullScale(t *testing.T) {
	var buf bytes.Buffer
	must.M(WriteWAV(&buf, []float64{-1, -2, 0.5, 1, 3}, 8000))

	out, _, err := ReadWAV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	want := []float64{-1, -1, 0.5, 32767.0 / 32768, 32767.0 / 32768}
	if !floats.Equal(out, want) {
		t.Errorf("samples = %v, want %v", out, want)
	}
}

func TestResample(t *testing.T) {
	ramp := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	up := Resample(ramp, 8000, 16000)
	if len(up) != 16 {
		t.Fatalf("len = %d, want 16", len(up))
	}
	if math.Abs(up[3]-1.5) > 1e-12 {
		t.Errorf("up[3] = %f, want 1.5", up[3])
	}
	down := Resample(ramp, 16000, 8000)
	if want := []float64{0, 2, 4, 6}; !floats.Equal(down, want) {
		t.Errorf("down = %v, want %v", down, want)
	}
	same := Resample(ramp, 100, 100)
	same[0] = 42
	if ramp[0] != 0 {
		t.Error("equal-rate Resample aliases its input")
	}
	if Resample(nil, 8000, 16000) != nil || Resample(ramp, 0, 16000) != nil {
		t.Error("expected nil for empty input or bad rate")
	}
}

func TestSpeedPerturb(t *testing.T) {
	ramp := []float64{0, 1, 2, 3, 4}
	slow := SpeedPerturb(ramp, 0.5)
	if len(slow) != 10 {
		t.Fatalf("len = %d, want 10", len(slow))
	}
	for i := 0; i < 9; i++ {
		if want := float64(i) * 0.5; math.Abs(slow[i]-want) > 1e-12 {
			t.Errorf("slow[%d] = %f, want %f", i, slow[i], want)
		}
	}
	if slow[9] != 4 {
		t.Errorf("slow[9] = %f, want the last sample", slow[9])
	}
	factor := 1.1
	if got := len(SpeedPerturb(make([]float64, 16000), factor)); got != int(16000/factor) {
		t.Errorf("fast len = %d", got)
	}
	if SpeedPerturb(ramp, 0) != nil || SpeedPerturb(nil, 1) != nil {
		t.Error("expected nil for empty input or factor <= 0")
	}
}
