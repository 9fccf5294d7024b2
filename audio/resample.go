package audio

// interpolate returns n samples read from src at positions i·step using
// linear interpolation; positions past the end repeat the last sample.
func interpolate(src []float64, n int, step float64) []float64 {
	out := make([]float64, n)
	last := len(src) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = src[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = src[j]*(1-frac) + src[j+1]*frac
	}
	return out
}

// Resample converts samples recorded at rate from to rate to.
// Equal rates return a copy.
func Resample(samples []float64, from, to int) []float64 {
	if len(samples) == 0 || from <= 0 || to <= 0 {
		return nil
	}
	if from == to {
		return append([]float64(nil), samples...)
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n == 0 {
		return nil
	}
	return interpolate(samples, n, float64(from)/float64(to))
}

// SpeedPerturb plays samples back factor times faster at an unchanged rate:
// factor > 1 shortens the clip and raises its pitch, factor < 1 lengthens it.
// The result has int(len(samples)/factor) samples.
func SpeedPerturb(samples []float64, factor float64) []float64 {
	if len(samples) == 0 || factor <= 0 {
		return nil
	}
	n := int(float64(len(samples)) / factor)
	if n == 0 {
		return nil
	}
	return interpolate(samples, n, factor)
}
