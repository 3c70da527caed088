package signal

import (
	"fmt"
	"math"
)

// biquad is one second-order IIR section in direct form II transposed.
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (s biquad) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	var z1, z2 float64
	for i, v := range x {
		y := s.b0*v + z1
		z1 = s.b1*v - s.a1*y + z2
		z2 = s.b2*v - s.a2*y
		out[i] = y
	}
	return out
}

// butterworthSections designs an even-order Butterworth filter as a cascade
// of second-order sections. Section Q values follow the Butterworth pole
// angles theta_k = pi*(2k+1)/(2n).
func butterworthSections(order int, cutoffHz, fs float64, highpass bool) ([]biquad, error) {
	if order < 2 || order%2 != 0 {
		return nil, fmt.Errorf("butterworth order must be even and >= 2, got %d", order)
	}
	ratio := cutoffHz / (fs / 2)
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("cutoff %.2fHz outside (0, %.2fHz) for fs=%.2fHz", cutoffHz, fs/2, fs)
	}

	w0 := 2 * math.Pi * cutoffHz / fs
	cosw := math.Cos(w0)
	sinw := math.Sin(w0)

	n := order / 2
	sections := make([]biquad, n)
	for k := 0; k < n; k++ {
		theta := math.Pi * float64(2*k+1) / float64(2*order)
		q := 1 / (2 * math.Cos(theta))
		alpha := sinw / (2 * q)

		a0 := 1 + alpha
		var b0, b1, b2 float64
		if highpass {
			b0 = (1 + cosw) / 2
			b1 = -(1 + cosw)
			b2 = b0
		} else {
			b0 = (1 - cosw) / 2
			b1 = 1 - cosw
			b2 = b0
		}
		sections[k] = biquad{
			b0: b0 / a0,
			b1: b1 / a0,
			b2: b2 / a0,
			a1: (-2 * cosw) / a0,
			a2: (1 - alpha) / a0,
		}
	}
	return sections, nil
}

// filtfilt applies the section cascade forward and backward for zero phase
// distortion, with reflective edge padding to suppress startup transients.
func filtfilt(sections []biquad, x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	pad := 3 * 2 * len(sections) * 4
	if pad > len(x)-1 {
		pad = len(x) - 1
	}

	ext := make([]float64, 0, len(x)+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := len(x) - 2; i >= len(x)-1-pad; i-- {
		ext = append(ext, 2*x[len(x)-1]-x[i])
	}

	for _, s := range sections {
		ext = s.apply(ext)
	}
	reverse(ext)
	for _, s := range sections {
		ext = s.apply(ext)
	}
	reverse(ext)

	out := make([]float64, len(x))
	copy(out, ext[pad:pad+len(x)])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// movingAverage computes a "same"-length moving average over the given
// window. A window of one sample is the identity.
func movingAverage(x []float64, window int) []float64 {
	if window <= 1 || len(x) == 0 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}
	if window > len(x) {
		window = len(x)
	}

	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}

	out := make([]float64, len(x))
	half := window / 2
	for i := range x {
		lo := i - half
		hi := lo + window
		if lo < 0 {
			lo = 0
		}
		if hi > len(x) {
			hi = len(x)
		}
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

// rectify returns the full-wave rectified signal.
func rectify(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}
	return out
}
