package signal

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SpectralStats are the frequency-domain fatigue indicators for a channel.
type SpectralStats struct {
	RMS          float64
	MAV          float64
	MPFHz        float64
	MDFHz        float64
	FatigueIndex float64
}

// ComputeSpectralStats derives RMS, MAV, mean and median power frequency
// and a fatigue index from the raw (pre-envelope) channel. The fatigue
// index is the normalized slope of the median frequency across analysis
// windows; a negative value indicates spectral compression under fatigue.
func ComputeSpectralStats(x []float64, fs float64) SpectralStats {
	stats := SpectralStats{
		RMS: rms(x),
		MAV: mav(x),
	}
	if len(x) < 8 || fs <= 0 {
		return stats
	}

	stats.MPFHz, stats.MDFHz = powerFrequencies(x, fs)
	stats.FatigueIndex = fatigueIndex(x, fs)
	return stats
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func mav(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += math.Abs(v)
	}
	return sum / float64(len(x))
}

// powerFrequencies computes mean and median power frequency from the
// one-sided power spectrum. The DC bin is excluded so baseline offset does
// not drag the estimates toward zero.
func powerFrequencies(x []float64, fs float64) (mpf, mdf float64) {
	n := len(x)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, x)

	power := make([]float64, len(coeffs))
	total := 0.0
	for i := 1; i < len(coeffs); i++ {
		p := cmplx.Abs(coeffs[i])
		power[i] = p * p
		total += power[i]
	}
	if total == 0 {
		return 0, 0
	}

	freq := func(i int) float64 { return float64(i) * fs / float64(n) }

	weighted := 0.0
	for i := 1; i < len(power); i++ {
		weighted += freq(i) * power[i]
	}
	mpf = weighted / total

	cum := 0.0
	for i := 1; i < len(power); i++ {
		cum += power[i]
		if cum >= total/2 {
			mdf = freq(i)
			break
		}
	}
	return mpf, mdf
}

// fatigueIndex fits a least-squares line to per-window median frequencies
// and normalizes the slope by the mean MDF, yielding a dimensionless
// per-second drift rate.
func fatigueIndex(x []float64, fs float64) float64 {
	windowLen := int(fs) // one-second analysis windows
	if windowLen < 8 {
		return 0
	}
	numWindows := len(x) / windowLen
	if numWindows < 2 {
		return 0
	}

	times := make([]float64, 0, numWindows)
	mdfs := make([]float64, 0, numWindows)
	for w := 0; w < numWindows; w++ {
		seg := x[w*windowLen : (w+1)*windowLen]
		_, mdf := powerFrequencies(seg, fs)
		if mdf > 0 {
			times = append(times, float64(w))
			mdfs = append(mdfs, mdf)
		}
	}
	if len(mdfs) < 2 {
		return 0
	}

	slope := linearSlope(times, mdfs)
	meanMDF := mean(mdfs)
	if meanMDF == 0 {
		return 0
	}
	return slope / meanMDF
}

func linearSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sx, sy, sxx, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / denom
}
