package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, fs float64, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * freq * float64(i) / fs)
	}
	return x
}

func signalRMS(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func TestRectifyNonNegative(t *testing.T) {
	x := []float64{-2, -0.5, 0, 0.5, 2}
	for _, v := range rectify(x) {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestMovingAverageWindowOneIsIdentity(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	out := movingAverage(x, 1)
	require.Len(t, out, len(x))
	for i := range x {
		assert.InDelta(t, x[i], out[i], 1e-12)
	}
}

func TestMovingAveragePreservesLength(t *testing.T) {
	x := sine(10, 1000, 5000)
	out := movingAverage(x, 50)
	assert.Len(t, out, len(x))
}

func TestHighPassRemovesDCOffset(t *testing.T) {
	fs := 1000.0
	n := 4000
	x := make([]float64, n)
	for i := range x {
		x[i] = 2.0 + math.Sin(2*math.Pi*80*float64(i)/fs)
	}

	sections, err := butterworthSections(4, 20, fs, true)
	require.NoError(t, err)
	out := filtfilt(sections, x)

	mean := 0.0
	for _, v := range out {
		mean += v
	}
	mean /= float64(len(out))
	assert.InDelta(t, 0.0, mean, 0.05)

	// The 80 Hz component sits in the passband and survives.
	assert.Greater(t, signalRMS(out), 0.5)
}

func TestLowPassAttenuatesHighFrequency(t *testing.T) {
	fs := 1000.0
	x := sine(200, fs, 4000)

	sections, err := butterworthSections(4, 10, fs, false)
	require.NoError(t, err)
	out := filtfilt(sections, x)

	assert.Less(t, signalRMS(out), 0.05*signalRMS(x))
}

func TestLowPassPassesLowFrequency(t *testing.T) {
	fs := 1000.0
	x := sine(2, fs, 8000)

	sections, err := butterworthSections(4, 10, fs, false)
	require.NoError(t, err)
	out := filtfilt(sections, x)

	assert.InDelta(t, signalRMS(x), signalRMS(out), 0.1*signalRMS(x))
}

func TestButterworthRejectsOddOrder(t *testing.T) {
	_, err := butterworthSections(3, 20, 1000, true)
	require.Error(t, err)
}
