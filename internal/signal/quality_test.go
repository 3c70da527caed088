package signal

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emgflow/emgflow/internal/errs"
)

func qualitySignal(n int, fs float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 5 * float64(i) / fs)
	}
	return x
}

func TestCheckQualityBoundaries(t *testing.T) {
	thresholds := DefaultQualityThresholds()

	// Exactly MinSamples passes when the duration also fits the window.
	// 1000 samples at 50 Hz is 20 s.
	require.NoError(t, CheckQuality("ch", qualitySignal(1000, 50), 50, thresholds))

	// One fewer fails.
	err := CheckQuality("ch", qualitySignal(999, 50), 50, thresholds)
	require.Error(t, err)
	var qerr *errs.SignalQualityError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, 999, qerr.Samples)
}

func TestCheckQualityDurationWindow(t *testing.T) {
	thresholds := DefaultQualityThresholds()

	// 5 s at 1000 Hz: enough samples, too short.
	require.Error(t, CheckQuality("ch", qualitySignal(5000, 1000), 1000, thresholds))

	// 700 s at 10 Hz: too long.
	require.Error(t, CheckQuality("ch", qualitySignal(7000, 10), 10, thresholds))
}

func TestCheckQualityRejectsFlatline(t *testing.T) {
	flat := make([]float64, 20000)
	err := CheckQuality("ch", flat, 1000, DefaultQualityThresholds())
	require.Error(t, err)
}

func TestCheckQualityRejectsNonFinite(t *testing.T) {
	x := qualitySignal(20000, 1000)
	x[100] = math.NaN()
	require.Error(t, CheckQuality("ch", x, 1000, DefaultQualityThresholds()))

	x[100] = math.Inf(1)
	require.Error(t, CheckQuality("ch", x, 1000, DefaultQualityThresholds()))
}
