package signal

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emgflow/emgflow/internal/errs"
)

func stepByName(t *testing.T, steps []Step, name string) Step {
	t.Helper()
	for _, s := range steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("step %q not recorded", name)
	return Step{}
}

func TestProcessFullChain(t *testing.T) {
	fs := 1000.0
	n := 15000 // 15 s
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = math.Sin(2*math.Pi*60*float64(i)/fs) + 0.3*math.Sin(2*math.Pi*150*float64(i)/fs)
	}

	res := Process("EMG Left", raw, DefaultParams(fs))
	require.NoError(t, res.Err)
	require.Len(t, res.Signal, n)

	assert.True(t, stepByName(t, res.Steps, "quality_gate").Applied)
	assert.True(t, stepByName(t, res.Steps, "highpass_filter").Applied)
	assert.True(t, stepByName(t, res.Steps, "rectification").Applied)
	assert.True(t, stepByName(t, res.Steps, "lowpass_filter").Applied)
	assert.True(t, stepByName(t, res.Steps, "moving_average").Applied)

	// The envelope of a rectified signal stays non-negative apart from
	// filter ringing.
	negative := 0
	for _, v := range res.Signal {
		if v < -0.05 {
			negative++
		}
	}
	assert.Less(t, negative, n/100)

	assert.Greater(t, res.Spectral.RMS, 0.0)
	assert.Greater(t, res.Spectral.MPFHz, 0.0)
	assert.Greater(t, res.Spectral.MDFHz, 0.0)
}

func TestProcessQualityGateFailure(t *testing.T) {
	raw := make([]float64, 100)
	res := Process("EMG Left", raw, DefaultParams(1000))

	require.Error(t, res.Err)
	var qerr *errs.SignalQualityError
	require.True(t, errors.As(res.Err, &qerr))
	assert.Equal(t, "EMG Left", qerr.Channel)
	assert.Nil(t, res.Signal)

	gate := stepByName(t, res.Steps, "quality_gate")
	assert.NotEmpty(t, gate.Warning)
}

func TestProcessNyquistCorrections(t *testing.T) {
	// At 18 Hz the 20 Hz high-pass violates Nyquist and the 10 Hz low-pass
	// exceeds the safe band.
	fs := 18.0
	n := 1080 // 60 s
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = math.Sin(2 * math.Pi * 2 * float64(i) / fs)
	}

	res := Process("EMG Left", raw, DefaultParams(fs))
	require.NoError(t, res.Err)

	hp := stepByName(t, res.Steps, "highpass_filter")
	assert.False(t, hp.Applied)
	assert.NotEmpty(t, hp.Warning)

	lp := stepByName(t, res.Steps, "lowpass_filter")
	assert.True(t, lp.Applied)
	assert.NotEmpty(t, lp.Warning)
	assert.InDelta(t, 0.9*fs/2, res.Used.LowPassCutoffHz, 1e-9)
}

func TestProcessDisabledStages(t *testing.T) {
	fs := 1000.0
	raw := make([]float64, 12000)
	for i := range raw {
		raw[i] = math.Sin(2 * math.Pi * 40 * float64(i) / fs)
	}

	p := DefaultParams(fs)
	p.HighPassCutoffHz = 0
	p.SmoothingWindowMs = 0

	res := Process("EMG Left", raw, p)
	require.NoError(t, res.Err)
	assert.False(t, stepByName(t, res.Steps, "highpass_filter").Applied)
	assert.False(t, stepByName(t, res.Steps, "moving_average").Applied)
	assert.True(t, stepByName(t, res.Steps, "lowpass_filter").Applied)
}
