package contraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// burstEnvelope builds a zero envelope with rectangular bursts of the given
// amplitude over [start, end) sample ranges.
func burstEnvelope(n int, amplitude float64, bursts ...[2]int) []float64 {
	x := make([]float64, n)
	for _, b := range bursts {
		for i := b[0]; i < b[1] && i < n; i++ {
			x[i] = amplitude
		}
	}
	return x
}

func TestAnalyzeDetectsBursts(t *testing.T) {
	// 1 kHz: one 3 s burst and one 40 ms blip below the minimum duration.
	env := burstEnvelope(10000, 1.0, [2]int{1000, 4000}, [2]int{6000, 6040})

	a, err := Analyze(env, DefaultParams(1000))
	require.NoError(t, err)

	assert.Equal(t, 1, a.ContractionCount)
	require.Len(t, a.Contractions, 1)
	c := a.Contractions[0]
	assert.InDelta(t, 1000.0, c.StartMs, 1.0)
	assert.InDelta(t, 3000.0, c.DurationMs, 1.0)
	assert.InDelta(t, 1.0, c.MaxAmplitude, 1e-9)
	assert.InDelta(t, 0.3, a.ThresholdUsed, 1e-9)
}

func TestAnalyzeMergesAcrossShortGaps(t *testing.T) {
	// Two bursts 50 ms apart merge under the 100 ms hysteresis gap; two
	// bursts 200 ms apart stay separate.
	merged := burstEnvelope(10000, 1.0, [2]int{1000, 2000}, [2]int{2050, 3000})
	separate := burstEnvelope(10000, 1.0, [2]int{1000, 2000}, [2]int{2200, 3000})

	p := DefaultParams(1000)

	a, err := Analyze(merged, p)
	require.NoError(t, err)
	assert.Equal(t, 1, a.ContractionCount)

	a, err = Analyze(separate, p)
	require.NoError(t, err)
	assert.Equal(t, 2, a.ContractionCount)
}

func TestAnalyzeComplianceFlags(t *testing.T) {
	// Strong 2.5 s burst and a weak 0.5 s burst.
	env := burstEnvelope(10000, 0.0)
	for i := 1000; i < 3500; i++ {
		env[i] = 1.0
	}
	for i := 5000; i < 5500; i++ {
		env[i] = 0.4
	}

	p := DefaultParams(1000)
	p.ThresholdFactor = 0.3 // threshold 0.3, both bursts detected
	mvc := 0.75
	dur := 2000.0
	p.MVCThreshold = &mvc
	p.DurationThresholdMs = &dur

	a, err := Analyze(env, p)
	require.NoError(t, err)
	require.Equal(t, 2, a.ContractionCount)
	assert.Equal(t, 1, a.MVCCompliantCount)
	assert.Equal(t, 1, a.DurationCompliantCount)
	assert.Equal(t, 1, a.GoodContractionCount)

	strong := a.Contractions[0]
	assert.True(t, strong.MeetsMVC)
	assert.True(t, strong.MeetsDuration)
	assert.True(t, strong.IsGood)

	weak := a.Contractions[1]
	assert.False(t, weak.MeetsMVC)
	assert.False(t, weak.MeetsDuration)
	assert.False(t, weak.IsGood)
}

func TestAnalyzeNilThresholdsLeaveFlagsFalse(t *testing.T) {
	env := burstEnvelope(10000, 1.0, [2]int{1000, 4000})

	a, err := Analyze(env, DefaultParams(1000))
	require.NoError(t, err)
	require.Len(t, a.Contractions, 1)
	assert.False(t, a.Contractions[0].MeetsMVC)
	assert.False(t, a.Contractions[0].MeetsDuration)
	assert.False(t, a.Contractions[0].IsGood)
	assert.Zero(t, a.GoodContractionCount)
}

func TestAnalyzeEmptyAndFlatEnvelope(t *testing.T) {
	a, err := Analyze(nil, DefaultParams(1000))
	require.NoError(t, err)
	assert.Zero(t, a.ContractionCount)

	a, err = Analyze(make([]float64, 5000), DefaultParams(1000))
	require.NoError(t, err)
	assert.Zero(t, a.ContractionCount)
}

func TestAnalyzeRejectsBadRate(t *testing.T) {
	p := DefaultParams(0)
	_, err := Analyze([]float64{1, 2, 3}, p)
	require.Error(t, err)
}
