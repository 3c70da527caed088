package signal

import (
	"math"

	"github.com/emgflow/emgflow/internal/errs"
)

// QualityThresholds define the clinical acceptance window for a raw channel.
type QualityThresholds struct {
	MinSamples     int
	MinStd         float64
	MinDurationSec float64
	MaxDurationSec float64
}

// DefaultQualityThresholds returns the clinical defaults: at least 1000
// samples, detectable variation, and a 10 s to 10 min recording window.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinSamples:     1000,
		MinStd:         1e-10,
		MinDurationSec: 10,
		MaxDurationSec: 600,
	}
}

// CheckQuality validates a raw channel against the thresholds. The returned
// error is always a *errs.SignalQualityError carrying the measured values.
func CheckQuality(channel string, x []float64, fs float64, t QualityThresholds) error {
	duration := 0.0
	if fs > 0 {
		duration = float64(len(x)) / fs
	}
	fail := func(reason string) error {
		return &errs.SignalQualityError{
			Channel:        channel,
			Samples:        len(x),
			MinSamples:     t.MinSamples,
			DurationSec:    duration,
			MinDurationSec: t.MinDurationSec,
			MaxDurationSec: t.MaxDurationSec,
			SamplingRateHz: fs,
			Reason:         reason,
		}
	}

	if len(x) < t.MinSamples {
		return fail("too few samples")
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("signal contains NaN or Inf")
		}
	}
	if std(x) < t.MinStd {
		return fail("insufficient signal variation")
	}
	if duration < t.MinDurationSec {
		return fail("recording too short")
	}
	if duration > t.MaxDurationSec {
		return fail("recording too long")
	}
	return nil
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func std(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := mean(x)
	sum := 0.0
	for _, v := range x {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(x)))
}
