// Package signal implements the EMG preprocessing chain: quality gate,
// zero-phase Butterworth filtering, full-wave rectification and
// moving-average smoothing into an RMS envelope. The chain is a fold over
// ordered stage functions; each stage records a descriptor so the persisted
// parameters reflect what actually ran.
package signal

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/emgflow/emgflow/internal/errs"
)

// Params control the preprocessing chain. A non-positive cutoff or window
// disables the corresponding stage.
type Params struct {
	SamplingRate      float64
	HighPassCutoffHz  float64
	LowPassCutoffHz   float64
	FilterOrder       int
	SmoothingWindowMs float64
	Rectify           bool
	Quality           QualityThresholds
}

// DefaultParams returns the clinical processing defaults: 20 Hz high-pass,
// rectification, 10 Hz low-pass envelope, 50 ms smoothing.
func DefaultParams(fs float64) Params {
	return Params{
		SamplingRate:      fs,
		HighPassCutoffHz:  20,
		LowPassCutoffHz:   10,
		FilterOrder:       4,
		SmoothingWindowMs: 50,
		Rectify:           true,
		Quality:           DefaultQualityThresholds(),
	}
}

// Step describes one executed (or skipped) pipeline stage.
type Step struct {
	Name    string             `json:"name"`
	Applied bool               `json:"applied"`
	Warning string             `json:"warning,omitempty"`
	Params  map[string]float64 `json:"params,omitempty"`
}

// Stats summarize a signal before and after processing.
type Stats struct {
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// Result carries the processed envelope with full processing attribution.
type Result struct {
	Channel  string
	Signal   []float64
	Steps    []Step
	Used     Params
	Before   Stats
	After    Stats
	Spectral SpectralStats
	Err      error
}

// stage transforms a signal and reports what it did. Stages are
// independent: one failing stage does not stop the fold.
type stage func(x []float64, p *Params) ([]float64, Step, error)

// Process runs the full preprocessing chain on one raw channel. When the
// quality gate fails the result carries no signal and Err is populated; any
// later stage failure is recorded in its step descriptor and the chain
// continues with the unmodified signal.
func Process(channel string, raw []float64, p Params) Result {
	res := Result{Channel: channel, Used: p, Before: signalStats(raw)}

	if err := CheckQuality(channel, raw, p.SamplingRate, p.Quality); err != nil {
		res.Err = err
		res.Steps = append(res.Steps, Step{Name: "quality_gate", Applied: true, Warning: err.Error()})
		return res
	}
	res.Steps = append(res.Steps, Step{Name: "quality_gate", Applied: true})

	res.Spectral = ComputeSpectralStats(raw, p.SamplingRate)

	x := raw
	for _, st := range []stage{highPassStage, rectifyStage, lowPassStage, smoothingStage} {
		next, step, err := st(x, &res.Used)
		if err != nil {
			step.Warning = err.Error()
			res.Steps = append(res.Steps, step)
			continue
		}
		res.Steps = append(res.Steps, step)
		if next != nil {
			x = next
		}
	}

	res.Signal = x
	res.After = signalStats(x)
	return res
}

func highPassStage(x []float64, p *Params) ([]float64, Step, error) {
	step := Step{Name: "highpass_filter", Params: map[string]float64{
		"cutoff_hz": p.HighPassCutoffHz, "order": float64(p.FilterOrder),
	}}
	if p.HighPassCutoffHz <= 0 {
		return nil, step, nil
	}
	if p.HighPassCutoffHz/(p.SamplingRate/2) >= 1 {
		// Nyquist violation: skip rather than fail, the envelope is still usable.
		step.Warning = (&errs.NyquistWarning{
			RequestedHz: p.HighPassCutoffHz, CorrectedHz: 0, SamplingHz: p.SamplingRate,
		}).Error()
		log.Warn().Float64("cutoff_hz", p.HighPassCutoffHz).
			Float64("sampling_rate", p.SamplingRate).
			Msg("highpass cutoff above Nyquist, stage skipped")
		return nil, step, nil
	}
	sections, err := butterworthSections(p.FilterOrder, p.HighPassCutoffHz, p.SamplingRate, true)
	if err != nil {
		return nil, step, fmt.Errorf("highpass design failed: %w", err)
	}
	step.Applied = true
	return filtfilt(sections, x), step, nil
}

func rectifyStage(x []float64, p *Params) ([]float64, Step, error) {
	step := Step{Name: "rectification"}
	if !p.Rectify {
		return nil, step, nil
	}
	step.Applied = true
	return rectify(x), step, nil
}

func lowPassStage(x []float64, p *Params) ([]float64, Step, error) {
	step := Step{Name: "lowpass_filter"}
	if p.LowPassCutoffHz <= 0 {
		return nil, step, nil
	}
	cutoff := p.LowPassCutoffHz
	nyquistSafe := 0.9 * p.SamplingRate / 2
	if cutoff > nyquistSafe {
		warn := &errs.NyquistWarning{RequestedHz: cutoff, CorrectedHz: nyquistSafe, SamplingHz: p.SamplingRate}
		step.Warning = warn.Error()
		log.Warn().Float64("requested_hz", cutoff).Float64("corrected_hz", nyquistSafe).
			Msg("lowpass cutoff clamped to Nyquist-safe value")
		cutoff = nyquistSafe
		p.LowPassCutoffHz = cutoff
	}
	step.Params = map[string]float64{"cutoff_hz": cutoff, "order": float64(p.FilterOrder)}
	sections, err := butterworthSections(p.FilterOrder, cutoff, p.SamplingRate, false)
	if err != nil {
		return nil, step, fmt.Errorf("lowpass design failed: %w", err)
	}
	step.Applied = true
	return filtfilt(sections, x), step, nil
}

func smoothingStage(x []float64, p *Params) ([]float64, Step, error) {
	step := Step{Name: "moving_average", Params: map[string]float64{"window_ms": p.SmoothingWindowMs}}
	if p.SmoothingWindowMs <= 0 {
		return nil, step, nil
	}
	window := int(p.SmoothingWindowMs / 1000 * p.SamplingRate)
	if window < 1 {
		window = 1
	}
	step.Params["window_samples"] = float64(window)
	step.Applied = true
	return movingAverage(x, window), step, nil
}

func signalStats(x []float64) Stats {
	s := Stats{Samples: len(x)}
	if len(x) == 0 {
		return s
	}
	s.Min, s.Max = x[0], x[0]
	for _, v := range x {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = mean(x)
	s.Std = std(x)
	return s
}
