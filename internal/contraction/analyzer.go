// Package contraction detects muscle contractions on a processed EMG
// envelope and classifies them against MVC amplitude and duration
// thresholds.
package contraction

import (
	"fmt"
)

// Params control detection. MVCThreshold and DurationThresholdMs are
// optional: a nil threshold leaves the corresponding compliance flag false,
// so a contraction can only be "good" against supplied criteria.
type Params struct {
	SamplingRate        float64
	ThresholdFactor     float64  // fraction of envelope max, default 0.3
	MinDurationMs       float64  // discard shorter runs, default 50
	MergeGapMs          float64  // hysteresis gap between adjacent runs, default 100
	MVCThreshold        *float64 // absolute amplitude threshold
	DurationThresholdMs *float64 // therapeutic duration threshold
}

// DefaultParams returns conservative clinical detection defaults.
func DefaultParams(fs float64) Params {
	return Params{
		SamplingRate:    fs,
		ThresholdFactor: 0.3,
		MinDurationMs:   50,
		MergeGapMs:      100,
	}
}

// Contraction is one detected contraction with compliance flags.
type Contraction struct {
	StartMs       float64 `json:"start_ms"`
	EndMs         float64 `json:"end_ms"`
	DurationMs    float64 `json:"duration_ms"`
	MeanAmplitude float64 `json:"mean_amplitude"`
	MaxAmplitude  float64 `json:"max_amplitude"`
	MeetsMVC      bool    `json:"meets_mvc"`
	MeetsDuration bool    `json:"meets_duration"`
	IsGood        bool    `json:"is_good"`
}

// Analysis aggregates all detected contractions for one channel.
type Analysis struct {
	ContractionCount       int           `json:"contraction_count"`
	MVCCompliantCount      int           `json:"mvc_compliant_count"`
	DurationCompliantCount int           `json:"duration_compliant_count"`
	GoodContractionCount   int           `json:"good_contraction_count"`
	Contractions           []Contraction `json:"contractions"`
	ThresholdUsed          float64       `json:"threshold_used"`
}

// run is a half-open sample interval [start, end). Half-open intervals make
// the boundary-sample tie-break unambiguous: the earlier run owns it.
type run struct {
	start, end int
}

// Analyze detects contractions where the envelope exceeds
// factor * max(envelope), merges runs separated by less than the hysteresis
// gap, and discards runs shorter than the minimum duration.
func Analyze(envelope []float64, p Params) (*Analysis, error) {
	if p.SamplingRate <= 0 {
		return nil, fmt.Errorf("sampling rate must be positive, got %.2f", p.SamplingRate)
	}
	if p.ThresholdFactor <= 0 || p.ThresholdFactor >= 1 {
		return nil, fmt.Errorf("threshold factor must be in (0,1), got %.2f", p.ThresholdFactor)
	}

	maxVal := 0.0
	for _, v := range envelope {
		if v > maxVal {
			maxVal = v
		}
	}
	threshold := p.ThresholdFactor * maxVal
	analysis := &Analysis{ThresholdUsed: threshold}
	if maxVal == 0 {
		return analysis, nil
	}

	runs := detectRuns(envelope, threshold)
	runs = mergeRuns(runs, int(p.MergeGapMs/1000*p.SamplingRate))

	minSamples := int(p.MinDurationMs / 1000 * p.SamplingRate)
	msPerSample := 1000 / p.SamplingRate

	for _, r := range runs {
		if r.end-r.start < minSamples {
			continue
		}
		c := buildContraction(envelope, r, msPerSample, p)
		analysis.Contractions = append(analysis.Contractions, c)
		analysis.ContractionCount++
		if c.MeetsMVC {
			analysis.MVCCompliantCount++
		}
		if c.MeetsDuration {
			analysis.DurationCompliantCount++
		}
		if c.IsGood {
			analysis.GoodContractionCount++
		}
	}
	return analysis, nil
}

func detectRuns(envelope []float64, threshold float64) []run {
	var runs []run
	inRun := false
	start := 0
	for i, v := range envelope {
		above := v >= threshold
		switch {
		case above && !inRun:
			inRun = true
			start = i
		case !above && inRun:
			inRun = false
			runs = append(runs, run{start: start, end: i})
		}
	}
	if inRun {
		runs = append(runs, run{start: start, end: len(envelope)})
	}
	return runs
}

// mergeRuns joins adjacent runs separated by fewer than gapSamples, the
// hysteresis against envelope ripple splitting one contraction in two.
func mergeRuns(runs []run, gapSamples int) []run {
	if len(runs) < 2 || gapSamples <= 0 {
		return runs
	}
	merged := []run{runs[0]}
	for _, r := range runs[1:] {
		last := &merged[len(merged)-1]
		if r.start-last.end < gapSamples {
			last.end = r.end
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

func buildContraction(envelope []float64, r run, msPerSample float64, p Params) Contraction {
	seg := envelope[r.start:r.end]
	sum, maxAmp := 0.0, 0.0
	for _, v := range seg {
		sum += v
		if v > maxAmp {
			maxAmp = v
		}
	}

	c := Contraction{
		StartMs:       float64(r.start) * msPerSample,
		EndMs:         float64(r.end) * msPerSample,
		DurationMs:    float64(r.end-r.start) * msPerSample,
		MeanAmplitude: sum / float64(len(seg)),
		MaxAmplitude:  maxAmp,
	}
	if p.MVCThreshold != nil {
		c.MeetsMVC = maxAmp >= *p.MVCThreshold
	}
	if p.DurationThresholdMs != nil {
		c.MeetsDuration = c.DurationMs >= *p.DurationThresholdMs
	}
	c.IsGood = c.MeetsMVC && c.MeetsDuration
	return c
}
