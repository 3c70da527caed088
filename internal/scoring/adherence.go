package scoring

import "fmt"

// AdherenceCategory buckets an adherence percentage for clinical reporting.
type AdherenceCategory string

const (
	AdherenceExcellent AdherenceCategory = "excellent" // >= 90%
	AdherenceGood      AdherenceCategory = "good"      // >= 75%
	AdherenceFair      AdherenceCategory = "fair"      // >= 50%
	AdherencePoor      AdherenceCategory = "poor"      // < 50%
)

// Adherence is the temporal-baseline adherence result for a protocol day.
type Adherence struct {
	ProtocolDay      int               `json:"protocol_day"`
	ExpectedSessions float64           `json:"expected_sessions"`
	CompletedSessions int              `json:"completed_sessions"`
	Percent          float64           `json:"percent"`
	Category         AdherenceCategory `json:"category"`
}

// ComputeAdherence compares completed sessions against the linear
// expectation for the given protocol day. The caller supplies the day so
// results are reproducible; the calculator never consults the clock.
func ComputeAdherence(plannedTotal, trialLengthDays, completed, protocolDay int) (*Adherence, error) {
	if plannedTotal <= 0 || trialLengthDays <= 0 {
		return nil, fmt.Errorf("planned sessions (%d) and trial length (%d) must be positive", plannedTotal, trialLengthDays)
	}
	if protocolDay < 0 || completed < 0 {
		return nil, fmt.Errorf("protocol day (%d) and completed sessions (%d) must be non-negative", protocolDay, completed)
	}

	expected := float64(plannedTotal) / float64(trialLengthDays) * float64(protocolDay)

	ratio := 1.0
	if expected > 0 {
		ratio = float64(completed) / expected
		if ratio > 1 {
			ratio = 1
		}
	}
	percent := ratio * 100

	return &Adherence{
		ProtocolDay:       protocolDay,
		ExpectedSessions:  expected,
		CompletedSessions: completed,
		Percent:           percent,
		Category:          categorize(percent),
	}, nil
}

func categorize(percent float64) AdherenceCategory {
	switch {
	case percent >= 90:
		return AdherenceExcellent
	case percent >= 75:
		return AdherenceGood
	case percent >= 50:
		return AdherenceFair
	default:
		return AdherencePoor
	}
}
