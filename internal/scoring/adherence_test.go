package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAdherence(t *testing.T) {
	tests := []struct {
		name        string
		completed   int
		protocolDay int
		percent     float64
		category    AdherenceCategory
	}{
		{"on schedule", 10, 7, 100, AdherenceExcellent},
		{"slightly behind", 8, 7, 80, AdherenceGood},
		{"half done", 5, 7, 50, AdherenceFair},
		{"far behind", 2, 7, 20, AdherencePoor},
		{"ahead of schedule clamps", 14, 7, 100, AdherenceExcellent},
	}

	// 30 planned sessions over 21 days: 10 expected by day 7.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ComputeAdherence(30, 21, tt.completed, tt.protocolDay)
			require.NoError(t, err)
			assert.InDelta(t, 10.0, a.ExpectedSessions, 1e-9)
			assert.InDelta(t, tt.percent, a.Percent, 1e-9)
			assert.Equal(t, tt.category, a.Category)
		})
	}
}

func TestComputeAdherenceDayZero(t *testing.T) {
	a, err := ComputeAdherence(30, 21, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, a.Percent, 1e-9)
	assert.Equal(t, AdherenceExcellent, a.Category)
}

func TestComputeAdherenceRejectsBadInput(t *testing.T) {
	_, err := ComputeAdherence(0, 21, 1, 1)
	require.Error(t, err)
	_, err = ComputeAdherence(30, 21, -1, 1)
	require.Error(t, err)
}
