package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientCodeFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"P001/recording.c3d", "P001"},
		{"/P042/2026-08-01/game.c3d", "P042"},
		{"uploads/P999/session.c3d", "P999"},
		{"recording.c3d", ""},
		{"PX01/recording.c3d", ""},
		{"P1234/recording.c3d", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PatientCodeFromPath(tt.path), tt.path)
	}
}

func TestFormatCode(t *testing.T) {
	code, err := FormatCode("P012", 3)
	require.NoError(t, err)
	assert.Equal(t, "P012S003", code)

	_, err = FormatCode("X012", 3)
	require.Error(t, err)
	_, err = FormatCode("P012", 0)
	require.Error(t, err)
	_, err = FormatCode("P012", 1000)
	require.Error(t, err)
}

func TestParseCode(t *testing.T) {
	patient, ordinal, err := ParseCode("P012S003")
	require.NoError(t, err)
	assert.Equal(t, "P012", patient)
	assert.Equal(t, 3, ordinal)

	for _, bad := range []string{"P012", "S003", "P012S03", "p012s003", "P012S0034"} {
		_, _, err := ParseCode(bad)
		assert.Error(t, err, bad)
	}
}

func TestChannelSide(t *testing.T) {
	assert.Equal(t, "left", channelSide("EMG Left Quad", 5))
	assert.Equal(t, "right", channelSide("EMG Right Quad", 0))
	assert.Equal(t, "left", channelSide("CH1", 0))
	assert.Equal(t, "right", channelSide("CH2", 1))
}
