package c3d

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emgflow/emgflow/internal/errs"
)

func testRecording(t *testing.T) []byte {
	t.Helper()

	n := 2000
	left := make([]float64, n)
	right := make([]float64, n)
	for i := range left {
		left[i] = math.Sin(2 * math.Pi * 40 * float64(i) / 1000)
		right[i] = 0.5 * math.Sin(2*math.Pi*40*float64(i)/1000)
	}

	return NewBuilder(1000).
		AddChannel("EMG Left Quad", left).
		AddChannel("EMG Right Quad", right).
		SetString("INFO", "GAME_NAME", "SpaceRehab").
		SetString("INFO", "GAME_LEVEL", "3").
		SetString("SUBJECTS", "PLAYER_NAME", "P001").
		SetFloat("SUBJECTS", "RPE", 6).
		SetFloat("SUBJECTS", "GAME_POINTS_ACHIEVED", 80).
		SetFloat("SUBJECTS", "GAME_POINTS_MAX", 100).
		SetFloat("SUBJECTS", "BFR_PRESSURE_AOP", 50).
		Bytes()
}

func TestReadRoundTrip(t *testing.T) {
	file, err := Read(testRecording(t))
	require.NoError(t, err)

	require.Len(t, file.Channels, 2)
	assert.Equal(t, "EMG Left Quad", file.Channels[0].Name)
	assert.Equal(t, "EMG Right Quad", file.Channels[1].Name)
	assert.InDelta(t, 1000.0, file.Channels[0].SamplingRate, 1e-6)
	require.Len(t, file.Channels[0].Samples, 2000)

	// Float32 storage bounds the round-trip error.
	for i := 0; i < 100; i++ {
		expected := math.Sin(2 * math.Pi * 40 * float64(i) / 1000)
		assert.InDelta(t, expected, file.Channels[0].Samples[i], 1e-5)
	}
	assert.InDelta(t, 0.5*math.Sin(2*math.Pi*40*10/1000), file.Channels[1].Samples[10], 1e-5)

	assert.Equal(t, "SpaceRehab", file.Metadata["game_name"])
	assert.Equal(t, "3", file.Metadata["level"])
	assert.Equal(t, "P001", file.Metadata["player_name"])
	assert.InDelta(t, 6.0, file.Metadata["rpe"].(float64), 1e-6)
	assert.InDelta(t, 50.0, file.Metadata["bfr_pressure_aop"].(float64), 1e-6)
	assert.Equal(t, 2, file.Metadata["channel_count"])
	assert.InDelta(t, 2.0, file.Metadata["duration_seconds"].(float64), 1e-6)
}

func TestReadTooSmall(t *testing.T) {
	file, err := Read([]byte{1, 0x50, 3})
	require.Error(t, err)

	var derr *errs.C3DDecodeError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "header", derr.Section)
	require.NotNil(t, file)
	assert.Empty(t, file.Metadata)
}

func TestReadBadMagic(t *testing.T) {
	data := make([]byte, blockSize)
	data[0] = 2
	data[1] = 0x42

	_, err := Read(data)
	require.Error(t, err)

	var derr *errs.C3DDecodeError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "header", derr.Section)
}

func TestReadTruncatedDataKeepsMetadata(t *testing.T) {
	data := testRecording(t)
	// Cut into the frame data, leaving header and parameters intact.
	cut := data[:len(data)-1500]

	file, err := Read(cut)
	require.Error(t, err)

	var derr *errs.C3DDecodeError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "data", derr.Section)

	// Metadata recovered before the failure survives.
	require.NotNil(t, file)
	assert.Equal(t, "SpaceRehab", file.Metadata["game_name"])
}

func TestReadGarbageNeverPanics(t *testing.T) {
	data := make([]byte, 2048)
	data[0] = 200 // parameter block far outside the file
	data[1] = 0x50
	for i := 2; i < len(data); i++ {
		data[i] = byte(i * 31)
	}

	file, err := Read(data)
	require.Error(t, err)
	require.NotNil(t, file)
}
