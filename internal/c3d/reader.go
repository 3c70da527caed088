// Package c3d decodes the binary C3D biomechanics container: header,
// parameter section and analog frame data. Decoding never panics across the
// package boundary; malformed input yields a structured decode error with
// whatever metadata was readable.
package c3d

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/emgflow/emgflow/internal/errs"
)

const blockSize = 512

// Intel (little-endian) processor type marker stored in the parameter header.
const processorIntel = 84

// Channel is one analog channel extracted from the recording.
type Channel struct {
	Name         string
	SamplingRate float64
	Samples      []float64
}

// File is the decoded recording: ordered analog channels plus the metadata
// bundle assembled from the INFO, SUBJECTS, ANALOG and POINT sections.
type File struct {
	Metadata map[string]interface{}
	Channels []Channel
}

type header struct {
	paramBlock       int
	pointCount       int
	analogPerFrame   int // total analog samples per 3D frame (channels * ratio)
	firstFrame       int
	lastFrame        int
	dataStart        int
	analogRatio      int // analog samples per 3D frame per channel
	pointRate        float64
	pointScale       float64
	floatData        bool
}

// Read decodes a complete C3D file from memory.
func Read(data []byte) (f *File, err error) {
	// A corrupted container must not take the worker down.
	defer func() {
		if r := recover(); r != nil {
			f = &File{Metadata: map[string]interface{}{}}
			err = &errs.C3DDecodeError{Section: "unknown", Err: fmt.Errorf("unexpected decode fault: %v", r)}
		}
	}()

	if len(data) < blockSize {
		return &File{Metadata: map[string]interface{}{}}, &errs.C3DDecodeError{
			Section: "header", Err: fmt.Errorf("file too small: %d bytes", len(data)),
		}
	}
	if data[1] != 0x50 {
		return &File{Metadata: map[string]interface{}{}}, &errs.C3DDecodeError{
			Section: "header", Err: fmt.Errorf("bad magic byte 0x%02x", data[1]),
		}
	}

	hdr := parseHeader(data)

	params, perr := parseParameters(data, hdr.paramBlock)
	if perr != nil {
		return &File{Metadata: map[string]interface{}{}}, perr
	}

	meta := buildMetadata(hdr, params)

	channels, cerr := parseAnalogData(data, hdr, params)
	if cerr != nil {
		// Metadata survives an unreadable data section.
		return &File{Metadata: meta}, cerr
	}

	return &File{Metadata: meta, Channels: channels}, nil
}

func parseHeader(data []byte) header {
	u16 := func(off int) int { return int(binary.LittleEndian.Uint16(data[off:])) }
	f32 := func(off int) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))) }

	h := header{
		paramBlock:     int(data[0]),
		pointCount:     u16(2),
		analogPerFrame: u16(4),
		firstFrame:     u16(6),
		lastFrame:      u16(8),
		pointScale:     f32(12),
		dataStart:      u16(16),
		analogRatio:    u16(18),
		pointRate:      f32(20),
	}
	h.floatData = h.pointScale < 0
	if h.analogRatio == 0 {
		h.analogRatio = 1
	}
	return h
}

// frameCount derives the number of 3D frames from the header frame range.
func (h header) frameCount() int {
	if h.lastFrame < h.firstFrame {
		return 0
	}
	return h.lastFrame - h.firstFrame + 1
}

// channelCount derives the number of analog channels per frame.
func (h header) channelCount() int {
	if h.analogPerFrame == 0 {
		return 0
	}
	return h.analogPerFrame / h.analogRatio
}

// buildMetadata assembles the metadata bundle. Missing sections yield
// missing keys, not errors.
func buildMetadata(hdr header, params paramMap) map[string]interface{} {
	meta := make(map[string]interface{})

	copyStr := func(key, group, param string) {
		if v, ok := params.str(group, param); ok && v != "" {
			meta[key] = v
		}
	}
	copyFloat := func(key, group, param string) {
		if v, ok := params.float(group, param); ok {
			meta[key] = v
		}
	}

	copyStr("game_name", "INFO", "GAME_NAME")
	copyStr("level", "INFO", "GAME_LEVEL")
	copyStr("level_name", "INFO", "GAME_LEVEL_NAME")
	copyStr("game_version", "INFO", "VERSION")
	copyStr("duration", "INFO", "DURATION")
	copyStr("therapist_id", "INFO", "THERAPIST_ID")
	copyStr("group_id", "INFO", "GROUP_ID")
	copyStr("time", "INFO", "TIME")
	copyStr("player_name", "SUBJECTS", "PLAYER_NAME")
	copyFloat("game_score", "SUBJECTS", "GAME_SCORE")
	copyStr("marker_set", "SUBJECTS", "MARKER_SETS")
	copyFloat("game_points_achieved", "SUBJECTS", "GAME_POINTS_ACHIEVED")
	copyFloat("game_points_max", "SUBJECTS", "GAME_POINTS_MAX")
	copyFloat("rpe", "SUBJECTS", "RPE")
	copyFloat("bfr_pressure_aop", "SUBJECTS", "BFR_PRESSURE_AOP")

	rate := analogRate(hdr, params)
	if rate > 0 {
		meta["sampling_rate"] = rate
	}
	if labels := channelLabels(hdr, params); len(labels) > 0 {
		meta["channel_names"] = labels
		meta["channel_count"] = len(labels)
	} else if n := hdr.channelCount(); n > 0 {
		meta["channel_count"] = n
	}
	if v, ok := params.float("ANALOG", "GEN_SCALE"); ok {
		meta["gen_scale"] = v
	}
	if fc := hdr.frameCount(); fc > 0 {
		meta["frame_count"] = fc
	}
	if hdr.pointRate > 0 {
		meta["point_rate"] = hdr.pointRate
	}
	if labels, ok := params.strSlice("POINT", "DATA_TYPE_LABELS"); ok {
		meta["data_type_labels"] = labels
	}
	if fc := hdr.frameCount(); fc > 0 && rate > 0 {
		// Analog samples per channel = frames * ratio; duration uses the
		// analog clock so it matches the extracted channel length.
		meta["duration_seconds"] = float64(fc*hdr.analogRatio) / rate
	}
	return meta
}

// analogRate resolves the analog sampling rate, preferring ANALOG:RATE over
// the header-derived point rate.
func analogRate(hdr header, params paramMap) float64 {
	if v, ok := params.float("ANALOG", "RATE"); ok && v > 0 {
		return v
	}
	if hdr.pointRate > 0 {
		return hdr.pointRate * float64(hdr.analogRatio)
	}
	return 0
}

// channelLabels resolves ordered channel names, falling back to CH%d when
// the ANALOG:LABELS parameter is absent or short.
func channelLabels(hdr header, params paramMap) []string {
	count := hdr.channelCount()
	if v, ok := params.float("ANALOG", "USED"); ok && int(v) > 0 {
		count = int(v)
	}
	if count <= 0 {
		return nil
	}
	labels, _ := params.strSlice("ANALOG", "LABELS")
	out := make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(labels) && strings.TrimSpace(labels[i]) != "" {
			out[i] = strings.TrimSpace(labels[i])
		} else {
			out[i] = fmt.Sprintf("CH%d", i+1)
		}
	}
	return out
}

// parseAnalogData extracts per-channel sample arrays from the frame data
// section, applying the analog scale chain for integer-encoded files.
func parseAnalogData(data []byte, hdr header, params paramMap) ([]Channel, error) {
	labels := channelLabels(hdr, params)
	channels := len(labels)
	if channels == 0 || hdr.frameCount() == 0 {
		return nil, nil
	}

	start := (hdr.dataStart - 1) * blockSize
	if start < 0 || start >= len(data) {
		return nil, &errs.C3DDecodeError{
			Section: "data", Offset: int64(start),
			Err: fmt.Errorf("data start block %d outside file", hdr.dataStart),
		}
	}

	rate := analogRate(hdr, params)
	genScale, _ := params.float("ANALOG", "GEN_SCALE")
	if genScale == 0 {
		genScale = 1
	}
	scales, _ := params.floatSlice("ANALOG", "SCALE")
	offsets, _ := params.floatSlice("ANALOG", "OFFSET")

	sampleSize := 2
	if hdr.floatData {
		sampleSize = 4
	}
	pointWords := 4 // x, y, z, residual+camera word per point
	frameBytes := hdr.pointCount*pointWords*sampleSize + hdr.analogPerFrame*sampleSize

	frames := hdr.frameCount()
	perChannel := frames * hdr.analogRatio
	out := make([]Channel, channels)
	for c := range out {
		out[c] = Channel{Name: labels[c], SamplingRate: rate, Samples: make([]float64, 0, perChannel)}
	}

	for fr := 0; fr < frames; fr++ {
		base := start + fr*frameBytes + hdr.pointCount*pointWords*sampleSize
		for s := 0; s < hdr.analogRatio; s++ {
			for c := 0; c < channels; c++ {
				off := base + (s*channels+c)*sampleSize
				if off+sampleSize > len(data) {
					return nil, &errs.C3DDecodeError{
						Section: "data", Offset: int64(off),
						Err: fmt.Errorf("truncated analog data at frame %d", fr+hdr.firstFrame),
					}
				}
				var v float64
				if hdr.floatData {
					v = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
				} else {
					raw := float64(int16(binary.LittleEndian.Uint16(data[off:])))
					offset := 0.0
					if c < len(offsets) {
						offset = offsets[c]
					}
					scale := 1.0
					if c < len(scales) {
						scale = scales[c]
					}
					v = (raw - offset) * scale * genScale
				}
				out[c].Samples = append(out[c].Samples, v)
			}
		}
	}
	return out, nil
}
