package c3d

import (
	"encoding/binary"
	"math"
	"sort"
)

// Builder assembles a minimal valid C3D file: header block, parameter
// section, and float-encoded analog frame data. It backs synthetic fixtures
// and round-trip checks; production traffic only ever decodes.
type Builder struct {
	rate     float64
	channels []Channel
	strs     map[string]map[string]string
	floats   map[string]map[string]float64
}

// NewBuilder creates a builder for the given analog sampling rate.
func NewBuilder(rate float64) *Builder {
	return &Builder{
		rate:   rate,
		strs:   make(map[string]map[string]string),
		floats: make(map[string]map[string]float64),
	}
}

// AddChannel appends an analog channel. All channels must carry the same
// sample count.
func (b *Builder) AddChannel(name string, samples []float64) *Builder {
	b.channels = append(b.channels, Channel{Name: name, SamplingRate: b.rate, Samples: samples})
	return b
}

// SetString records a string parameter under GROUP:NAME.
func (b *Builder) SetString(group, name, value string) *Builder {
	if b.strs[group] == nil {
		b.strs[group] = make(map[string]string)
	}
	b.strs[group][name] = value
	return b
}

// SetFloat records a float parameter under GROUP:NAME.
func (b *Builder) SetFloat(group, name string, value float64) *Builder {
	if b.floats[group] == nil {
		b.floats[group] = make(map[string]float64)
	}
	b.floats[group][name] = value
	return b
}

// Bytes encodes the file.
func (b *Builder) Bytes() []byte {
	frames := 0
	if len(b.channels) > 0 {
		frames = len(b.channels[0].Samples)
	}

	paramSection := b.encodeParams()
	paramBlocks := (len(paramSection) + blockSize - 1) / blockSize
	if paramBlocks == 0 {
		paramBlocks = 1
	}
	dataStartBlock := 2 + paramBlocks

	header := make([]byte, blockSize)
	header[0] = 2 // parameter section begins at block 2
	header[1] = 0x50
	putU16 := func(off, v int) { binary.LittleEndian.PutUint16(header[off:], uint16(v)) }
	putF32 := func(off int, v float64) {
		binary.LittleEndian.PutUint32(header[off:], math.Float32bits(float32(v)))
	}
	putU16(2, 0)               // no 3D points
	putU16(4, len(b.channels)) // analog samples per frame
	putU16(6, 1)
	putU16(8, frames)
	putF32(12, -1) // negative scale marks float data
	putU16(16, dataStartBlock)
	putU16(18, 1) // one analog sample per frame per channel
	putF32(20, b.rate)

	out := make([]byte, 0, blockSize*(1+paramBlocks)+frames*len(b.channels)*4)
	out = append(out, header...)
	out = append(out, paramSection...)
	for len(out) < blockSize*(1+paramBlocks) {
		out = append(out, 0)
	}

	for fr := 0; fr < frames; fr++ {
		for _, ch := range b.channels {
			var bits [4]byte
			binary.LittleEndian.PutUint32(bits[:], math.Float32bits(float32(ch.Samples[fr])))
			out = append(out, bits[:]...)
		}
	}
	return out
}

// encodeParams lays out group and parameter records the way the reader
// walks them.
func (b *Builder) encodeParams() []byte {
	buf := []byte{1, 0x50, 0, processorIntel}

	groups := b.groupOrder()
	groupID := make(map[string]int, len(groups))
	for i, g := range groups {
		groupID[g] = i + 1
		buf = appendGroupRecord(buf, -(i + 1), g)
	}

	for _, g := range groups {
		id := groupID[g]
		if g == "ANALOG" {
			buf = appendFloatParam(buf, id, "USED", []float64{float64(len(b.channels))})
			buf = appendFloatParam(buf, id, "RATE", []float64{b.rate})
			buf = appendFloatParam(buf, id, "GEN_SCALE", []float64{1})
			if len(b.channels) > 0 {
				labels := make([]string, len(b.channels))
				for i, ch := range b.channels {
					labels[i] = ch.Name
				}
				buf = appendStringParam(buf, id, "LABELS", labels)
			}
		}
		for _, name := range sortedKeys(b.strs[g]) {
			buf = appendStringParam(buf, id, name, []string{b.strs[g][name]})
		}
		for _, name := range sortedKeys(b.floats[g]) {
			buf = appendFloatParam(buf, id, name, []float64{b.floats[g][name]})
		}
	}

	buf = append(buf, 0, 0) // terminator
	blocks := (len(buf) + blockSize - 1) / blockSize
	buf[2] = byte(blocks)
	for len(buf) < blocks*blockSize {
		buf = append(buf, 0)
	}
	return buf
}

func (b *Builder) groupOrder() []string {
	set := map[string]bool{"ANALOG": true}
	for g := range b.strs {
		set[g] = true
	}
	for g := range b.floats {
		set[g] = true
	}
	groups := make([]string, 0, len(set))
	for g := range set {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendGroupRecord(buf []byte, id int, name string) []byte {
	buf = append(buf, byte(len(name)), byte(int8(id)))
	buf = append(buf, name...)
	// next offset: 2 bytes for itself plus an empty description
	buf = append(buf, 3, 0, 0)
	return buf
}

func appendFloatParam(buf []byte, id int, name string, values []float64) []byte {
	buf = append(buf, byte(len(name)), byte(int8(id)))
	buf = append(buf, name...)
	payload := 2 + 1 + 1 + 1 + len(values)*4 + 1 // next + type + ndims + dim + data + desc
	buf = append(buf, byte(payload), byte(payload>>8))
	buf = append(buf, 4, 1, byte(len(values)))
	for _, v := range values {
		var bits [4]byte
		binary.LittleEndian.PutUint32(bits[:], math.Float32bits(float32(v)))
		buf = append(buf, bits[:]...)
	}
	buf = append(buf, 0)
	return buf
}

func appendStringParam(buf []byte, id int, name string, values []string) []byte {
	strLen := 0
	for _, v := range values {
		if len(v) > strLen {
			strLen = len(v)
		}
	}
	if strLen == 0 {
		strLen = 1
	}

	buf = append(buf, byte(len(name)), byte(int8(id)))
	buf = append(buf, name...)
	payload := 2 + 1 + 1 + 2 + strLen*len(values) + 1
	buf = append(buf, byte(payload), byte(payload>>8))
	buf = append(buf, 0xFF, 2, byte(strLen), byte(len(values)))
	for _, v := range values {
		padded := make([]byte, strLen)
		for i := range padded {
			padded[i] = ' '
		}
		copy(padded, v)
		buf = append(buf, padded...)
	}
	buf = append(buf, 0)
	return buf
}
