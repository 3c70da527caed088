package c3d

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/emgflow/emgflow/internal/errs"
)

// paramValue holds one decoded parameter in its native representation.
type paramValue struct {
	strs   []string
	floats []float64
}

// paramMap indexes parameters by GROUP then NAME (both upper-cased).
type paramMap map[string]map[string]paramValue

func (p paramMap) lookup(group, name string) (paramValue, bool) {
	g, ok := p[group]
	if !ok {
		return paramValue{}, false
	}
	v, ok := g[name]
	return v, ok
}

func (p paramMap) str(group, name string) (string, bool) {
	v, ok := p.lookup(group, name)
	if !ok || len(v.strs) == 0 {
		return "", false
	}
	return strings.TrimSpace(v.strs[0]), true
}

func (p paramMap) strSlice(group, name string) ([]string, bool) {
	v, ok := p.lookup(group, name)
	if !ok || len(v.strs) == 0 {
		return nil, false
	}
	out := make([]string, len(v.strs))
	for i, s := range v.strs {
		out[i] = strings.TrimSpace(s)
	}
	return out, true
}

func (p paramMap) float(group, name string) (float64, bool) {
	v, ok := p.lookup(group, name)
	if !ok || len(v.floats) == 0 {
		return 0, false
	}
	return v.floats[0], true
}

func (p paramMap) floatSlice(group, name string) ([]float64, bool) {
	v, ok := p.lookup(group, name)
	if !ok || len(v.floats) == 0 {
		return nil, false
	}
	return v.floats, true
}

// parseParameters walks the parameter section starting at the given 1-based
// block index. Group records (negative id) name the groups; parameter
// records (positive id) attach to them.
func parseParameters(data []byte, paramBlock int) (paramMap, error) {
	start := (paramBlock - 1) * blockSize
	if start < 0 || start+4 > len(data) {
		return nil, &errs.C3DDecodeError{
			Section: "parameters", Offset: int64(start),
			Err: fmt.Errorf("parameter block %d outside file", paramBlock),
		}
	}

	// Parameter header: 2 reserved bytes, block count, processor type.
	if proc := int(data[start+3]); proc != 0 && proc != processorIntel {
		return nil, &errs.C3DDecodeError{
			Section: "parameters", Offset: int64(start + 3),
			Err: fmt.Errorf("unsupported processor type %d", proc),
		}
	}

	params := make(paramMap)
	groupNames := make(map[int]string)
	type pending struct {
		groupID int
		name    string
		value   paramValue
	}
	var deferred []pending

	pos := start + 4
	for pos < len(data) {
		if pos+2 > len(data) {
			break
		}
		nameLen := int(int8(data[pos]))
		id := int(int8(data[pos+1]))
		if nameLen == 0 || id == 0 {
			break // end of parameter section
		}
		if nameLen < 0 {
			nameLen = -nameLen // negative length marks a locked record
		}
		pos += 2
		if pos+nameLen+2 > len(data) {
			return nil, truncated(pos)
		}
		name := strings.ToUpper(strings.TrimSpace(string(data[pos : pos+nameLen])))
		pos += nameLen

		next := int(binary.LittleEndian.Uint16(data[pos:]))
		recordStart := pos
		pos += 2

		if id < 0 {
			// Group record: description only.
			groupNames[-id] = name
		} else {
			val, err := parseParamData(data, &pos)
			if err != nil {
				return nil, err
			}
			if gname, ok := groupNames[id]; ok {
				addParam(params, gname, name, val)
			} else {
				deferred = append(deferred, pending{groupID: id, name: name, value: val})
			}
		}

		if next == 0 {
			break
		}
		pos = recordStart + next
		if pos <= recordStart || pos > len(data) {
			break
		}
	}

	// Parameters are allowed to precede their group record.
	for _, d := range deferred {
		if gname, ok := groupNames[d.groupID]; ok {
			addParam(params, gname, d.name, d.value)
		}
	}
	return params, nil
}

func addParam(params paramMap, group, name string, val paramValue) {
	if params[group] == nil {
		params[group] = make(map[string]paramValue)
	}
	params[group][name] = val
}

// parseParamData decodes a parameter's type, dimensions and payload,
// advancing pos past the payload.
func parseParamData(data []byte, pos *int) (paramValue, error) {
	p := *pos
	if p+2 > len(data) {
		return paramValue{}, truncated(p)
	}
	dtype := int(int8(data[p]))
	ndims := int(data[p+1])
	p += 2
	if ndims > 7 || p+ndims > len(data) {
		return paramValue{}, truncated(p)
	}
	dims := make([]int, ndims)
	total := 1
	for i := 0; i < ndims; i++ {
		dims[i] = int(data[p+i])
		total *= dims[i]
	}
	p += ndims

	elemSize := map[int]int{-1: 1, 1: 1, 2: 2, 4: 4}[abs(dtype)]
	if elemSize == 0 {
		return paramValue{}, &errs.C3DDecodeError{
			Section: "parameters", Offset: int64(p),
			Err: fmt.Errorf("unknown parameter type %d", dtype),
		}
	}
	if p+total*elemSize > len(data) {
		return paramValue{}, truncated(p)
	}

	var val paramValue
	switch dtype {
	case -1: // character data: first dimension is string length
		if ndims <= 1 {
			val.strs = []string{string(data[p : p+total])}
		} else {
			strLen := dims[0]
			count := total / strLen
			for i := 0; i < count; i++ {
				val.strs = append(val.strs, string(data[p+i*strLen:p+(i+1)*strLen]))
			}
		}
	case 1:
		for i := 0; i < total; i++ {
			val.floats = append(val.floats, float64(int8(data[p+i])))
		}
	case 2:
		for i := 0; i < total; i++ {
			val.floats = append(val.floats, float64(int16(binary.LittleEndian.Uint16(data[p+i*2:]))))
		}
	case 4:
		for i := 0; i < total; i++ {
			val.floats = append(val.floats, float64(math.Float32frombits(binary.LittleEndian.Uint32(data[p+i*4:]))))
		}
	}
	p += total * elemSize

	// Trailing description is skipped via the next-record offset.
	*pos = p
	return val, nil
}

func truncated(off int) error {
	return &errs.C3DDecodeError{
		Section: "parameters", Offset: int64(off),
		Err: fmt.Errorf("truncated parameter section"),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
