package cache

import (
	"encoding/json"
	"time"
)

// Payload is the cached analysis bundle. Analytics and Params stay opaque
// at this layer; the session processor owns their shapes.
type Payload struct {
	Analytics         json.RawMessage `json:"analytics"`
	Params            json.RawMessage `json:"params"`
	ProcessingVersion string          `json:"processing_version"`
	ParamSignature    string          `json:"param_signature"`
	Fingerprint       string          `json:"fingerprint"`
	SourceSession     string          `json:"source_session"`
	ProcessingTimeMs  float64         `json:"processing_time_ms"`
	CachedAt          time.Time       `json:"cached_at"`
}

// Matches reports whether the payload was produced under the given key.
// A durable hit for the right fingerprint still misses when the pipeline
// version or parameters have changed since it was written.
func (p *Payload) Matches(key Key) bool {
	return p != nil &&
		p.Fingerprint == key.Fingerprint &&
		p.ProcessingVersion == key.ProcessingVersion &&
		p.ParamSignature == key.ParamSignature
}

func encodePayload(p *Payload) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
