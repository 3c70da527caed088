package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// keyPrefix namespaces all fast-layer entries written by this cache.
const keyPrefix = "emg:result:"

// Key identifies a cached analysis result. Two recordings with identical
// bytes processed under the same version and parameters share a key.
type Key struct {
	Fingerprint       string
	ProcessingVersion string
	ParamSignature    string
}

// Fingerprint computes the SHA-256 content hash of a raw recording.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ParamSignature canonicalizes a parameter bundle into a stable signature.
// Structs marshal with fixed field order, so identical parameters always
// produce identical signatures.
func ParamSignature(params interface{}) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize parameters: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// NewKey assembles a cache key from its three parts.
func NewKey(fingerprint, version string, params interface{}) (Key, error) {
	sig, err := ParamSignature(params)
	if err != nil {
		return Key{}, err
	}
	return Key{Fingerprint: fingerprint, ProcessingVersion: version, ParamSignature: sig}, nil
}

// String renders the fast-layer key. The fingerprint stays in clear inside
// the key so one recording's entries can be invalidated by prefix without
// touching the rest of the tier.
func (k Key) String() string {
	sum := sha256.Sum256([]byte(k.ProcessingVersion + "|" + k.ParamSignature))
	return fingerprintPrefix(k.Fingerprint) + hex.EncodeToString(sum[:])
}

// fingerprintPrefix is the fast-layer prefix shared by every entry derived
// from one recording's content.
func fingerprintPrefix(fingerprint string) string {
	return keyPrefix + fingerprint + ":"
}
