package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/emgflow/emgflow/internal/errs"
)

// Verifier checks HMAC-SHA256 signatures on webhook bodies. When no secret
// is configured, verification is skipped and a single warning is logged at
// startup rather than on every request.
type Verifier struct {
	secret   []byte
	log      zerolog.Logger
	warnOnce sync.Once
}

// NewVerifier creates a signature verifier. An empty secret disables
// verification.
func NewVerifier(secret string, log zerolog.Logger) *Verifier {
	return &Verifier{secret: []byte(secret), log: log}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Verify checks the signature header against the body. The header may be
// either "sha256=<hex>" or a bare hex digest. Comparison is constant time.
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Enabled() {
		v.warnOnce.Do(func() {
			v.log.Warn().Msg("webhook secret not configured, accepting unsigned events")
		})
		return nil
	}
	if header == "" {
		return &errs.SignatureError{Header: header}
	}

	provided := strings.TrimPrefix(header, "sha256=")
	providedRaw, err := hex.DecodeString(provided)
	if err != nil {
		return &errs.SignatureError{Header: header}
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(providedRaw, expected) != 1 {
		return &errs.SignatureError{Header: header}
	}
	return nil
}
