// Package errs defines the structured error taxonomy shared across the
// processing pipeline. Errors carry enough context for the API layer to
// explain to a clinician why a recording was rejected.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// SignalQualityError reports a recording that failed the clinical quality
// gate before any filtering was applied.
type SignalQualityError struct {
	Channel         string
	Samples         int
	MinSamples      int
	DurationSec     float64
	MinDurationSec  float64
	MaxDurationSec  float64
	SamplingRateHz  float64
	Reason          string
}

func (e *SignalQualityError) Error() string {
	return fmt.Sprintf("signal quality gate failed for channel %q: %s (samples=%d, duration=%.3fs, required=[%.0fs, %.0fs], rate=%.1fHz)",
		e.Channel, e.Reason, e.Samples, e.DurationSec, e.MinDurationSec, e.MaxDurationSec, e.SamplingRateHz)
}

// C3DDecodeError reports a malformed or truncated C3D container. Partial
// metadata recovered before the failure is preserved for the response.
type C3DDecodeError struct {
	Section  string
	Offset   int64
	Metadata map[string]interface{}
	Err      error
}

func (e *C3DDecodeError) Error() string {
	return fmt.Sprintf("c3d decode failed in section %s at offset %d: %v", e.Section, e.Offset, e.Err)
}

func (e *C3DDecodeError) Unwrap() error { return e.Err }

// NyquistWarning records an auto-corrected filter cutoff. It is reported as
// a warning, never as a pipeline failure.
type NyquistWarning struct {
	RequestedHz float64
	CorrectedHz float64
	SamplingHz  float64
}

func (e *NyquistWarning) Error() string {
	return fmt.Sprintf("requested cutoff %.1fHz violates Nyquist for fs=%.1fHz, corrected to %.1fHz",
		e.RequestedHz, e.SamplingHz, e.CorrectedHz)
}

// FileProcessingError reports a retriable download or IO failure.
type FileProcessingError struct {
	Bucket     string
	ObjectPath string
	Attempts   int
	Err        error
}

func (e *FileProcessingError) Error() string {
	return fmt.Sprintf("file processing failed for %s/%s after %d attempts: %v", e.Bucket, e.ObjectPath, e.Attempts, e.Err)
}

func (e *FileProcessingError) Unwrap() error { return e.Err }

// SessionNotFoundError reports a lookup miss by session code.
type SessionNotFoundError struct {
	SessionCode string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionCode)
}

// ScoringInputError reports missing metrics or components. Scoring failures
// are non-fatal: the session completes without a score row.
type ScoringInputError struct {
	SessionCode string
	Missing     []string
}

func (e *ScoringInputError) Error() string {
	return fmt.Sprintf("insufficient scoring input for session %s: missing %v", e.SessionCode, e.Missing)
}

// Weight validation failure codes.
const (
	WeightInsufficientComponents = "INSUFFICIENT_COMPONENTS"
	WeightNormalizationFailed    = "NORMALIZATION_FAILED"
)

// WeightValidationError reports weight normalization failures with one of
// the stable failure codes above.
type WeightValidationError struct {
	Code    string
	Detail  string
	Missing []string
}

func (e *WeightValidationError) Error() string {
	return fmt.Sprintf("weight validation failed [%s]: %s", e.Code, e.Detail)
}

// SignatureError reports an HMAC verification failure. It maps to HTTP 401.
type SignatureError struct {
	Header string
}

func (e *SignatureError) Error() string {
	return "webhook signature verification failed"
}

// TimeoutError reports a per-stage timeout.
type TimeoutError struct {
	Stage   string
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s (limit %s)", e.Stage, e.Elapsed, e.Limit)
}

// IsRetriable reports whether the error is a transient failure worth
// retrying at the task level.
func IsRetriable(err error) bool {
	var fp *FileProcessingError
	var to *TimeoutError
	return errors.As(err, &fp) || errors.As(err, &to)
}
