// Package persistence defines the stored entities and the repository
// interfaces the session processor composes. Implementations live in the
// postgres subpackage.
package persistence

import (
	"time"
)

// SessionStatus is the lifecycle state of a therapy session. Transitions
// are monotonic except completed -> reprocessing.
type SessionStatus string

const (
	StatusPending      SessionStatus = "pending"
	StatusProcessing   SessionStatus = "processing"
	StatusCompleted    SessionStatus = "completed"
	StatusFailed       SessionStatus = "failed"
	StatusReprocessing SessionStatus = "reprocessing"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	allowed := map[SessionStatus][]SessionStatus{
		StatusPending:      {StatusProcessing, StatusFailed},
		StatusProcessing:   {StatusCompleted, StatusFailed},
		StatusCompleted:    {StatusReprocessing},
		StatusReprocessing: {StatusCompleted, StatusFailed},
	}
	for _, n := range allowed[s] {
		if n == next {
			return true
		}
	}
	return false
}

// TherapySession is the process-wide unit of work, one row per uploaded
// recording. The analytics_cache column doubles as the durable cache layer.
type TherapySession struct {
	ID              string        `db:"id" json:"id"`
	SessionCode     string        `db:"session_code" json:"session_code"`
	Fingerprint     string        `db:"file_hash" json:"fingerprint"`
	Bucket          string        `db:"bucket" json:"bucket"`
	ObjectPath      string        `db:"object_path" json:"object_path"`
	PatientID       *string       `db:"patient_id" json:"patient_id,omitempty"`
	TherapistID     *string       `db:"therapist_id" json:"therapist_id,omitempty"`
	Status          SessionStatus `db:"status" json:"status"`
	ProcessingTimeMs *float64     `db:"processing_time_ms" json:"processing_time_ms,omitempty"`
	AnalyticsCache  []byte        `db:"analytics_cache" json:"-"`
	CacheHits       int           `db:"cache_hits" json:"cache_hits"`
	LastAccessedAt  *time.Time    `db:"last_accessed_at" json:"last_accessed_at,omitempty"`
	ProcessingError *string       `db:"processing_error_message" json:"processing_error_message,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
	ProcessedAt     *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
}

// TechnicalMetadata is the 1:1 C3D technical bundle, immutable after first
// write.
type TechnicalMetadata struct {
	SessionID      string   `db:"session_id" json:"session_id"`
	SamplingRateHz float64  `db:"sampling_rate_hz" json:"sampling_rate_hz"`
	ChannelCount   int      `db:"channel_count" json:"channel_count"`
	ChannelNames   []string `db:"-" json:"channel_names"`
	FrameCount     int      `db:"frame_count" json:"frame_count"`
	DurationSec    float64  `db:"duration_seconds" json:"duration_seconds"`
}

// ProcessingParameters is the 1:1 record of the filter chain actually
// applied. Invariant: 0 < low < high < sampling_rate/2.
type ProcessingParameters struct {
	SessionID           string  `db:"session_id" json:"session_id"`
	FilterLowCutoffHz   float64 `db:"filter_low_cutoff_hz" json:"filter_low_cutoff_hz"`
	FilterHighCutoffHz  float64 `db:"filter_high_cutoff_hz" json:"filter_high_cutoff_hz"`
	FilterOrder         int     `db:"filter_order" json:"filter_order"`
	RMSWindowMs         float64 `db:"rms_window_ms" json:"rms_window_ms"`
	RectificationApplied bool   `db:"rectification_applied" json:"rectification_applied"`
	MVCMethod           string  `db:"mvc_estimation_method" json:"mvc_estimation_method"`
	NotchEnabled        bool    `db:"notch_enabled" json:"notch_enabled"`
	NotchFrequencyHz    float64 `db:"notch_frequency_hz" json:"notch_frequency_hz"`
}

// EMGChannelStatistics is the per-(session, channel) analysis row. The
// per-contraction list is stored as JSONB.
type EMGChannelStatistics struct {
	SessionID              string  `db:"session_id" json:"session_id"`
	ChannelName            string  `db:"channel_name" json:"channel_name"`
	ContractionCount       int     `db:"contraction_count" json:"contraction_count"`
	GoodContractionCount   int     `db:"good_contraction_count" json:"good_contraction_count"`
	MVCCompliantCount      int     `db:"mvc_compliant_count" json:"mvc_compliant_count"`
	DurationCompliantCount int     `db:"duration_compliant_count" json:"duration_compliant_count"`
	MeanDurationMs         float64 `db:"mean_duration_ms" json:"mean_duration_ms"`
	MinDurationMs          float64 `db:"min_duration_ms" json:"min_duration_ms"`
	MaxDurationMs          float64 `db:"max_duration_ms" json:"max_duration_ms"`
	TotalTimeUnderTensionMs float64 `db:"total_time_under_tension_ms" json:"total_time_under_tension_ms"`
	MeanAmplitude          float64 `db:"mean_amplitude" json:"mean_amplitude"`
	MaxAmplitude           float64 `db:"max_amplitude" json:"max_amplitude"`
	RMS                    float64 `db:"rms" json:"rms"`
	MAV                    float64 `db:"mav" json:"mav"`
	MPFHz                  float64 `db:"mpf_hz" json:"mpf_hz"`
	MDFHz                  float64 `db:"mdf_hz" json:"mdf_hz"`
	FatigueIndex           float64 `db:"fatigue_index" json:"fatigue_index"`
	ContractionsJSON       []byte  `db:"contractions" json:"-"`
}

// PerformanceScore is the 1:1 score row. Every rate column carries a <= 1.0
// check constraint; callers clamp before writing.
type PerformanceScore struct {
	SessionID             string   `db:"session_id" json:"session_id"`
	OverallScore          float64  `db:"overall_score" json:"overall_score"`
	ComplianceScore       float64  `db:"compliance_score" json:"compliance_score"`
	SymmetryScore         float64  `db:"symmetry_score" json:"symmetry_score"`
	EffortScore           *float64 `db:"effort_score" json:"effort_score,omitempty"`
	EffortSynthetic       bool     `db:"effort_synthetic" json:"effort_synthetic"`
	GameScore             *float64 `db:"game_score" json:"game_score,omitempty"`
	LeftMuscleCompliance  float64  `db:"left_muscle_compliance" json:"left_muscle_compliance"`
	RightMuscleCompliance float64  `db:"right_muscle_compliance" json:"right_muscle_compliance"`
	CompletionRateLeft    float64  `db:"completion_rate_left" json:"completion_rate_left"`
	CompletionRateRight   float64  `db:"completion_rate_right" json:"completion_rate_right"`
	IntensityRateLeft     float64  `db:"intensity_rate_left" json:"intensity_rate_left"`
	IntensityRateRight    float64  `db:"intensity_rate_right" json:"intensity_rate_right"`
	DurationRateLeft      float64  `db:"duration_rate_left" json:"duration_rate_left"`
	DurationRateRight     float64  `db:"duration_rate_right" json:"duration_rate_right"`
	BFRCompliant          bool     `db:"bfr_compliant" json:"bfr_compliant"`
	RPE                   *int     `db:"rpe" json:"rpe,omitempty"`
	ScoringConfigID       string   `db:"scoring_config_id" json:"scoring_config_id"`
}

// BFRMonitoring is one blood-flow-restriction row per channel. The
// therapeutic window is 40-60% of arterial occlusion pressure.
type BFRMonitoring struct {
	SessionID          string  `db:"session_id" json:"session_id"`
	ChannelName        string  `db:"channel_name" json:"channel_name"`
	AppliedPressureAOP float64 `db:"applied_pressure_aop_pct" json:"applied_pressure_aop_pct"`
	TargetMinAOP       float64 `db:"target_min_aop_pct" json:"target_min_aop_pct"`
	TargetMaxAOP       float64 `db:"target_max_aop_pct" json:"target_max_aop_pct"`
	Compliant          bool    `db:"compliant" json:"compliant"`
}

// SessionSettings is the 1:1 therapeutic target row.
type SessionSettings struct {
	SessionID                     string  `db:"session_id" json:"session_id"`
	MVCThresholdPct               float64 `db:"mvc_threshold_pct" json:"mvc_threshold_pct"`
	DurationThresholdMs           float64 `db:"duration_threshold_ms" json:"duration_threshold_ms"`
	ExpectedContractionsPerMuscle int     `db:"expected_contractions_per_muscle" json:"expected_contractions_per_muscle"`
	BFREnabled                    bool    `db:"bfr_enabled" json:"bfr_enabled"`
}

// ScoringConfigRow is a stored scoring configuration. PatientID is set for
// patient-current configs; SessionID pins a config to one session.
type ScoringConfigRow struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	PatientID  *string   `db:"patient_id" json:"patient_id,omitempty"`
	SessionID  *string   `db:"session_id" json:"session_id,omitempty"`
	PayloadJSON []byte   `db:"payload" json:"-"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
