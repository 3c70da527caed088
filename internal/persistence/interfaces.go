package persistence

import (
	"context"
	"time"
)

// SessionsRepo manages therapy_sessions rows.
type SessionsRepo interface {
	Create(ctx context.Context, session *TherapySession) error
	GetByCode(ctx context.Context, code string) (*TherapySession, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*TherapySession, error)
	// NextSessionOrdinal returns the next free S-ordinal for a patient code.
	NextSessionOrdinal(ctx context.Context, patientCode string) (int, error)
	// CountCompletedForPatient counts completed sessions under a patient
	// code, the adherence calculator's numerator.
	CountCompletedForPatient(ctx context.Context, patientCode string) (int, error)
	UpdateStatus(ctx context.Context, code string, status SessionStatus, errorMessage *string) error
	SetFingerprint(ctx context.Context, code, fingerprint string) error
	MarkCompleted(ctx context.Context, code string, processingTimeMs float64) error
	// SetAnalyticsCache writes the durable cache layer on the session row.
	SetAnalyticsCache(ctx context.Context, code string, payload []byte) error
	// AnalyticsCacheByFingerprint reads the durable cache layer of any
	// completed session sharing the fingerprint.
	AnalyticsCacheByFingerprint(ctx context.Context, fingerprint string) ([]byte, error)
	TouchCacheHit(ctx context.Context, code string) error
	ClearAnalyticsCache(ctx context.Context, fingerprint string) error
}

// TechnicalDataRepo manages the 1:1 c3d_technical_data rows.
type TechnicalDataRepo interface {
	Upsert(ctx context.Context, md *TechnicalMetadata) error
	Get(ctx context.Context, sessionID string) (*TechnicalMetadata, error)
}

// ProcessingParamsRepo manages the 1:1 processing_parameters rows.
type ProcessingParamsRepo interface {
	Upsert(ctx context.Context, params *ProcessingParameters) error
	Get(ctx context.Context, sessionID string) (*ProcessingParameters, error)
}

// EMGStatsRepo manages per-channel emg_statistics rows.
type EMGStatsRepo interface {
	// ReplaceForSession atomically swaps all channel rows for a session.
	ReplaceForSession(ctx context.Context, sessionID string, stats []EMGChannelStatistics) error
	ListBySession(ctx context.Context, sessionID string) ([]EMGChannelStatistics, error)
	CountByFingerprint(ctx context.Context, fingerprint string) (int, error)
}

// ScoresRepo manages the 1:1 performance_scores rows.
type ScoresRepo interface {
	Upsert(ctx context.Context, score *PerformanceScore) error
	Get(ctx context.Context, sessionID string) (*PerformanceScore, error)
}

// BFRRepo manages per-channel bfr_monitoring rows.
type BFRRepo interface {
	ReplaceForSession(ctx context.Context, sessionID string, rows []BFRMonitoring) error
	ListBySession(ctx context.Context, sessionID string) ([]BFRMonitoring, error)
}

// SettingsRepo manages the 1:1 session_settings rows.
type SettingsRepo interface {
	Upsert(ctx context.Context, settings *SessionSettings) error
	Get(ctx context.Context, sessionID string) (*SessionSettings, error)
}

// ScoringConfigRepo resolves the scoring configuration hierarchy:
// session-pinned, then patient-current, then global default.
type ScoringConfigRepo interface {
	GetGlobalActive(ctx context.Context) (*ScoringConfigRow, error)
	GetForPatient(ctx context.Context, patientID string) (*ScoringConfigRow, error)
	GetForSession(ctx context.Context, sessionID string) (*ScoringConfigRow, error)
}

// PatientsRepo resolves optional patient and therapist references from a
// patient code extracted from the upload path.
type PatientsRepo interface {
	ResolveByCode(ctx context.Context, patientCode string) (patientID, therapistID *string, err error)
}

// Repository bundles all repositories for injection into the session
// processor. No back-references: the processor owns the composition.
type Repository struct {
	Sessions       SessionsRepo
	Technical      TechnicalDataRepo
	Params         ProcessingParamsRepo
	Stats          EMGStatsRepo
	Scores         ScoresRepo
	BFR            BFRRepo
	Settings       SettingsRepo
	ScoringConfigs ScoringConfigRepo
	Patients       PatientsRepo
}

// HealthCheck is the repository health snapshot surfaced at /health.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth exposes connectivity checks for the health endpoint.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
