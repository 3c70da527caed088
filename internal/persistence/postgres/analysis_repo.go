package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/emgflow/emgflow/internal/persistence"
)

// technicalDataRepo persists the 1:1 C3D technical bundle. The row is
// immutable after first write; ON CONFLICT DO NOTHING enforces that.
type technicalDataRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTechnicalDataRepo creates the c3d_technical_data repository.
func NewTechnicalDataRepo(db *sqlx.DB, timeout time.Duration) persistence.TechnicalDataRepo {
	return &technicalDataRepo{db: db, timeout: timeout}
}

func (r *technicalDataRepo) Upsert(ctx context.Context, md *persistence.TechnicalMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO c3d_technical_data
			(session_id, sampling_rate_hz, channel_count, channel_names, frame_count, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		md.SessionID, md.SamplingRateHz, md.ChannelCount,
		pq.Array(md.ChannelNames), md.FrameCount, md.DurationSec)
	if err != nil {
		return fmt.Errorf("failed to insert technical data: %w", err)
	}
	return nil
}

func (r *technicalDataRepo) Get(ctx context.Context, sessionID string) (*persistence.TechnicalMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var md persistence.TechnicalMetadata
	var names pq.StringArray
	query := `
		SELECT session_id, sampling_rate_hz, channel_count, channel_names, frame_count, duration_seconds
		FROM c3d_technical_data WHERE session_id = $1`
	err := r.db.QueryRowxContext(ctx, query, sessionID).Scan(
		&md.SessionID, &md.SamplingRateHz, &md.ChannelCount, &names, &md.FrameCount, &md.DurationSec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get technical data: %w", err)
	}
	md.ChannelNames = names
	return &md, nil
}

// processingParamsRepo persists the 1:1 filter chain record.
type processingParamsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProcessingParamsRepo creates the processing_parameters repository.
func NewProcessingParamsRepo(db *sqlx.DB, timeout time.Duration) persistence.ProcessingParamsRepo {
	return &processingParamsRepo{db: db, timeout: timeout}
}

func (r *processingParamsRepo) Upsert(ctx context.Context, p *persistence.ProcessingParameters) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO processing_parameters
			(session_id, filter_low_cutoff_hz, filter_high_cutoff_hz, filter_order,
			 rms_window_ms, rectification_applied, mvc_estimation_method, notch_enabled, notch_frequency_hz)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			filter_low_cutoff_hz = EXCLUDED.filter_low_cutoff_hz,
			filter_high_cutoff_hz = EXCLUDED.filter_high_cutoff_hz,
			filter_order = EXCLUDED.filter_order,
			rms_window_ms = EXCLUDED.rms_window_ms,
			rectification_applied = EXCLUDED.rectification_applied,
			mvc_estimation_method = EXCLUDED.mvc_estimation_method,
			notch_enabled = EXCLUDED.notch_enabled,
			notch_frequency_hz = EXCLUDED.notch_frequency_hz`
	_, err := r.db.ExecContext(ctx, query,
		p.SessionID, p.FilterLowCutoffHz, p.FilterHighCutoffHz, p.FilterOrder,
		p.RMSWindowMs, p.RectificationApplied, p.MVCMethod, p.NotchEnabled, p.NotchFrequencyHz)
	if err != nil {
		return fmt.Errorf("failed to upsert processing parameters: %w", err)
	}
	return nil
}

func (r *processingParamsRepo) Get(ctx context.Context, sessionID string) (*persistence.ProcessingParameters, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p persistence.ProcessingParameters
	query := `
		SELECT session_id, filter_low_cutoff_hz, filter_high_cutoff_hz, filter_order,
		       rms_window_ms, rectification_applied, mvc_estimation_method, notch_enabled, notch_frequency_hz
		FROM processing_parameters WHERE session_id = $1`
	if err := r.db.GetContext(ctx, &p, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get processing parameters: %w", err)
	}
	return &p, nil
}

// emgStatsRepo persists per-channel analysis rows.
type emgStatsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEMGStatsRepo creates the emg_statistics repository.
func NewEMGStatsRepo(db *sqlx.DB, timeout time.Duration) persistence.EMGStatsRepo {
	return &emgStatsRepo{db: db, timeout: timeout}
}

// ReplaceForSession swaps all channel rows for a session in one
// transaction so reprocessing never leaves a torn result.
func (r *emgStatsRepo) ReplaceForSession(ctx context.Context, sessionID string, stats []persistence.EMGChannelStatistics) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(stats)/10+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM emg_statistics WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear previous statistics: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emg_statistics
			(session_id, channel_name, contraction_count, good_contraction_count,
			 mvc_compliant_count, duration_compliant_count, mean_duration_ms,
			 min_duration_ms, max_duration_ms, total_time_under_tension_ms,
			 mean_amplitude, max_amplitude, rms, mav, mpf_hz, mdf_hz, fatigue_index, contractions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statistics insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		_, err := stmt.ExecContext(ctx,
			sessionID, s.ChannelName, s.ContractionCount, s.GoodContractionCount,
			s.MVCCompliantCount, s.DurationCompliantCount, s.MeanDurationMs,
			s.MinDurationMs, s.MaxDurationMs, s.TotalTimeUnderTensionMs,
			s.MeanAmplitude, s.MaxAmplitude, s.RMS, s.MAV, s.MPFHz, s.MDFHz,
			s.FatigueIndex, s.ContractionsJSON)
		if err != nil {
			return fmt.Errorf("failed to insert statistics for channel %s: %w", s.ChannelName, err)
		}
	}
	return tx.Commit()
}

func (r *emgStatsRepo) ListBySession(ctx context.Context, sessionID string) ([]persistence.EMGChannelStatistics, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stats []persistence.EMGChannelStatistics
	query := `
		SELECT session_id, channel_name, contraction_count, good_contraction_count,
		       mvc_compliant_count, duration_compliant_count, mean_duration_ms,
		       min_duration_ms, max_duration_ms, total_time_under_tension_ms,
		       mean_amplitude, max_amplitude, rms, mav, mpf_hz, mdf_hz, fatigue_index, contractions
		FROM emg_statistics WHERE session_id = $1 ORDER BY channel_name`
	if err := r.db.SelectContext(ctx, &stats, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list statistics: %w", err)
	}
	return stats, nil
}

func (r *emgStatsRepo) CountByFingerprint(ctx context.Context, fingerprint string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	query := `
		SELECT COUNT(*) FROM emg_statistics s
		JOIN therapy_sessions t ON t.id = s.session_id
		WHERE t.file_hash = $1`
	if err := r.db.QueryRowxContext(ctx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count statistics by fingerprint: %w", err)
	}
	return count, nil
}

// bfrRepo persists per-channel blood-flow-restriction rows.
type bfrRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBFRRepo creates the bfr_monitoring repository.
func NewBFRRepo(db *sqlx.DB, timeout time.Duration) persistence.BFRRepo {
	return &bfrRepo{db: db, timeout: timeout}
}

func (r *bfrRepo) ReplaceForSession(ctx context.Context, sessionID string, rows []persistence.BFRMonitoring) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bfr_monitoring WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear previous bfr rows: %w", err)
	}
	for _, b := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bfr_monitoring
				(session_id, channel_name, applied_pressure_aop_pct, target_min_aop_pct, target_max_aop_pct, compliant)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, b.ChannelName, b.AppliedPressureAOP, b.TargetMinAOP, b.TargetMaxAOP, b.Compliant)
		if err != nil {
			return fmt.Errorf("failed to insert bfr row for channel %s: %w", b.ChannelName, err)
		}
	}
	return tx.Commit()
}

func (r *bfrRepo) ListBySession(ctx context.Context, sessionID string) ([]persistence.BFRMonitoring, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.BFRMonitoring
	query := `
		SELECT session_id, channel_name, applied_pressure_aop_pct, target_min_aop_pct, target_max_aop_pct, compliant
		FROM bfr_monitoring WHERE session_id = $1 ORDER BY channel_name`
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list bfr rows: %w", err)
	}
	return rows, nil
}

// settingsRepo persists the 1:1 therapeutic target row.
type settingsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSettingsRepo creates the session_settings repository.
func NewSettingsRepo(db *sqlx.DB, timeout time.Duration) persistence.SettingsRepo {
	return &settingsRepo{db: db, timeout: timeout}
}

func (r *settingsRepo) Upsert(ctx context.Context, s *persistence.SessionSettings) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO session_settings
			(session_id, mvc_threshold_pct, duration_threshold_ms, expected_contractions_per_muscle, bfr_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			mvc_threshold_pct = EXCLUDED.mvc_threshold_pct,
			duration_threshold_ms = EXCLUDED.duration_threshold_ms,
			expected_contractions_per_muscle = EXCLUDED.expected_contractions_per_muscle,
			bfr_enabled = EXCLUDED.bfr_enabled`
	_, err := r.db.ExecContext(ctx, query,
		s.SessionID, s.MVCThresholdPct, s.DurationThresholdMs,
		s.ExpectedContractionsPerMuscle, s.BFREnabled)
	if err != nil {
		return fmt.Errorf("failed to upsert session settings: %w", err)
	}
	return nil
}

func (r *settingsRepo) Get(ctx context.Context, sessionID string) (*persistence.SessionSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s persistence.SessionSettings
	query := `
		SELECT session_id, mvc_threshold_pct, duration_threshold_ms, expected_contractions_per_muscle, bfr_enabled
		FROM session_settings WHERE session_id = $1`
	if err := r.db.GetContext(ctx, &s, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session settings: %w", err)
	}
	return &s, nil
}
