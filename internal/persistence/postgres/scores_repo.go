package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/emgflow/emgflow/internal/persistence"
)

type scoresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoresRepo creates the performance_scores repository. Callers must
// clamp all rate fields to [0,1] before writing; the table carries check
// constraints.
func NewScoresRepo(db *sqlx.DB, timeout time.Duration) persistence.ScoresRepo {
	return &scoresRepo{db: db, timeout: timeout}
}

func (r *scoresRepo) Upsert(ctx context.Context, s *persistence.PerformanceScore) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO performance_scores
			(session_id, overall_score, compliance_score, symmetry_score, effort_score,
			 effort_synthetic, game_score, left_muscle_compliance, right_muscle_compliance,
			 completion_rate_left, completion_rate_right, intensity_rate_left, intensity_rate_right,
			 duration_rate_left, duration_rate_right, bfr_compliant, rpe, scoring_config_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (session_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			compliance_score = EXCLUDED.compliance_score,
			symmetry_score = EXCLUDED.symmetry_score,
			effort_score = EXCLUDED.effort_score,
			effort_synthetic = EXCLUDED.effort_synthetic,
			game_score = EXCLUDED.game_score,
			left_muscle_compliance = EXCLUDED.left_muscle_compliance,
			right_muscle_compliance = EXCLUDED.right_muscle_compliance,
			completion_rate_left = EXCLUDED.completion_rate_left,
			completion_rate_right = EXCLUDED.completion_rate_right,
			intensity_rate_left = EXCLUDED.intensity_rate_left,
			intensity_rate_right = EXCLUDED.intensity_rate_right,
			duration_rate_left = EXCLUDED.duration_rate_left,
			duration_rate_right = EXCLUDED.duration_rate_right,
			bfr_compliant = EXCLUDED.bfr_compliant,
			rpe = EXCLUDED.rpe,
			scoring_config_id = EXCLUDED.scoring_config_id`
	_, err := r.db.ExecContext(ctx, query,
		s.SessionID, s.OverallScore, s.ComplianceScore, s.SymmetryScore, s.EffortScore,
		s.EffortSynthetic, s.GameScore, s.LeftMuscleCompliance, s.RightMuscleCompliance,
		s.CompletionRateLeft, s.CompletionRateRight, s.IntensityRateLeft, s.IntensityRateRight,
		s.DurationRateLeft, s.DurationRateRight, s.BFRCompliant, s.RPE, s.ScoringConfigID)
	if err != nil {
		return fmt.Errorf("failed to upsert performance score: %w", err)
	}
	return nil
}

func (r *scoresRepo) Get(ctx context.Context, sessionID string) (*persistence.PerformanceScore, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s persistence.PerformanceScore
	query := `
		SELECT session_id, overall_score, compliance_score, symmetry_score, effort_score,
		       effort_synthetic, game_score, left_muscle_compliance, right_muscle_compliance,
		       completion_rate_left, completion_rate_right, intensity_rate_left, intensity_rate_right,
		       duration_rate_left, duration_rate_right, bfr_compliant, rpe, scoring_config_id
		FROM performance_scores WHERE session_id = $1`
	if err := r.db.GetContext(ctx, &s, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get performance score: %w", err)
	}
	return &s, nil
}

type scoringConfigRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoringConfigRepo creates the scoring_configuration repository.
func NewScoringConfigRepo(db *sqlx.DB, timeout time.Duration) persistence.ScoringConfigRepo {
	return &scoringConfigRepo{db: db, timeout: timeout}
}

const scoringConfigColumns = `id, name, patient_id, session_id, payload, active, created_at`

func (r *scoringConfigRepo) GetGlobalActive(ctx context.Context) (*persistence.ScoringConfigRow, error) {
	return r.getOne(ctx, `
		SELECT `+scoringConfigColumns+` FROM scoring_configuration
		WHERE active AND patient_id IS NULL AND session_id IS NULL
		ORDER BY created_at DESC LIMIT 1`)
}

func (r *scoringConfigRepo) GetForPatient(ctx context.Context, patientID string) (*persistence.ScoringConfigRow, error) {
	return r.getOne(ctx, `
		SELECT `+scoringConfigColumns+` FROM scoring_configuration
		WHERE active AND patient_id = $1 AND session_id IS NULL
		ORDER BY created_at DESC LIMIT 1`, patientID)
}

func (r *scoringConfigRepo) GetForSession(ctx context.Context, sessionID string) (*persistence.ScoringConfigRow, error) {
	return r.getOne(ctx, `
		SELECT `+scoringConfigColumns+` FROM scoring_configuration
		WHERE session_id = $1
		ORDER BY created_at DESC LIMIT 1`, sessionID)
}

func (r *scoringConfigRepo) getOne(ctx context.Context, query string, args ...interface{}) (*persistence.ScoringConfigRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row persistence.ScoringConfigRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scoring configuration: %w", err)
	}
	return &row, nil
}

type patientsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPatientsRepo creates the patient lookup repository. Patient and
// therapist references are optional; an unknown code resolves to nils.
func NewPatientsRepo(db *sqlx.DB, timeout time.Duration) persistence.PatientsRepo {
	return &patientsRepo{db: db, timeout: timeout}
}

func (r *patientsRepo) ResolveByCode(ctx context.Context, patientCode string) (*string, *string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		PatientID   string  `db:"id"`
		TherapistID *string `db:"therapist_id"`
	}
	query := `SELECT id, therapist_id FROM patients WHERE patient_code = $1`
	if err := r.db.GetContext(ctx, &row, query, patientCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to resolve patient %s: %w", patientCode, err)
	}
	return &row.PatientID, row.TherapistID, nil
}
