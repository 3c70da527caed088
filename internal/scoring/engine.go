// Package scoring computes the per-session performance score from
// aggregated contraction metrics: per-muscle compliance, left/right
// symmetry, subjective effort and game performance, combined under
// normalized weights.
package scoring

import (
	"math"

	"github.com/emgflow/emgflow/internal/errs"
)

// MuscleMetrics are the contraction counts for one side.
type MuscleMetrics struct {
	Total             int `json:"total"`
	MVCCompliant      int `json:"mvc_compliant"`
	DurationCompliant int `json:"duration_compliant"`
}

// SessionMetrics is the input bundle for the scoring engine, built from
// in-memory analytics rather than re-read from the store.
type SessionMetrics struct {
	SessionCode       string        `json:"session_code"`
	Left              MuscleMetrics `json:"left"`
	Right             MuscleMetrics `json:"right"`
	ExpectedPerMuscle int           `json:"expected_per_muscle"`
	BFRCompliant      bool          `json:"bfr_compliant"`
	RPE               *int          `json:"rpe,omitempty"`
	GamePointsAchieved *float64     `json:"game_points_achieved,omitempty"`
	GamePointsMax      *float64     `json:"game_points_max,omitempty"`
}

// SideRates are the clamped per-side intermediate rates.
type SideRates struct {
	Completion float64 `json:"completion"`
	Intensity  float64 `json:"intensity"`
	Duration   float64 `json:"duration"`
	Compliance float64 `json:"compliance"`
}

// ScoreResult is the full scoring output persisted to performance_scores.
type ScoreResult struct {
	SessionCode string  `json:"session_code"`
	Overall     float64 `json:"overall_score"`
	Compliance  float64 `json:"compliance_score"`
	Symmetry    float64 `json:"symmetry_score"`

	Effort          *float64 `json:"effort_score,omitempty"`
	EffortSynthetic bool     `json:"effort_synthetic"`
	Game            *float64 `json:"game_score,omitempty"`

	Left  SideRates `json:"left"`
	Right SideRates `json:"right"`

	BFRCompliant bool     `json:"bfr_compliant"`
	RPE          *int     `json:"rpe,omitempty"`
	Weights      Weights  `json:"weights"`
	ConfigID     string   `json:"scoring_config_id"`
}

// Engine computes performance scores under a scoring configuration.
type Engine struct {
	config     Configuration
	defaultRPE int
}

// NewEngine creates a scoring engine. defaultRPE substitutes for a missing
// subjective rating; the resulting effort is flagged synthetic.
func NewEngine(config Configuration, defaultRPE int) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config, defaultRPE: defaultRPE}, nil
}

// Score computes the full score result. Missing game data drops the game
// component; its weight is redistributed across the available components.
func (e *Engine) Score(m SessionMetrics) (*ScoreResult, error) {
	if m.ExpectedPerMuscle <= 0 {
		return nil, &errs.ScoringInputError{
			SessionCode: m.SessionCode,
			Missing:     []string{"expected_contractions_per_muscle"},
		}
	}

	left := e.sideRates(m.Left, m.ExpectedPerMuscle)
	right := e.sideRates(m.Right, m.ExpectedPerMuscle)

	compliance := (left.Compliance + right.Compliance) / 2
	symmetry := symmetryScore(left.Compliance, right.Compliance)

	result := &ScoreResult{
		SessionCode:  m.SessionCode,
		Compliance:   compliance,
		Symmetry:     symmetry,
		Left:         left,
		Right:        right,
		BFRCompliant: m.BFRCompliant,
		RPE:          m.RPE,
		ConfigID:     e.config.ID,
	}

	available := map[Component]bool{
		ComponentCompliance: true,
		ComponentSymmetry:   true,
		ComponentEffort:     true, // always computable via default RPE substitution
	}

	rpe := e.defaultRPE
	if m.RPE != nil {
		rpe = *m.RPE
	} else {
		result.EffortSynthetic = true
	}
	effort := e.config.EffortScore(rpe)
	result.Effort = &effort

	if m.GamePointsAchieved != nil && m.GamePointsMax != nil && *m.GamePointsMax > 0 {
		game := clamp01(*m.GamePointsAchieved / *m.GamePointsMax)
		result.Game = &game
		available[ComponentGame] = true
	}

	weights, err := NormalizeWeights(e.config.Main, available)
	if err != nil {
		return nil, err
	}
	result.Weights = weights

	overall := weights.Compliance*compliance + weights.Symmetry*symmetry + weights.Effort*effort
	if result.Game != nil {
		overall += weights.Game * *result.Game
	}
	result.Overall = overall
	return result, nil
}

// sideRates computes the clamped completion, intensity and duration rates
// and the weighted muscle compliance for one side.
func (e *Engine) sideRates(m MuscleMetrics, expected int) SideRates {
	r := SideRates{}
	r.Completion = clamp01(float64(m.Total) / float64(expected))
	if m.Total > 0 {
		r.Intensity = clamp01(float64(m.MVCCompliant) / float64(m.Total))
		r.Duration = clamp01(float64(m.DurationCompliant) / float64(m.Total))
	}
	w := e.config.Muscle
	r.Compliance = clamp01(w.Completion*r.Completion + w.Intensity*r.Intensity + w.Duration*r.Duration)
	return r
}

// symmetryScore is 1 - |L-R|/(L+R), and 1 when both sides are zero (two
// equally idle sides are symmetric, not undefined).
func symmetryScore(left, right float64) float64 {
	if left+right == 0 {
		return 1
	}
	return 1 - math.Abs(left-right)/(left+right)
}

// ClampRates clamps every persisted rate field to [0,1] immediately before
// the database write; performance_scores carries a check constraint.
func ClampRates(r *ScoreResult) {
	r.Overall = clamp01(r.Overall)
	r.Compliance = clamp01(r.Compliance)
	r.Symmetry = clamp01(r.Symmetry)
	if r.Effort != nil {
		v := clamp01(*r.Effort)
		r.Effort = &v
	}
	if r.Game != nil {
		v := clamp01(*r.Game)
		r.Game = &v
	}
	for _, side := range []*SideRates{&r.Left, &r.Right} {
		side.Completion = clamp01(side.Completion)
		side.Intensity = clamp01(side.Intensity)
		side.Duration = clamp01(side.Duration)
		side.Compliance = clamp01(side.Compliance)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
