package scoring

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/emgflow/emgflow/internal/errs"
)

// Component identifies one of the four top-level score components.
type Component string

const (
	ComponentCompliance Component = "compliance"
	ComponentSymmetry   Component = "symmetry"
	ComponentEffort     Component = "effort"
	ComponentGame       Component = "game"
)

// WeightTolerance is the closure contract: normalized weights must sum to
// 1.0 within this tolerance.
const WeightTolerance = 1e-3

// Weights are the main component weights. They must sum to 1.0 within
// tolerance before normalization.
type Weights struct {
	Compliance float64 `json:"compliance" yaml:"compliance"`
	Symmetry   float64 `json:"symmetry" yaml:"symmetry"`
	Effort     float64 `json:"effort" yaml:"effort"`
	Game       float64 `json:"game" yaml:"game"`
}

// DefaultWeights returns the clinical default allocation.
func DefaultWeights() Weights {
	return Weights{Compliance: 0.40, Symmetry: 0.25, Effort: 0.20, Game: 0.15}
}

// MuscleWeights are the per-muscle compliance sub-weights. They must sum to
// 1.0 within tolerance.
type MuscleWeights struct {
	Completion float64 `json:"completion" yaml:"completion"`
	Intensity  float64 `json:"intensity" yaml:"intensity"`
	Duration   float64 `json:"duration" yaml:"duration"`
}

// DefaultMuscleWeights returns the default sub-weight split.
func DefaultMuscleWeights() MuscleWeights {
	return MuscleWeights{Completion: 1.0 / 3, Intensity: 1.0 / 3, Duration: 1.0 / 3}
}

// NormalizeWeights redistributes the weight of missing components
// proportionally across the available ones using decimal arithmetic, so
// repeated subset renormalizations do not accumulate binary float drift.
// Compliance and symmetry are core components and must both be available.
func NormalizeWeights(base Weights, available map[Component]bool) (Weights, error) {
	if !available[ComponentCompliance] || !available[ComponentSymmetry] {
		missing := []string{}
		for _, c := range []Component{ComponentCompliance, ComponentSymmetry} {
			if !available[c] {
				missing = append(missing, string(c))
			}
		}
		return Weights{}, &errs.WeightValidationError{
			Code:    errs.WeightInsufficientComponents,
			Detail:  fmt.Sprintf("core components missing: %v", missing),
			Missing: missing,
		}
	}

	dec := func(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
	entries := []struct {
		c Component
		w decimal.Decimal
	}{
		{ComponentCompliance, dec(base.Compliance)},
		{ComponentSymmetry, dec(base.Symmetry)},
		{ComponentEffort, dec(base.Effort)},
		{ComponentGame, dec(base.Game)},
	}

	sum := decimal.Zero
	for _, e := range entries {
		if available[e.c] {
			sum = sum.Add(e.w)
		}
	}
	if sum.IsZero() {
		return Weights{}, &errs.WeightValidationError{
			Code:   errs.WeightNormalizationFailed,
			Detail: "available component weights sum to zero",
		}
	}

	normalized := map[Component]decimal.Decimal{}
	for _, e := range entries {
		if available[e.c] {
			normalized[e.c] = e.w.Div(sum)
		}
	}

	total := decimal.Zero
	for _, w := range normalized {
		total = total.Add(w)
	}
	tol := decimal.NewFromFloat(WeightTolerance)
	if total.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(tol) {
		return Weights{}, &errs.WeightValidationError{
			Code:   errs.WeightNormalizationFailed,
			Detail: fmt.Sprintf("normalized weights sum to %s, outside tolerance %v", total, WeightTolerance),
		}
	}

	out := Weights{}
	asFloat := func(c Component) float64 {
		if w, ok := normalized[c]; ok {
			f, _ := w.Float64()
			return f
		}
		return 0
	}
	out.Compliance = asFloat(ComponentCompliance)
	out.Symmetry = asFloat(ComponentSymmetry)
	out.Effort = asFloat(ComponentEffort)
	out.Game = asFloat(ComponentGame)
	return out, nil
}

// ValidateWeights checks that a base weight set closes to 1.0 within
// tolerance using decimal sums.
func ValidateWeights(w Weights) error {
	sum := decimal.NewFromFloat(w.Compliance).
		Add(decimal.NewFromFloat(w.Symmetry)).
		Add(decimal.NewFromFloat(w.Effort)).
		Add(decimal.NewFromFloat(w.Game))
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.NewFromFloat(WeightTolerance)) {
		return &errs.WeightValidationError{
			Code:   errs.WeightNormalizationFailed,
			Detail: fmt.Sprintf("main weights sum to %s", sum),
		}
	}
	return nil
}

// ValidateMuscleWeights checks the sub-weight closure.
func ValidateMuscleWeights(w MuscleWeights) error {
	sum := decimal.NewFromFloat(w.Completion).
		Add(decimal.NewFromFloat(w.Intensity)).
		Add(decimal.NewFromFloat(w.Duration))
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.NewFromFloat(WeightTolerance)) {
		return &errs.WeightValidationError{
			Code:   errs.WeightNormalizationFailed,
			Detail: fmt.Sprintf("muscle sub-weights sum to %s", sum),
		}
	}
	return nil
}
