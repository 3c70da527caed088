package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emgflow/emgflow/internal/errs"
)

func TestNormalizeWeightsAllAvailable(t *testing.T) {
	w, err := NormalizeWeights(DefaultWeights(), map[Component]bool{
		ComponentCompliance: true,
		ComponentSymmetry:   true,
		ComponentEffort:     true,
		ComponentGame:       true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.40, w.Compliance, 1e-9)
	assert.InDelta(t, 0.25, w.Symmetry, 1e-9)
	assert.InDelta(t, 0.20, w.Effort, 1e-9)
	assert.InDelta(t, 0.15, w.Game, 1e-9)
}

func TestNormalizeWeightsRedistribution(t *testing.T) {
	w, err := NormalizeWeights(DefaultWeights(), map[Component]bool{
		ComponentCompliance: true,
		ComponentSymmetry:   true,
	})
	require.NoError(t, err)

	// Effort and game redistribute proportionally over the core pair.
	assert.InDelta(t, 0.40/0.65, w.Compliance, 1e-9)
	assert.InDelta(t, 0.25/0.65, w.Symmetry, 1e-9)
	assert.Zero(t, w.Effort)
	assert.Zero(t, w.Game)
	assert.InDelta(t, 1.0, w.Compliance+w.Symmetry, WeightTolerance)
}

func TestNormalizeWeightsMissingCoreComponent(t *testing.T) {
	_, err := NormalizeWeights(DefaultWeights(), map[Component]bool{
		ComponentCompliance: true,
		ComponentEffort:     true,
	})
	require.Error(t, err)

	var werr *errs.WeightValidationError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, errs.WeightInsufficientComponents, werr.Code)
	assert.Contains(t, werr.Missing, string(ComponentSymmetry))
}

func TestNormalizeWeightsZeroSum(t *testing.T) {
	_, err := NormalizeWeights(Weights{}, map[Component]bool{
		ComponentCompliance: true,
		ComponentSymmetry:   true,
	})
	require.Error(t, err)

	var werr *errs.WeightValidationError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, errs.WeightNormalizationFailed, werr.Code)
}

func TestValidateWeightsClosure(t *testing.T) {
	require.NoError(t, ValidateWeights(DefaultWeights()))
	require.NoError(t, ValidateMuscleWeights(DefaultMuscleWeights()))

	err := ValidateWeights(Weights{Compliance: 0.5, Symmetry: 0.3, Effort: 0.3})
	require.Error(t, err)
}
