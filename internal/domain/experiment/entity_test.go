package experiment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelkit/experiments/internal/domain/experiment"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

func validSpec() experiment.CreateSpec {
	return experiment.CreateSpec{
		OwnerID:       "owner-1",
		Name:          "Pricing page test",
		Type:          experiment.TypePricingPresentation,
		PrimaryMetric: "conversion",
		Variants: []experiment.VariantSpec{
			{Name: "Control", TrafficAllocation: 50, IsControl: true},
			{Name: "Variant B", TrafficAllocation: 50},
		},
	}
}

func TestNewExperiment_Defaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	exp, err := experiment.NewExperiment(validSpec(), now)
	require.NoError(t, err)

	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, experiment.StatusDraft, exp.Status)
	assert.Equal(t, 0.95, exp.ConfidenceLevel)
	assert.Equal(t, int64(100), exp.MinSampleSize)
	assert.True(t, exp.AutoSelectWinner)
	assert.Nil(t, exp.StartDate)
	assert.Nil(t, exp.WinnerID)
	assert.Equal(t, now, exp.CreatedAt)

	require.Len(t, exp.Variants, 2)
	assert.True(t, exp.Variants[0].IsControl)
	assert.False(t, exp.Variants[1].IsControl)
	assert.Equal(t, 0, exp.Variants[0].Position)
	assert.Equal(t, 1, exp.Variants[1].Position)
	assert.Equal(t, exp.ID, exp.Variants[0].ExperimentID)
}

func TestNewExperiment_PromotesFirstControl(t *testing.T) {
	t.Parallel()

	spec := validSpec()
	spec.Variants[0].IsControl = false

	exp, err := experiment.NewExperiment(spec, time.Now().UTC())
	require.NoError(t, err)

	controls := 0
	for _, v := range exp.Variants {
		if v.IsControl {
			controls++
		}
	}
	assert.Equal(t, 1, controls)
	assert.True(t, exp.Variants[0].IsControl)
}

func TestNewExperiment_RejectsMultipleControls(t *testing.T) {
	t.Parallel()

	spec := validSpec()
	spec.Variants[1].IsControl = true

	_, err := experiment.NewExperiment(spec, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestNewExperiment_AllocationValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		allocations []float64
		wantErr     bool
	}{
		{"exact hundred", []float64{60, 40}, false},
		{"within tolerance", []float64{60.005, 40}, false},
		{"beyond tolerance", []float64{60.02, 40}, true},
		{"sums low", []float64{50, 40}, true},
		{"negative allocation", []float64{-10, 110}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			spec := validSpec()
			for i := range spec.Variants {
				spec.Variants[i].TrafficAllocation = tc.allocations[i]
			}
			_, err := experiment.NewExperiment(spec, time.Now().UTC())
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewExperiment_RequiresTwoVariants(t *testing.T) {
	t.Parallel()

	spec := validSpec()
	spec.Variants = spec.Variants[:1]
	spec.Variants[0].TrafficAllocation = 100

	_, err := experiment.NewExperiment(spec, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInsufficientVariants, apperrors.GetCode(err))
}

func TestNewExperiment_ConfidenceBounds(t *testing.T) {
	t.Parallel()

	spec := validSpec()
	spec.ConfidenceLevel = 0.5
	_, err := experiment.NewExperiment(spec, time.Now().UTC())
	require.Error(t, err)

	spec.ConfidenceLevel = 0.99
	exp, err := experiment.NewExperiment(spec, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0.99, exp.ConfidenceLevel)
}

func TestStatus_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to experiment.Status
		allowed  bool
	}{
		{experiment.StatusDraft, experiment.StatusRunning, true},
		{experiment.StatusDraft, experiment.StatusPaused, false},
		{experiment.StatusDraft, experiment.StatusCompleted, false},
		{experiment.StatusRunning, experiment.StatusPaused, true},
		{experiment.StatusRunning, experiment.StatusCompleted, true},
		{experiment.StatusRunning, experiment.StatusDraft, false},
		{experiment.StatusPaused, experiment.StatusRunning, true},
		{experiment.StatusPaused, experiment.StatusCompleted, true},
		{experiment.StatusCompleted, experiment.StatusArchived, true},
		{experiment.StatusCompleted, experiment.StatusRunning, false},
		{experiment.StatusArchived, experiment.StatusCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, experiment.StatusDraft.IsTerminal())
	assert.False(t, experiment.StatusRunning.IsTerminal())
	assert.False(t, experiment.StatusPaused.IsTerminal())
	assert.True(t, experiment.StatusCompleted.IsTerminal())
	assert.True(t, experiment.StatusArchived.IsTerminal())
}

func TestExperiment_ControlAndVariantLookup(t *testing.T) {
	t.Parallel()

	exp, err := experiment.NewExperiment(validSpec(), time.Now().UTC())
	require.NoError(t, err)

	control := exp.Control()
	require.NotNil(t, control)
	assert.Equal(t, "Control", control.Name)

	assert.Equal(t, exp.Variants[1], exp.Variant(exp.Variants[1].ID))
	assert.Nil(t, exp.Variant("missing"))
}
