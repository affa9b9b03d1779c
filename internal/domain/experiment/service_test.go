package experiment_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/internal/testutil"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// newService wires a Service against a fresh in-memory store with a fixed
// clock and a seeded random source.
func newService(t *testing.T, opts ...experiment.Option) (*experiment.Service, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore()
	base := []experiment.Option{
		experiment.WithClock(func() time.Time {
			return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		}),
		experiment.WithRandSource(rand.NewSource(42)),
	}
	svc := experiment.NewService(
		store,
		store.AssignmentRepo(),
		store.ConversionRepo(),
		logging.NewNopLogger(),
		append(base, opts...)...,
	)
	return svc, store
}

func mustCreate(t *testing.T, svc *experiment.Service, spec experiment.CreateSpec) *experiment.Experiment {
	t.Helper()
	exp, err := svc.Create(context.Background(), spec)
	require.NoError(t, err)
	return exp
}

func mustStart(t *testing.T, svc *experiment.Service, id string) {
	t.Helper()
	_, err := svc.Start(context.Background(), id)
	require.NoError(t, err)
}

func TestService_CreateAndGet(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	got, err := svc.Get(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, got.ID)
	assert.Equal(t, experiment.StatusDraft, got.Status)
	assert.Len(t, got.Variants, 2)
}

func TestService_GetUnknown(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	_, err := svc.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_List(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	a := mustCreate(t, svc, validSpec())
	b := mustCreate(t, svc, validSpec())
	mustStart(t, svc, b.ID)

	all, total, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	running, total, err := svc.List(context.Background(), experiment.WithStatus(experiment.StatusRunning))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, running, 1)
	assert.Equal(t, b.ID, running[0].ID)

	_, _, err = svc.List(context.Background(), experiment.WithLimit(1), experiment.WithOffset(1))
	require.NoError(t, err)
	_ = a
}

func TestService_StartStampsStartDateOnce(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	started, err := svc.Start(context.Background(), exp.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartDate)
	firstStart := *started.StartDate

	_, err = svc.Pause(context.Background(), exp.ID)
	require.NoError(t, err)

	resumed, err := svc.Start(context.Background(), exp.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.StartDate)
	assert.Equal(t, firstStart, *resumed.StartDate)
}

func TestService_IllegalTransitions(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	// Pause from draft.
	_, err := svc.Pause(context.Background(), exp.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsStateConflict(err))

	// Complete from draft.
	_, err = svc.Complete(context.Background(), exp.ID, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsStateConflict(err))

	mustStart(t, svc, exp.ID)
	_, err = svc.Complete(context.Background(), exp.ID, nil)
	require.NoError(t, err)

	// Start from completed.
	_, err = svc.Start(context.Background(), exp.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsStateConflict(err))
}

func TestService_CompleteWithExplicitWinner(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())
	mustStart(t, svc, exp.ID)

	winnerID := exp.Variants[1].ID
	done, err := svc.Complete(context.Background(), exp.ID, &winnerID)
	require.NoError(t, err)

	assert.Equal(t, experiment.StatusCompleted, done.Status)
	require.NotNil(t, done.WinnerID)
	assert.Equal(t, winnerID, *done.WinnerID)
	require.NotNil(t, done.EndDate)
}

func TestService_CompleteRejectsForeignWinner(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())
	mustStart(t, svc, exp.ID)

	bogus := "not-a-variant"
	_, err := svc.Complete(context.Background(), exp.ID, &bogus)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeVariantNotFound, apperrors.GetCode(err))
}

func TestService_CompletePublishesWinnerEvent(t *testing.T) {
	t.Parallel()

	notifier := &captureNotifier{}
	svc, _ := newService(t, experiment.WithNotifier(notifier))
	exp := mustCreate(t, svc, validSpec())
	mustStart(t, svc, exp.ID)

	winnerID := exp.Variants[1].ID
	_, err := svc.Complete(context.Background(), exp.ID, &winnerID)
	require.NoError(t, err)

	require.Len(t, notifier.winners, 1)
	assert.Equal(t, exp.ID, notifier.winners[0].ExperimentID)
	assert.Equal(t, winnerID, notifier.winners[0].WinnerID)
	assert.Equal(t, "Variant B", notifier.winners[0].WinnerName)
}

func TestService_UpdateRejectsTerminal(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())
	mustStart(t, svc, exp.ID)
	_, err := svc.Complete(context.Background(), exp.ID, nil)
	require.NoError(t, err)

	name := "renamed"
	_, err = svc.Update(context.Background(), exp.ID, experiment.UpdateSpec{Name: &name})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExperimentImmutable, apperrors.GetCode(err))
}

func TestService_UpdatePatchesFields(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	name := "Renamed"
	level := 0.99
	sample := int64(500)
	auto := false
	updated, err := svc.Update(context.Background(), exp.ID, experiment.UpdateSpec{
		Name:             &name,
		ConfidenceLevel:  &level,
		MinSampleSize:    &sample,
		AutoSelectWinner: &auto,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 0.99, updated.ConfidenceLevel)
	assert.Equal(t, int64(500), updated.MinSampleSize)
	assert.False(t, updated.AutoSelectWinner)
}

func TestService_UpdateStatusToRunningSetsStartDate(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	running := experiment.StatusRunning
	updated, err := svc.Update(context.Background(), exp.ID, experiment.UpdateSpec{Status: &running})
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, updated.Status)
	assert.NotNil(t, updated.StartDate)
}

func TestService_UpdateValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	bad := 0.5
	_, err := svc.Update(context.Background(), exp.ID, experiment.UpdateSpec{ConfidenceLevel: &bad})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	tiny := int64(10)
	_, err = svc.Update(context.Background(), exp.ID, experiment.UpdateSpec{MinSampleSize: &tiny})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestService_SetTrafficAllocation(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	updated, err := svc.SetTrafficAllocation(context.Background(), exp.ID, []experiment.AllocationSpec{
		{VariantID: exp.Variants[0].ID, TrafficAllocation: 70},
		{VariantID: exp.Variants[1].ID, TrafficAllocation: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, 70.0, updated.Variants[0].TrafficAllocation)
	assert.Equal(t, 30.0, updated.Variants[1].TrafficAllocation)

	got, err := svc.Get(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got.Variants[0].TrafficAllocation)
}

func TestService_SetTrafficAllocationValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	exp := mustCreate(t, svc, validSpec())

	// Does not sum to 100.
	_, err := svc.SetTrafficAllocation(context.Background(), exp.ID, []experiment.AllocationSpec{
		{VariantID: exp.Variants[0].ID, TrafficAllocation: 70},
		{VariantID: exp.Variants[1].ID, TrafficAllocation: 20},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	// Missing variant coverage.
	_, err = svc.SetTrafficAllocation(context.Background(), exp.ID, []experiment.AllocationSpec{
		{VariantID: exp.Variants[0].ID, TrafficAllocation: 100},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	// Duplicate variant.
	_, err = svc.SetTrafficAllocation(context.Background(), exp.ID, []experiment.AllocationSpec{
		{VariantID: exp.Variants[0].ID, TrafficAllocation: 50},
		{VariantID: exp.Variants[0].ID, TrafficAllocation: 50},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	// Terminal experiment.
	mustStart(t, svc, exp.ID)
	_, err = svc.Complete(context.Background(), exp.ID, nil)
	require.NoError(t, err)
	_, err = svc.SetTrafficAllocation(context.Background(), exp.ID, []experiment.AllocationSpec{
		{VariantID: exp.Variants[0].ID, TrafficAllocation: 50},
		{VariantID: exp.Variants[1].ID, TrafficAllocation: 50},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsStateConflict(err))
}

func TestService_DeleteCascades(t *testing.T) {
	t.Parallel()

	svc, store := newService(t)
	exp := mustCreate(t, svc, validSpec())
	mustStart(t, svc, exp.ID)

	_, err := svc.Assign(context.Background(), exp.ID, "s1")
	require.NoError(t, err)
	_, err = svc.RecordConversion(context.Background(), experiment.ConversionSpec{
		ExperimentID: exp.ID,
		VariantID:    exp.Variants[0].ID,
		SessionID:    "s1",
		Event:        experiment.EventConversion,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), exp.ID))

	_, err = svc.Get(context.Background(), exp.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.GetAssignment(context.Background(), exp.ID, "s1")
	assert.True(t, apperrors.IsNotFound(err))

	_, total, err := store.ListConversions(context.Background(), exp.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

// captureNotifier records published events for assertions.
type captureNotifier struct {
	winners   []experiment.WinnerEvent
	summaries []experiment.Summary
}

func (c *captureNotifier) PublishWinner(_ context.Context, e experiment.WinnerEvent) error {
	c.winners = append(c.winners, e)
	return nil
}

func (c *captureNotifier) PublishSummary(_ context.Context, s experiment.Summary) error {
	c.summaries = append(c.summaries, s)
	return nil
}
