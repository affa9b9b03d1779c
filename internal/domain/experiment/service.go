package experiment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// Service is the experimentation engine's top-level facade.  It owns
// experiment lifecycle transitions and composes the assignment engine, the
// conversion recorder and the winner decision logic.  The service is
// stateless between calls; all mutable state lives in the repositories.
type Service struct {
	experiments ExperimentRepository
	assignments AssignmentRepository
	conversions ConversionRepository
	notifier    Notifier
	log         logging.Logger

	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithClock overrides the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandSource seeds the service's random source, making assignment draws
// and Monte Carlo simulations deterministic in tests.
func WithRandSource(src rand.Source) Option {
	return func(s *Service) { s.rng = rand.New(src) }
}

// WithNotifier attaches a downstream notification channel.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService constructs the experimentation service.
func NewService(
	experiments ExperimentRepository,
	assignments AssignmentRepository,
	conversions ConversionRepository,
	log logging.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		experiments: experiments,
		assignments: assignments,
		conversions: conversions,
		notifier:    NopNotifier{},
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// draw returns one uniform value in [0, 100) for traffic splitting.
func (s *Service) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 100
}

// analysisRand returns a generator derived from the service source for one
// Monte Carlo simulation run.
func (s *Service) analysisRand() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewSource(s.rng.Int63()))
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle operations
// ─────────────────────────────────────────────────────────────────────────────

// Create validates spec and persists a new draft experiment with its
// variants.
func (s *Service) Create(ctx context.Context, spec CreateSpec) (*Experiment, error) {
	exp, err := NewExperiment(spec, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.experiments.Create(ctx, exp); err != nil {
		return nil, err
	}
	s.log.Info("experiment created",
		logging.String("experiment_id", exp.ID),
		logging.String("name", exp.Name),
		logging.Int("variants", len(exp.Variants)))
	return exp, nil
}

// Get returns one experiment with its variants.
func (s *Service) Get(ctx context.Context, id string) (*Experiment, error) {
	return s.experiments.Get(ctx, id)
}

// List returns a page of experiments matching the options.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Experiment, int64, error) {
	return s.experiments.List(ctx, ApplyListOptions(opts...))
}

// UpdateSpec is a partial update of an experiment's configuration.  Nil
// fields are left unchanged.
type UpdateSpec struct {
	Name             *string    `json:"name"`
	Description      *string    `json:"description"`
	PrimaryMetric    *string    `json:"primary_metric"`
	SecondaryMetrics []string   `json:"secondary_metrics"`
	ConfidenceLevel  *float64   `json:"confidence_level"`
	MinSampleSize    *int64     `json:"min_sample_size"`
	AutoSelectWinner *bool      `json:"auto_select_winner"`
	EndDate          *time.Time `json:"end_date"`
	Status           *Status    `json:"status"`
}

// Update applies a configuration patch.  Terminal experiments reject all
// updates.  Patching the status walks the state machine; moving to running
// through this path stamps the start date if unset.
func (s *Service) Update(ctx context.Context, id string, patch UpdateSpec) (*Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.IsTerminal() {
		return nil, apperrors.Newf(apperrors.ErrCodeExperimentImmutable,
			"experiment %s is %s and can no longer be modified", id, exp.Status)
	}

	now := s.now()
	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, apperrors.New(apperrors.ErrCodeValidation, "experiment name cannot be empty")
		}
		exp.Name = *patch.Name
	}
	if patch.Description != nil {
		exp.Description = *patch.Description
	}
	if patch.PrimaryMetric != nil {
		exp.PrimaryMetric = *patch.PrimaryMetric
	}
	if patch.SecondaryMetrics != nil {
		exp.SecondaryMetrics = patch.SecondaryMetrics
	}
	if patch.ConfidenceLevel != nil {
		if *patch.ConfidenceLevel < minConfidenceLevel || *patch.ConfidenceLevel > maxConfidenceLevel {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation,
				"confidence level %.2f outside [%.2f, %.2f]",
				*patch.ConfidenceLevel, minConfidenceLevel, maxConfidenceLevel)
		}
		exp.ConfidenceLevel = *patch.ConfidenceLevel
	}
	if patch.MinSampleSize != nil {
		if *patch.MinSampleSize < defaultMinSampleSize {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation,
				"minimum sample size %d below %d", *patch.MinSampleSize, defaultMinSampleSize)
		}
		exp.MinSampleSize = *patch.MinSampleSize
	}
	if patch.AutoSelectWinner != nil {
		exp.AutoSelectWinner = *patch.AutoSelectWinner
	}
	if patch.EndDate != nil {
		exp.EndDate = patch.EndDate
	}
	if patch.Status != nil && *patch.Status != exp.Status {
		if err := exp.transitionTo(*patch.Status, now); err != nil {
			return nil, err
		}
		if exp.Status == StatusRunning && exp.StartDate == nil {
			exp.StartDate = &now
		}
	}
	exp.UpdatedAt = now

	if err := s.experiments.Update(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Start moves the experiment to running.  Legal from draft and paused; the
// start date is stamped on the first start only.
func (s *Service) Start(ctx context.Context, id string) (*Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := exp.transitionTo(StatusRunning, now); err != nil {
		return nil, err
	}
	if exp.StartDate == nil {
		exp.StartDate = &now
	}
	if err := s.experiments.Update(ctx, exp); err != nil {
		return nil, err
	}
	s.log.Info("experiment started", logging.String("experiment_id", id))
	return exp, nil
}

// Pause suspends a running experiment.
func (s *Service) Pause(ctx context.Context, id string) (*Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := exp.transitionTo(StatusPaused, s.now()); err != nil {
		return nil, err
	}
	if err := s.experiments.Update(ctx, exp); err != nil {
		return nil, err
	}
	s.log.Info("experiment paused", logging.String("experiment_id", id))
	return exp, nil
}

// Complete finishes the experiment.  When winnerID is nil the winner
// decision engine is consulted and its verdict, possibly none, is persisted.
func (s *Service) Complete(ctx context.Context, id string, winnerID *string) (*Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exp.Status.CanTransitionTo(StatusCompleted) {
		return nil, apperrors.Newf(apperrors.ErrCodeStateConflict,
			"cannot complete experiment in state %s", exp.Status)
	}

	var winner *Variant
	if winnerID != nil {
		winner = exp.Variant(*winnerID)
		if winner == nil {
			return nil, apperrors.Newf(apperrors.ErrCodeVariantNotFound,
				"variant %s does not belong to experiment %s", *winnerID, id)
		}
	} else {
		decision := s.evaluate(exp)
		if decision.HasWinner {
			winner = exp.Variant(decision.WinnerID)
		}
	}

	now := s.now()
	if err := exp.transitionTo(StatusCompleted, now); err != nil {
		return nil, err
	}
	exp.EndDate = &now
	if winner != nil {
		exp.WinnerID = &winner.ID
	}
	if err := s.experiments.Update(ctx, exp); err != nil {
		return nil, err
	}

	if winner != nil {
		s.publishWinner(ctx, exp, winner, now)
	}
	s.log.Info("experiment completed",
		logging.String("experiment_id", id),
		logging.Bool("has_winner", winner != nil))
	return exp, nil
}

// Archive moves a completed experiment to the archived terminal state.
func (s *Service) Archive(ctx context.Context, id string) (*Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := exp.transitionTo(StatusArchived, s.now()); err != nil {
		return nil, err
	}
	if err := s.experiments.Update(ctx, exp); err != nil {
		return nil, err
	}
	s.log.Info("experiment archived", logging.String("experiment_id", id))
	return exp, nil
}

// Delete removes the experiment and all of its variants, assignments and
// conversion events.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.experiments.Get(ctx, id); err != nil {
		return err
	}
	if err := s.experiments.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("experiment deleted", logging.String("experiment_id", id))
	return nil
}

// AllocationSpec pairs one variant with its new traffic allocation.
type AllocationSpec struct {
	VariantID         string  `json:"variant_id"`
	TrafficAllocation float64 `json:"traffic_allocation"`
}

// SetTrafficAllocation replaces the traffic split across the experiment's
// full variant set.  The replacement must cover every variant exactly once
// and sum to 100.
func (s *Service) SetTrafficAllocation(ctx context.Context, id string, allocations []AllocationSpec) (*Experiment, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.IsTerminal() {
		return nil, apperrors.Newf(apperrors.ErrCodeExperimentImmutable,
			"experiment %s is %s and can no longer be modified", id, exp.Status)
	}
	if len(allocations) != len(exp.Variants) {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"allocation set covers %d variants, experiment has %d",
			len(allocations), len(exp.Variants))
	}

	byVariant := make(map[string]float64, len(allocations))
	values := make([]float64, 0, len(allocations))
	for _, a := range allocations {
		if _, dup := byVariant[a.VariantID]; dup {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation,
				"variant %s appears more than once", a.VariantID)
		}
		if exp.Variant(a.VariantID) == nil {
			return nil, apperrors.Newf(apperrors.ErrCodeVariantNotFound,
				"variant %s does not belong to experiment %s", a.VariantID, id)
		}
		byVariant[a.VariantID] = a.TrafficAllocation
		values = append(values, a.TrafficAllocation)
	}
	if err := validateAllocations(values); err != nil {
		return nil, err
	}

	now := s.now()
	for _, v := range exp.Variants {
		v.TrafficAllocation = byVariant[v.ID]
		v.UpdatedAt = now
	}
	if err := s.experiments.UpdateVariants(ctx, id, exp.Variants); err != nil {
		return nil, err
	}
	exp.UpdatedAt = now
	return exp, nil
}

// publishWinner emits a winner-declared event.  Failures are logged and
// never propagate to the caller.
func (s *Service) publishWinner(ctx context.Context, exp *Experiment, winner *Variant, decidedAt time.Time) {
	rate := 0.0
	if winner.Impressions > 0 {
		rate = float64(winner.Conversions) / float64(winner.Impressions)
	}
	err := s.notifier.PublishWinner(ctx, WinnerEvent{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		WinnerID:       winner.ID,
		WinnerName:     winner.Name,
		ConversionRate: rate,
		DecidedAt:      decidedAt,
	})
	if err != nil {
		s.log.Warn("winner notification failed",
			logging.String("experiment_id", exp.ID),
			logging.Err(err))
	}
}
