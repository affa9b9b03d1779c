package experiment

import (
	"context"

	"github.com/google/uuid"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// ConversionSpec is the caller-supplied description of one conversion event.
type ConversionSpec struct {
	ExperimentID string                 `json:"experiment_id"`
	VariantID    string                 `json:"variant_id"`
	SessionID    string                 `json:"session_id"`
	Event        string                 `json:"event"`
	Value        *float64               `json:"value"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// RecordConversion appends one event to the conversion log and applies the
// matching counter increments.  Events against completed experiments are
// accepted; late conversions are part of normal operation.
//
// Counter taxonomy: approval, sign and conversion events increment the
// conversions counter and add the optional value to totalValue; click events
// increment clicks; anything else is logged without touching counters.
func (s *Service) RecordConversion(ctx context.Context, spec ConversionSpec) (*Conversion, error) {
	if spec.SessionID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "session ID is required")
	}
	if spec.Event == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "event label is required")
	}

	exp, err := s.experiments.Get(ctx, spec.ExperimentID)
	if err != nil {
		return nil, err
	}
	variant := exp.Variant(spec.VariantID)
	if variant == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeVariantNotFound,
			"variant %s does not belong to experiment %s", spec.VariantID, spec.ExperimentID)
	}

	now := s.now()
	s.ensureAssignment(ctx, exp, variant, spec.SessionID)

	conv := &Conversion{
		ID:           uuid.New().String(),
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		SessionID:    spec.SessionID,
		Event:        spec.Event,
		Value:        spec.Value,
		Metadata:     spec.Metadata,
		CreatedAt:    now,
	}
	if err := s.conversions.Create(ctx, conv); err != nil {
		return nil, err
	}

	delta := deltaForEvent(spec.Event, spec.Value)
	if delta.IsZero() {
		s.log.Debug("conversion event with unknown label, counters unchanged",
			logging.String("experiment_id", exp.ID),
			logging.String("event", spec.Event))
	} else {
		if err := s.experiments.IncrementCounters(ctx, variant.ID, delta); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseError,
				"failed to update variant counters")
		}
	}

	if exp.AutoSelectWinner && exp.Status == StatusRunning && delta.Conversions > 0 {
		s.maybeAutoComplete(ctx, exp.ID)
	}
	return conv, nil
}

// ensureAssignment backfills the sticky assignment for flows that recorded a
// conversion without calling Assign first.  Both the lookup and the insert
// are best effort; a failure here must not block the conversion write.
func (s *Service) ensureAssignment(ctx context.Context, exp *Experiment, variant *Variant, sessionID string) {
	_, err := s.assignments.Get(ctx, exp.ID, sessionID)
	if err == nil {
		return
	}
	if !apperrors.IsNotFound(err) {
		s.log.Warn("assignment lookup failed",
			logging.String("experiment_id", exp.ID),
			logging.Err(err))
		return
	}

	createErr := s.assignments.Create(ctx, &Assignment{
		ID:           uuid.New().String(),
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		SessionID:    sessionID,
		CreatedAt:    s.now(),
	})
	if createErr != nil && !apperrors.IsStateConflict(createErr) {
		s.log.Warn("assignment backfill failed",
			logging.String("experiment_id", exp.ID),
			logging.String("session_id", sessionID),
			logging.Err(createErr))
	}
}

// deltaForEvent maps one event label to its counter increments.
func deltaForEvent(event string, value *float64) CounterDelta {
	var d CounterDelta
	if countsAsConversion(event) {
		d.Conversions = 1
		if value != nil {
			d.Value = *value
		}
		return d
	}
	if event == EventClick {
		d.Clicks = 1
	}
	return d
}

// maybeAutoComplete re-reads the experiment for fresh counters, evaluates
// the winner decision and completes the experiment when a winner emerges.
// The whole check is best effort; failures are logged and swallowed so a
// conversion write never fails on its account.
func (s *Service) maybeAutoComplete(ctx context.Context, experimentID string) {
	exp, err := s.experiments.Get(ctx, experimentID)
	if err != nil {
		s.log.Warn("auto-winner re-read failed",
			logging.String("experiment_id", experimentID),
			logging.Err(err))
		return
	}
	if exp.Status != StatusRunning {
		return
	}

	decision := s.evaluate(exp)
	if !decision.HasWinner {
		return
	}
	if _, err := s.Complete(ctx, experimentID, &decision.WinnerID); err != nil {
		s.log.Warn("auto-winner completion failed",
			logging.String("experiment_id", experimentID),
			logging.String("winner_id", decision.WinnerID),
			logging.Err(err))
	}
}

// Conversions returns one page of the experiment's conversion log, newest
// first, with the total count.  Pagination is clamped like List.
func (s *Service) Conversions(ctx context.Context, experimentID string, limit, offset int) ([]*Conversion, int64, error) {
	if _, err := s.experiments.Get(ctx, experimentID); err != nil {
		return nil, 0, err
	}
	page := ApplyListOptions(WithLimit(limit), WithOffset(offset))
	return s.conversions.ListByExperiment(ctx, experimentID, page.Limit, page.Offset)
}
