package experiment

import (
	"context"

	"github.com/google/uuid"

	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// AssignmentResult is the public outcome of a variant assignment: the sticky
// variant plus its opaque content payload for the caller to render.
type AssignmentResult struct {
	ExperimentID string                 `json:"experiment_id"`
	VariantID    string                 `json:"variant_id"`
	VariantName  string                 `json:"variant_name"`
	Content      map[string]interface{} `json:"content"`
}

// Assign resolves the sticky variant for (experimentID, sessionID).  The
// first call for a session draws a variant weighted by traffic allocation,
// persists the assignment and increments the variant's impressions; every
// later call returns the same variant without touching any counter.
//
// Two concurrent first-time calls race on the store's unique constraint; the
// loser re-reads the winning row, so a session can never observe two
// different variants.
func (s *Service) Assign(ctx context.Context, experimentID, sessionID string) (*AssignmentResult, error) {
	if sessionID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "session ID is required")
	}

	exp, err := s.experiments.Get(ctx, experimentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Newf(apperrors.ErrCodeExperimentNotRunning,
				"experiment %s is not available for assignment", experimentID)
		}
		return nil, err
	}
	if exp.Status != StatusRunning {
		return nil, apperrors.Newf(apperrors.ErrCodeExperimentNotRunning,
			"experiment %s is %s, not running", experimentID, exp.Status)
	}

	existing, err := s.assignments.Get(ctx, experimentID, sessionID)
	if err == nil {
		return s.resultFor(exp, existing.VariantID)
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	chosen := pickVariant(exp.Variants, s.draw())
	assignment := &Assignment{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		VariantID:    chosen.ID,
		SessionID:    sessionID,
		CreatedAt:    s.now(),
	}

	if err := s.assignments.Create(ctx, assignment); err != nil {
		if apperrors.IsStateConflict(err) {
			// Lost the first-assignment race; the unique constraint is the
			// source of truth, so adopt the winning row.
			winner, rerr := s.assignments.Get(ctx, experimentID, sessionID)
			if rerr != nil {
				return nil, rerr
			}
			return s.resultFor(exp, winner.VariantID)
		}
		return nil, err
	}

	if err := s.experiments.IncrementCounters(ctx, chosen.ID, CounterDelta{Impressions: 1}); err != nil {
		s.log.Warn("impression increment failed",
			logging.String("experiment_id", experimentID),
			logging.String("variant_id", chosen.ID),
			logging.Err(err))
	}

	return s.resultFor(exp, chosen.ID)
}

// resultFor materializes the assignment response for one variant of exp.
func (s *Service) resultFor(exp *Experiment, variantID string) (*AssignmentResult, error) {
	v := exp.Variant(variantID)
	if v == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeVariantNotFound,
			"variant %s does not belong to experiment %s", variantID, exp.ID)
	}
	return &AssignmentResult{
		ExperimentID: exp.ID,
		VariantID:    v.ID,
		VariantName:  v.Name,
		Content:      v.Content,
	}, nil
}

// pickVariant walks the variant list in stored order, accumulating traffic
// allocation until the cumulative sum covers the draw.  Rounding gaps fall
// through to the last variant.
func pickVariant(variants []*Variant, draw float64) *Variant {
	var cumulative float64
	for _, v := range variants {
		cumulative += v.TrafficAllocation
		if draw < cumulative {
			return v
		}
	}
	return variants[len(variants)-1]
}
