// Package testutil provides common test utilities for the experimentation
// service: in-memory repository implementations and a recording logger.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/propelkit/experiments/internal/domain/experiment"
	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// MemoryStore is an in-memory implementation of the experiment, assignment
// and conversion repositories.  It mirrors the store semantics the engine
// relies on: unique (experiment, session) assignments reported as conflicts
// and atomic counter increments.  Safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	experiments map[string]*experiment.Experiment
	assignments map[string]*experiment.Assignment // key: experimentID + "/" + sessionID
	conversions []*experiment.Conversion
	order       []string

	// FailNextIncrement makes the next IncrementCounters call fail, for
	// exercising best-effort paths.
	FailNextIncrement bool

	// FailUpdateFor makes Update fail for the experiment with this ID.
	FailUpdateFor string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*experiment.Experiment),
		assignments: make(map[string]*experiment.Assignment),
	}
}

func assignmentKey(experimentID, sessionID string) string {
	return experimentID + "/" + sessionID
}

// cloneExperiment deep-copies an experiment so callers cannot mutate stored
// state behind the store's back.
func cloneExperiment(e *experiment.Experiment) *experiment.Experiment {
	clone := *e
	clone.Variants = make([]*experiment.Variant, len(e.Variants))
	for i, v := range e.Variants {
		vc := *v
		clone.Variants[i] = &vc
	}
	if e.StartDate != nil {
		t := *e.StartDate
		clone.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		clone.EndDate = &t
	}
	if e.WinnerID != nil {
		id := *e.WinnerID
		clone.WinnerID = &id
	}
	return &clone
}

// ─────────────────────────────────────────────────────────────────────────────
// experiment.ExperimentRepository
// ─────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) Create(_ context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[exp.ID]; exists {
		return apperrors.Newf(apperrors.ErrCodeConflict, "experiment %s already exists", exp.ID)
	}
	s.experiments[exp.ID] = cloneExperiment(exp)
	s.order = append(s.order, exp.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*experiment.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeExperimentNotFound, "experiment %s not found", id)
	}
	return cloneExperiment(exp), nil
}

func (s *MemoryStore) List(_ context.Context, opts experiment.ListOptions) ([]*experiment.Experiment, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*experiment.Experiment
	for _, id := range s.order {
		exp := s.experiments[id]
		if opts.OwnerID != "" && exp.OwnerID != opts.OwnerID {
			continue
		}
		if opts.Status != "" && exp.Status != opts.Status {
			continue
		}
		matched = append(matched, exp)
	}

	total := int64(len(matched))
	if opts.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*experiment.Experiment, len(matched))
	for i, exp := range matched {
		out[i] = cloneExperiment(exp)
	}
	return out, total, nil
}

func (s *MemoryStore) Update(_ context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.experiments[exp.ID]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeExperimentNotFound, "experiment %s not found", exp.ID)
	}
	if s.FailUpdateFor == exp.ID {
		return apperrors.New(apperrors.ErrCodeDatabaseError, "update failed")
	}

	// Configuration and lifecycle fields only; counters stay untouched.
	updated := cloneExperiment(exp)
	for _, v := range updated.Variants {
		if prev := findVariant(stored, v.ID); prev != nil {
			v.Impressions = prev.Impressions
			v.Conversions = prev.Conversions
			v.Clicks = prev.Clicks
			v.TotalValue = prev.TotalValue
		}
	}
	s.experiments[exp.ID] = updated
	return nil
}

func (s *MemoryStore) UpdateVariants(_ context.Context, experimentID string, variants []*experiment.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.experiments[experimentID]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeExperimentNotFound, "experiment %s not found", experimentID)
	}
	for _, v := range variants {
		prev := findVariant(stored, v.ID)
		if prev == nil {
			return apperrors.Newf(apperrors.ErrCodeVariantNotFound, "variant %s not found", v.ID)
		}
		prev.Name = v.Name
		prev.Description = v.Description
		prev.Content = v.Content
		prev.TrafficAllocation = v.TrafficAllocation
		prev.IsControl = v.IsControl
		prev.UpdatedAt = v.UpdatedAt
	}
	return nil
}

func (s *MemoryStore) IncrementCounters(_ context.Context, variantID string, delta experiment.CounterDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNextIncrement {
		s.FailNextIncrement = false
		return apperrors.New(apperrors.ErrCodeDatabaseError, "increment failed")
	}
	for _, exp := range s.experiments {
		if v := findVariant(exp, variantID); v != nil {
			v.Impressions += delta.Impressions
			v.Conversions += delta.Conversions
			v.Clicks += delta.Clicks
			v.TotalValue += delta.Value
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrCodeVariantNotFound, "variant %s not found", variantID)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[id]; !ok {
		return apperrors.Newf(apperrors.ErrCodeExperimentNotFound, "experiment %s not found", id)
	}
	delete(s.experiments, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for key, a := range s.assignments {
		if a.ExperimentID == id {
			delete(s.assignments, key)
		}
	}
	kept := s.conversions[:0]
	for _, c := range s.conversions {
		if c.ExperimentID != id {
			kept = append(kept, c)
		}
	}
	s.conversions = kept
	return nil
}

func findVariant(exp *experiment.Experiment, variantID string) *experiment.Variant {
	for _, v := range exp.Variants {
		if v.ID == variantID {
			return v
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// experiment.AssignmentRepository
// ─────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateAssignment(_ context.Context, a *experiment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey(a.ExperimentID, a.SessionID)
	if _, exists := s.assignments[key]; exists {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"assignment for session %s already exists", a.SessionID)
	}
	clone := *a
	s.assignments[key] = &clone
	return nil
}

func (s *MemoryStore) GetAssignment(_ context.Context, experimentID, sessionID string) (*experiment.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[assignmentKey(experimentID, sessionID)]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeAssignmentNotFound,
			"no assignment for session %s in experiment %s", sessionID, experimentID)
	}
	clone := *a
	return &clone, nil
}

// AssignmentRepo adapts the store to experiment.AssignmentRepository.
func (s *MemoryStore) AssignmentRepo() experiment.AssignmentRepository {
	return assignmentRepo{s}
}

type assignmentRepo struct{ s *MemoryStore }

func (r assignmentRepo) Create(ctx context.Context, a *experiment.Assignment) error {
	return r.s.CreateAssignment(ctx, a)
}

func (r assignmentRepo) Get(ctx context.Context, experimentID, sessionID string) (*experiment.Assignment, error) {
	return r.s.GetAssignment(ctx, experimentID, sessionID)
}

// ─────────────────────────────────────────────────────────────────────────────
// experiment.ConversionRepository
// ─────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateConversion(_ context.Context, c *experiment.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.conversions = append(s.conversions, &clone)
	return nil
}

func (s *MemoryStore) ListConversions(_ context.Context, experimentID string, limit, offset int) ([]*experiment.Conversion, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*experiment.Conversion
	for _, c := range s.conversions {
		if c.ExperimentID == experimentID {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*experiment.Conversion, len(matched))
	for i, c := range matched {
		clone := *c
		out[i] = &clone
	}
	return out, total, nil
}

// ConversionRepo adapts the store to experiment.ConversionRepository.
func (s *MemoryStore) ConversionRepo() experiment.ConversionRepository {
	return conversionRepo{s}
}

type conversionRepo struct{ s *MemoryStore }

func (r conversionRepo) Create(ctx context.Context, c *experiment.Conversion) error {
	return r.s.CreateConversion(ctx, c)
}

func (r conversionRepo) ListByExperiment(ctx context.Context, experimentID string, limit, offset int) ([]*experiment.Conversion, int64, error) {
	return r.s.ListConversions(ctx, experimentID, limit, offset)
}
