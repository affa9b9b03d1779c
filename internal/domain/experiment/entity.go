// Package experiment contains the core domain model of the experimentation
// engine: experiments and their variants, sticky session assignments,
// append-only conversion events, the lifecycle state machine, and the
// services that operate on them.
package experiment

import (
	"math"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/propelkit/experiments/pkg/errors"
)

// allocationTolerance is the accepted deviation of the per-experiment traffic
// allocation sum from 100 percent.
const allocationTolerance = 0.01

const (
	defaultConfidenceLevel = 0.95
	minConfidenceLevel     = 0.80
	maxConfidenceLevel     = 0.99
	defaultMinSampleSize   = 100
)

// ─────────────────────────────────────────────────────────────────────────────
// Status — lifecycle state machine
// ─────────────────────────────────────────────────────────────────────────────

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// statusTransitions is the full transition relation of the lifecycle state
// machine.  Everything not listed here is an illegal transition.
var statusTransitions = map[Status][]Status{
	StatusDraft:     {StatusRunning},
	StatusRunning:   {StatusPaused, StatusCompleted},
	StatusPaused:    {StatusRunning, StatusCompleted},
	StatusCompleted: {StatusArchived},
	StatusArchived:  {},
}

// IsValid reports whether s is one of the defined lifecycle states.
func (s Status) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine permits moving from s to
// target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range statusTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether configuration mutation is forbidden in state s.
// Completed experiments may still receive late conversion events; only their
// configuration is frozen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusArchived
}

// ─────────────────────────────────────────────────────────────────────────────
// Type — experiment category
// ─────────────────────────────────────────────────────────────────────────────

// Type categorizes what kind of surface an experiment varies.
type Type string

const (
	TypePricingPresentation Type = "pricing-presentation"
	TypeTemplate            Type = "template"
	TypeEmailSubject        Type = "email-subject"
	TypeLandingPage         Type = "landing-page"
	TypeCTAButton           Type = "cta-button"
	TypeCustom              Type = "custom"
)

// IsValid reports whether t is one of the defined experiment types.
func (t Type) IsValid() bool {
	switch t {
	case TypePricingPresentation, TypeTemplate, TypeEmailSubject,
		TypeLandingPage, TypeCTAButton, TypeCustom:
		return true
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversion event labels
// ─────────────────────────────────────────────────────────────────────────────

// Event labels with counter semantics.  Labels outside this set are stored in
// the conversion log but update no variant counters.
const (
	EventApproval   = "approval"
	EventSign       = "sign"
	EventConversion = "conversion"
	EventClick      = "click"
	EventView       = "view"
)

// countsAsConversion reports whether the event label increments the
// conversions counter (and totalValue, when a value is supplied).
func countsAsConversion(event string) bool {
	switch event {
	case EventApproval, EventSign, EventConversion:
		return true
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Entities
// ─────────────────────────────────────────────────────────────────────────────

// Experiment is the aggregate root of one A/B test: its configuration, its
// lifecycle state, and its variants.
type Experiment struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Type             Type       `json:"type"`
	Status           Status     `json:"status"`
	PrimaryMetric    string     `json:"primary_metric"`
	SecondaryMetrics []string   `json:"secondary_metrics"`
	ConfidenceLevel  float64    `json:"confidence_level"`
	MinSampleSize    int64      `json:"min_sample_size"`
	AutoSelectWinner bool       `json:"auto_select_winner"`
	StartDate        *time.Time `json:"start_date"`
	EndDate          *time.Time `json:"end_date"`
	WinnerID         *string    `json:"winner_id"`
	Variants         []*Variant `json:"variants"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Variant is one arm of an experiment.  Its counters are cumulative and are
// mutated only through atomic store-level increments.
type Variant struct {
	ID                string                 `json:"id"`
	ExperimentID      string                 `json:"experiment_id"`
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	Content           map[string]interface{} `json:"content"`
	TrafficAllocation float64                `json:"traffic_allocation"`
	IsControl         bool                   `json:"is_control"`
	Position          int                    `json:"position"`
	Impressions       int64                  `json:"impressions"`
	Conversions       int64                  `json:"conversions"`
	Clicks            int64                  `json:"clicks"`
	TotalValue        float64                `json:"total_value"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Assignment is the immutable sticky mapping of one session to one variant.
// Uniqueness on (ExperimentID, SessionID) is enforced by the store and is the
// source of truth under concurrent first-time assignment.
type Assignment struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversion is one append-only event log entry.  Rows are never mutated or
// deleted by the engine.
type Conversion struct {
	ID           string                 `json:"id"`
	ExperimentID string                 `json:"experiment_id"`
	VariantID    string                 `json:"variant_id"`
	SessionID    string                 `json:"session_id"`
	Event        string                 `json:"event"`
	Value        *float64               `json:"value"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Construction and validation
// ─────────────────────────────────────────────────────────────────────────────

// VariantSpec is the caller-supplied definition of one variant at experiment
// creation.
type VariantSpec struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	Content           map[string]interface{} `json:"content"`
	TrafficAllocation float64                `json:"traffic_allocation"`
	IsControl         bool                   `json:"is_control"`
}

// CreateSpec is the caller-supplied definition of a new experiment.
type CreateSpec struct {
	OwnerID          string        `json:"owner_id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Type             Type          `json:"type"`
	PrimaryMetric    string        `json:"primary_metric"`
	SecondaryMetrics []string      `json:"secondary_metrics"`
	ConfidenceLevel  float64       `json:"confidence_level"`
	MinSampleSize    int64         `json:"min_sample_size"`
	AutoSelectWinner *bool         `json:"auto_select_winner"`
	EndDate          *time.Time    `json:"end_date"`
	Variants         []VariantSpec `json:"variants"`
}

// validateAllocations checks the 100-percent traffic allocation invariant
// over the supplied per-variant allocations.
func validateAllocations(allocations []float64) error {
	var sum float64
	for _, a := range allocations {
		if a < 0 || a > 100 {
			return apperrors.Newf(apperrors.ErrCodeInvalidAllocation,
				"traffic allocation %.2f outside [0, 100]", a)
		}
		sum += a
	}
	if math.Abs(sum-100) > allocationTolerance {
		return apperrors.Newf(apperrors.ErrCodeInvalidAllocation,
			"traffic allocations sum to %.2f, expected 100", sum)
	}
	return nil
}

// NewExperiment validates spec and materializes a draft experiment with its
// variants.  If no variant is marked as control the first one is promoted;
// more than one control is rejected.
func NewExperiment(spec CreateSpec, now time.Time) (*Experiment, error) {
	if spec.Name == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "experiment name is required")
	}
	if spec.Type == "" {
		spec.Type = TypeCustom
	}
	if !spec.Type.IsValid() {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "unknown experiment type %q", spec.Type)
	}
	if len(spec.Variants) < 2 {
		return nil, apperrors.New(apperrors.ErrCodeInsufficientVariants,
			"an experiment requires at least 2 variants")
	}

	allocations := make([]float64, len(spec.Variants))
	controls := 0
	for i, v := range spec.Variants {
		if v.Name == "" {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation, "variant %d has no name", i)
		}
		allocations[i] = v.TrafficAllocation
		if v.IsControl {
			controls++
		}
	}
	if controls > 1 {
		return nil, apperrors.New(apperrors.ErrCodeValidation,
			"at most one variant may be marked as control")
	}
	if err := validateAllocations(allocations); err != nil {
		return nil, err
	}

	confidence := spec.ConfidenceLevel
	if confidence == 0 {
		confidence = defaultConfidenceLevel
	}
	if confidence < minConfidenceLevel || confidence > maxConfidenceLevel {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"confidence level %.2f outside [%.2f, %.2f]", confidence, minConfidenceLevel, maxConfidenceLevel)
	}

	minSample := spec.MinSampleSize
	if minSample == 0 {
		minSample = defaultMinSampleSize
	}
	if minSample < defaultMinSampleSize {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"minimum sample size %d below %d", minSample, defaultMinSampleSize)
	}

	autoSelect := true
	if spec.AutoSelectWinner != nil {
		autoSelect = *spec.AutoSelectWinner
	}

	exp := &Experiment{
		ID:               uuid.New().String(),
		OwnerID:          spec.OwnerID,
		Name:             spec.Name,
		Description:      spec.Description,
		Type:             spec.Type,
		Status:           StatusDraft,
		PrimaryMetric:    spec.PrimaryMetric,
		SecondaryMetrics: spec.SecondaryMetrics,
		ConfidenceLevel:  confidence,
		MinSampleSize:    minSample,
		AutoSelectWinner: autoSelect,
		EndDate:          spec.EndDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for i, v := range spec.Variants {
		exp.Variants = append(exp.Variants, &Variant{
			ID:                uuid.New().String(),
			ExperimentID:      exp.ID,
			Name:              v.Name,
			Description:       v.Description,
			Content:           v.Content,
			TrafficAllocation: v.TrafficAllocation,
			IsControl:         v.IsControl || (controls == 0 && i == 0),
			Position:          i,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return exp, nil
}

// Control returns the control variant, or nil if the experiment has none.
func (e *Experiment) Control() *Variant {
	for _, v := range e.Variants {
		if v.IsControl {
			return v
		}
	}
	return nil
}

// Variant returns the variant with the given ID, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for _, v := range e.Variants {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// transitionTo applies one state-machine step, returning a StateConflict
// error when the step is illegal.
func (e *Experiment) transitionTo(target Status, now time.Time) error {
	if !e.Status.CanTransitionTo(target) {
		return apperrors.Newf(apperrors.ErrCodeStateConflict,
			"cannot transition experiment from %s to %s", e.Status, target)
	}
	e.Status = target
	e.UpdatedAt = now
	return nil
}
