package experiment

import (
	"context"
)

// ListOptions defines filtering and pagination for experiment queries.
type ListOptions struct {
	OwnerID string
	Status  Status
	Limit   int
	Offset  int
}

// ListOption is a functional option for experiment list queries.
type ListOption func(*ListOptions)

// WithOwner restricts the query to experiments owned by the given account.
func WithOwner(ownerID string) ListOption {
	return func(o *ListOptions) { o.OwnerID = ownerID }
}

// WithStatus restricts the query to experiments in the given state.
func WithStatus(status Status) ListOption {
	return func(o *ListOptions) { o.Status = status }
}

// WithLimit sets the page size for the query.
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithOffset sets the page offset for the query.
func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

// ApplyListOptions applies the given options and clamps pagination to sane
// bounds.
func ApplyListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{Limit: 20}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Limit <= 0 {
		options.Limit = 20
	}
	if options.Limit > 100 {
		options.Limit = 100
	}
	if options.Offset < 0 {
		options.Offset = 0
	}
	return options
}

// CounterDelta is one atomic increment applied to a variant's cumulative
// counters.  All fields must be non-negative; the store applies the whole
// delta in a single UPDATE so concurrent writers never lose updates.
type CounterDelta struct {
	Impressions int64
	Conversions int64
	Clicks      int64
	Value       float64
}

// IsZero reports whether the delta would change nothing.
func (d CounterDelta) IsZero() bool {
	return d.Impressions == 0 && d.Conversions == 0 && d.Clicks == 0 && d.Value == 0
}

// ExperimentRepository is the persistence contract for experiments and their
// variants.
type ExperimentRepository interface {
	// Create persists a new experiment together with all of its variants.
	Create(ctx context.Context, exp *Experiment) error

	// Get returns the experiment with its variants ordered by position.
	// Returns an ExperimentNotFound error when no row exists.
	Get(ctx context.Context, id string) (*Experiment, error)

	// List returns a page of experiments (variants included) matching the
	// options, plus the total match count.
	List(ctx context.Context, opts ListOptions) ([]*Experiment, int64, error)

	// Update persists the experiment's mutable configuration and lifecycle
	// fields.  Variant counters are never written through this path.
	Update(ctx context.Context, exp *Experiment) error

	// UpdateVariants persists name, description, content, allocation and
	// control flags for the experiment's full variant set.
	UpdateVariants(ctx context.Context, experimentID string, variants []*Variant) error

	// IncrementCounters atomically applies the delta to one variant's
	// cumulative counters at the store level.
	IncrementCounters(ctx context.Context, variantID string, delta CounterDelta) error

	// Delete removes the experiment and cascades to its variants,
	// assignments and conversions.
	Delete(ctx context.Context, id string) error
}

// AssignmentRepository is the persistence contract for sticky session
// assignments.
type AssignmentRepository interface {
	// Create inserts a new assignment.  When a row for the same
	// (experimentID, sessionID) already exists the store's unique
	// constraint fires and Create returns a Conflict error; callers
	// resolve the race by re-reading the winning row.
	Create(ctx context.Context, a *Assignment) error

	// Get returns the assignment for (experimentID, sessionID), or an
	// AssignmentNotFound error.
	Get(ctx context.Context, experimentID, sessionID string) (*Assignment, error)
}

// ConversionRepository is the persistence contract for the append-only
// conversion event log.
type ConversionRepository interface {
	// Create appends one conversion event.
	Create(ctx context.Context, c *Conversion) error

	// ListByExperiment returns a page of the experiment's conversion events
	// in reverse chronological order, plus the total count.
	ListByExperiment(ctx context.Context, experimentID string, limit, offset int) ([]*Conversion, int64, error)
}
