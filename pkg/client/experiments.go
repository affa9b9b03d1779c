package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ExperimentsClient provides access to experiment management endpoints.
type ExperimentsClient struct {
	client *Client
}

// Experiment is an experiment resource as returned by the API.
type Experiment struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	PrimaryMetric    string     `json:"primary_metric"`
	SecondaryMetrics []string   `json:"secondary_metrics"`
	ConfidenceLevel  float64    `json:"confidence_level"`
	MinSampleSize    int64      `json:"min_sample_size"`
	AutoSelectWinner bool       `json:"auto_select_winner"`
	StartDate        *time.Time `json:"start_date"`
	EndDate          *time.Time `json:"end_date"`
	WinnerID         *string    `json:"winner_id"`
	Variants         []Variant  `json:"variants"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Variant is one arm of an experiment.
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

// VariantRequest describes one variant at experiment creation time.
type VariantRequest struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description,omitempty"`
	Content           map[string]interface{} `json:"content,omitempty"`
	TrafficAllocation float64                `json:"traffic_allocation"`
	IsControl         bool                   `json:"is_control,omitempty"`
}

// CreateExperimentRequest is the payload for creating an experiment.
type CreateExperimentRequest struct {
	OwnerID          string           `json:"owner_id,omitempty"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Type             string           `json:"type,omitempty"`
	PrimaryMetric    string           `json:"primary_metric,omitempty"`
	SecondaryMetrics []string         `json:"secondary_metrics,omitempty"`
	ConfidenceLevel  float64          `json:"confidence_level,omitempty"`
	MinSampleSize    int64            `json:"min_sample_size,omitempty"`
	AutoSelectWinner *bool            `json:"auto_select_winner,omitempty"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	Variants         []VariantRequest `json:"variants"`
}

// UpdateExperimentRequest is a partial configuration patch.  Nil fields are
// left unchanged.
type UpdateExperimentRequest struct {
	Name             *string    `json:"name,omitempty"`
	Description      *string    `json:"description,omitempty"`
	PrimaryMetric    *string    `json:"primary_metric,omitempty"`
	SecondaryMetrics []string   `json:"secondary_metrics,omitempty"`
	ConfidenceLevel  *float64   `json:"confidence_level,omitempty"`
	MinSampleSize    *int64     `json:"min_sample_size,omitempty"`
	AutoSelectWinner *bool      `json:"auto_select_winner,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	Status           *string    `json:"status,omitempty"`
}

// Allocation assigns a traffic share to one variant.
type Allocation struct {
	VariantID         string  `json:"variant_id"`
	TrafficAllocation float64 `json:"traffic_allocation"`
}

// ListExperimentsOptions filters and paginates experiment listings.
type ListExperimentsOptions struct {
	Status  string
	OwnerID string
	Limit   int
	Offset  int
}

// ExperimentList is one page of experiments.
type ExperimentList struct {
	Items []Experiment `json:"items"`
	Page
}

// ConversionList is one page of conversion events.
type ConversionList struct {
	Items []Conversion `json:"items"`
	Page
}

// Create creates a new experiment in draft state.
func (ec *ExperimentsClient) Create(ctx context.Context, req CreateExperimentRequest) (*Experiment, error) {
	var exp Experiment
	if err := ec.client.post(ctx, "/api/v1/experiments", req, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Get retrieves an experiment by ID.
func (ec *ExperimentsClient) Get(ctx context.Context, id string) (*Experiment, error) {
	var exp Experiment
	if err := ec.client.get(ctx, "/api/v1/experiments/"+url.PathEscape(id), &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// List returns a page of experiments matching opts.
func (ec *ExperimentsClient) List(ctx context.Context, opts ListExperimentsOptions) (*ExperimentList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.OwnerID != "" {
		q.Set("owner_id", opts.OwnerID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/api/v1/experiments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list ExperimentList
	if err := ec.client.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Update applies a partial configuration patch to a draft or paused
// experiment.
func (ec *ExperimentsClient) Update(ctx context.Context, id string, req UpdateExperimentRequest) (*Experiment, error) {
	var exp Experiment
	if err := ec.client.put(ctx, "/api/v1/experiments/"+url.PathEscape(id), req, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Delete removes a non-running experiment and all its data.
func (ec *ExperimentsClient) Delete(ctx context.Context, id string) error {
	return ec.client.delete(ctx, "/api/v1/experiments/"+url.PathEscape(id))
}

// Start transitions an experiment to running.
func (ec *ExperimentsClient) Start(ctx context.Context, id string) (*Experiment, error) {
	return ec.transition(ctx, id, "start")
}

// Pause transitions a running experiment to paused.
func (ec *ExperimentsClient) Pause(ctx context.Context, id string) (*Experiment, error) {
	return ec.transition(ctx, id, "pause")
}

// Complete finishes an experiment.  A non-empty winnerID pins the winning
// variant; with an empty winnerID the server evaluates the results and
// declares a winner when one is statistically supported.
func (ec *ExperimentsClient) Complete(ctx context.Context, id, winnerID string) (*Experiment, error) {
	var body interface{}
	if winnerID != "" {
		body = map[string]string{"winner_id": winnerID}
	}
	var exp Experiment
	path := fmt.Sprintf("/api/v1/experiments/%s/complete", url.PathEscape(id))
	if err := ec.client.post(ctx, path, body, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Archive moves a completed experiment to the archive.
func (ec *ExperimentsClient) Archive(ctx context.Context, id string) (*Experiment, error) {
	return ec.transition(ctx, id, "archive")
}

func (ec *ExperimentsClient) transition(ctx context.Context, id, action string) (*Experiment, error) {
	var exp Experiment
	path := fmt.Sprintf("/api/v1/experiments/%s/%s", url.PathEscape(id), action)
	if err := ec.client.post(ctx, path, nil, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// SetAllocations replaces the traffic split across the experiment's variants.
// Allocations must cover every variant and sum to 100.
func (ec *ExperimentsClient) SetAllocations(ctx context.Context, id string, allocations []Allocation) (*Experiment, error) {
	body := map[string]interface{}{"allocations": allocations}
	var exp Experiment
	path := fmt.Sprintf("/api/v1/experiments/%s/allocations", url.PathEscape(id))
	if err := ec.client.put(ctx, path, body, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// Conversions returns a page of the experiment's conversion events, newest
// first.
func (ec *ExperimentsClient) Conversions(ctx context.Context, id string, limit, offset int) (*ConversionList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	path := fmt.Sprintf("/api/v1/experiments/%s/conversions", url.PathEscape(id))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list ConversionList
	if err := ec.client.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}
