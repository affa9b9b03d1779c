package client

import (
	"context"
	"net/url"
	"time"
)

// DeliveryClient provides access to the high-volume delivery endpoints:
// variant assignment, conversion tracking and results.
type DeliveryClient struct {
	client *Client
}

// Assignment records which variant a session was bucketed into.
type Assignment struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversion is one recorded conversion event.
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

// ConversionRequest is the payload for recording a conversion.
type ConversionRequest struct {
	ExperimentID string                 `json:"experiment_id"`
	VariantID    string                 `json:"variant_id,omitempty"`
	SessionID    string                 `json:"session_id"`
	Event        string                 `json:"event,omitempty"`
	Value        *float64               `json:"value,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// VariantResult carries one variant's counters and the inferential statistics
// derived against the control arm.  Field names follow the server's wire
// encoding.
type VariantResult struct {
	VariantID   string
	Name        string
	IsControl   bool
	Impressions int64
	Conversions int64
	Clicks      int64
	TotalValue  float64

	ConversionRate float64
	ClickRate      float64
	StandardError  float64
	CILower        float64
	CIUpper        float64

	PValue              float64
	Significant         bool
	RelativeImprovement *float64
	WinProbability      float64
}

// Results is the statistical read of an experiment.
type Results struct {
	ExperimentID       string          `json:"experiment_id"`
	Name               string          `json:"name"`
	Status             string          `json:"status"`
	ConfidenceLevel    float64         `json:"confidence_level"`
	MinSampleSize      int64           `json:"min_sample_size"`
	Variants           []VariantResult `json:"variants"`
	TotalImpressions   int64           `json:"total_impressions"`
	TotalConversions   int64           `json:"total_conversions"`
	StatisticalPower   float64         `json:"statistical_power"`
	HasWinner          bool            `json:"has_winner"`
	WinnerID           *string         `json:"winner_id,omitempty"`
	WinnerName         string          `json:"winner_name,omitempty"`
	Recommendation     string          `json:"recommendation"`
	DaysToSignificance *int            `json:"days_to_significance,omitempty"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// Assign buckets a session into a variant of a running experiment.  Repeat
// calls with the same session return the original assignment.
func (dc *DeliveryClient) Assign(ctx context.Context, experimentID, sessionID string) (*Assignment, error) {
	body := map[string]string{
		"experiment_id": experimentID,
		"session_id":    sessionID,
	}
	var a Assignment
	if err := dc.client.post(ctx, "/api/v1/assign", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Convert records a conversion event for a session.
func (dc *DeliveryClient) Convert(ctx context.Context, req ConversionRequest) (*Conversion, error) {
	var conv Conversion
	if err := dc.client.post(ctx, "/api/v1/convert", req, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Results returns the current statistical results of an experiment.
func (dc *DeliveryClient) Results(ctx context.Context, experimentID string) (*Results, error) {
	var res Results
	path := "/api/v1/experiments/" + url.PathEscape(experimentID) + "/results"
	if err := dc.client.get(ctx, path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
