package experiment

import (
	"context"
	"time"
)

// WinnerEvent is published when an experiment's winner is declared, either
// manually or by automatic selection.
type WinnerEvent struct {
	ExperimentID   string    `json:"experiment_id"`
	ExperimentName string    `json:"experiment_name"`
	WinnerID       string    `json:"winner_id"`
	WinnerName     string    `json:"winner_name"`
	ConversionRate float64   `json:"conversion_rate"`
	DecidedAt      time.Time `json:"decided_at"`
}

// Summary is the read-only daily digest of one running experiment, produced
// by the periodic sweep for external notification.
type Summary struct {
	ExperimentID     string    `json:"experiment_id"`
	Name             string    `json:"name"`
	Status           Status    `json:"status"`
	TotalImpressions int64     `json:"total_impressions"`
	TotalConversions int64     `json:"total_conversions"`
	HasWinner        bool      `json:"has_winner"`
	WinnerName       string    `json:"winner_name,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Notifier is the optional downstream notification channel.  Publishing is
// fire-and-forget from the engine's perspective: callers log failures and
// never let them fail the triggering operation.
type Notifier interface {
	PublishWinner(ctx context.Context, event WinnerEvent) error
	PublishSummary(ctx context.Context, summary Summary) error
}

// NopNotifier is the default Notifier used when no downstream channel is
// configured.
type NopNotifier struct{}

// PublishWinner discards the event.
func (NopNotifier) PublishWinner(_ context.Context, _ WinnerEvent) error { return nil }

// PublishSummary discards the summary.
func (NopNotifier) PublishSummary(_ context.Context, _ Summary) error { return nil }
