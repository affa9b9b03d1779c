package kafka

import (
	"context"

	"github.com/propelkit/experiments/internal/domain/experiment"
)

// Event type identifiers carried in the envelope.
const (
	EventTypeWinnerDeclared    = "experiment.winner_declared"
	EventTypeExperimentSummary = "experiment.summary"
)

const eventSource = "experiments-engine"

// Notifier publishes experiment events to Kafka.  It implements
// experiment.Notifier.
type Notifier struct {
	producer *Producer
}

// NewNotifier wraps a producer as a domain notifier.
func NewNotifier(producer *Producer) *Notifier {
	return &Notifier{producer: producer}
}

// PublishWinner emits a winner declaration to the winner topic.
func (n *Notifier) PublishWinner(ctx context.Context, event experiment.WinnerEvent) error {
	env, err := NewEventEnvelope(EventTypeWinnerDeclared, eventSource, event)
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, TopicExperimentWinner, event.ExperimentID, env)
}

// PublishSummary emits a daily digest to the summary topic.
func (n *Notifier) PublishSummary(ctx context.Context, summary experiment.Summary) error {
	env, err := NewEventEnvelope(EventTypeExperimentSummary, eventSource, summary)
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, TopicExperimentSummary, summary.ExperimentID, env)
}
