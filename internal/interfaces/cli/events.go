package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/propelkit/experiments/internal/infrastructure/messaging/kafka"
)

// NewEventsCmd creates the events command group.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the experiment event stream",
	}
	cmd.AddCommand(newEventsTailCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var brokers []string
	var topic, group string

	cmd := &cobra.Command{
		Use:     "tail",
		Short:   "Tail experiment events from Kafka and print them as JSON lines",
		Example: `  abxctl events tail --brokers localhost:9092
  abxctl events tail --topic experiment.summary --group ops-dashboard`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			consumer, err := kafka.NewConsumer(kafka.Config{
				Enabled: true,
				Brokers: brokers,
				GroupID: group,
			}, topic, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "tailing %s on %s, Ctrl-C to stop\n",
				topic, strings.Join(brokers, ","))

			out := cmd.OutOrStdout()
			return consumer.Run(ctx, func(_ context.Context, env *kafka.EventEnvelope) error {
				return printEnvelope(out, env)
			})
		},
	}

	cmd.Flags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "kafka broker addresses")
	cmd.Flags().StringVar(&topic, "topic", kafka.TopicExperimentWinner, "topic to tail")
	cmd.Flags().StringVar(&group, "group", "", "consumer group ID (default: anonymous, latest offset)")
	return cmd
}

// printEnvelope writes one event envelope as a single JSON line.
func printEnvelope(w io.Writer, env *kafka.EventEnvelope) error {
	line := map[string]interface{}{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"source":     env.Source,
		"timestamp":  env.Timestamp,
		"payload":    json.RawMessage(env.Payload),
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
