package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelkit/experiments/internal/infrastructure/messaging/kafka"
)

func TestPrintEnvelope(t *testing.T) {
	t.Parallel()

	env, err := kafka.NewEventEnvelope(kafka.EventTypeWinnerDeclared, "experiments-engine", map[string]string{
		"experiment_id": "exp-1",
		"winner_id":     "var-2",
	})
	require.NoError(t, err)
	env.Timestamp = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, printEnvelope(&buf, env))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, kafka.EventTypeWinnerDeclared, line["event_type"])
	assert.NotEmpty(t, line["event_id"])

	payload, ok := line["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "exp-1", payload["experiment_id"])
	assert.Equal(t, "var-2", payload["winner_id"])
}

func TestEventsTail_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := runCommand(t, "http://localhost:8080", "events", "tail", "--brokers", "")
	assert.Error(t, err)
}
