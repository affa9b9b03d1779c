package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelkit/experiments/pkg/client"
)

// stubAPI records the last request and serves canned JSON per path.
type stubAPI struct {
	t         *testing.T
	responses map[string]interface{}
	lastPath  string
	lastBody  map[string]interface{}
}

func (s *stubAPI) server() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastPath = r.Method + " " + r.URL.Path
		s.lastBody = nil
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			s.lastBody = body
		}

		resp, ok := s.responses[s.lastPath]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"code": "EXP_001", "message": "experiment not found"})
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
	s.t.Cleanup(srv.Close)
	return srv
}

func TestExperimentsList_TableOutput(t *testing.T) {
	t.Parallel()

	api := &stubAPI{t: t, responses: map[string]interface{}{
		"GET /api/v1/experiments": client.ExperimentList{
			Items: []client.Experiment{
				{ID: "exp-1", Name: "Checkout CTA", Status: "running", Type: "ab_test",
					CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)},
			},
			Page: client.Page{Total: 1, Limit: 20},
		},
	}}

	out, err := runCommand(t, api.server().URL, "experiments", "list", "--status", "running")
	require.NoError(t, err)

	assert.Contains(t, out, "exp-1")
	assert.Contains(t, out, "Checkout CTA")
	assert.Contains(t, out, "running")
}

func TestExperimentsCreate(t *testing.T) {
	t.Parallel()

	api := &stubAPI{t: t, responses: map[string]interface{}{
		"POST /api/v1/experiments": client.Experiment{ID: "exp-9", Name: "Hero", Status: "draft"},
	}}

	out, err := runCommand(t, api.server().URL, "experiments", "create",
		"--name", "Hero",
		"--variant", "Control:50:control",
		"--variant", "Bold:50",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: created experiment exp-9")

	variants, ok := api.lastBody["variants"].([]interface{})
	require.True(t, ok)
	require.Len(t, variants, 2)
	first := variants[0].(map[string]interface{})
	assert.Equal(t, "Control", first["name"])
	assert.Equal(t, true, first["is_control"])
}

func TestExperimentsCreate_RejectsBadVariant(t *testing.T) {
	t.Parallel()

	_, err := runCommand(t, "http://localhost:1", "experiments", "create",
		"--name", "Hero", "--variant", "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid variant")
}

func TestExperimentsLifecycleCommands(t *testing.T) {
	t.Parallel()

	api := &stubAPI{t: t, responses: map[string]interface{}{
		"POST /api/v1/experiments/exp-1/start":    client.Experiment{ID: "exp-1", Status: "running"},
		"POST /api/v1/experiments/exp-1/pause":    client.Experiment{ID: "exp-1", Status: "paused"},
		"POST /api/v1/experiments/exp-1/archive":  client.Experiment{ID: "exp-1", Status: "archived"},
		"POST /api/v1/experiments/exp-1/complete": client.Experiment{ID: "exp-1", Status: "completed"},
	}}
	url := api.server().URL

	out, err := runCommand(t, url, "experiments", "start", "exp-1")
	require.NoError(t, err)
	assert.Contains(t, out, "exp-1 is now running")

	out, err = runCommand(t, url, "experiments", "pause", "exp-1")
	require.NoError(t, err)
	assert.Contains(t, out, "exp-1 is now paused")

	out, err = runCommand(t, url, "experiments", "complete", "exp-1", "--winner", "var-2")
	require.NoError(t, err)
	assert.Contains(t, out, "no winner declared")
	assert.Equal(t, "var-2", api.lastBody["winner_id"])
}

func TestExperimentsDelete_RequiresConfirmation(t *testing.T) {
	t.Parallel()

	_, err := runCommand(t, "http://localhost:1", "experiments", "delete", "exp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestExperimentsAllocate(t *testing.T) {
	t.Parallel()

	api := &stubAPI{t: t, responses: map[string]interface{}{
		"PUT /api/v1/experiments/exp-1/allocations": client.Experiment{ID: "exp-1"},
	}}

	out, err := runCommand(t, api.server().URL, "experiments", "allocate", "exp-1",
		"--set", "var-1=30", "--set", "var-2=70")
	require.NoError(t, err)
	assert.Contains(t, out, "updated allocations")

	allocations, ok := api.lastBody["allocations"].([]interface{})
	require.True(t, ok)
	assert.Len(t, allocations, 2)
}

func TestExperimentsGet_NotFound(t *testing.T) {
	t.Parallel()

	api := &stubAPI{t: t, responses: map[string]interface{}{}}

	_, err := runCommand(t, api.server().URL, "experiments", "get", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXP_001")
}

func TestResultsCommand(t *testing.T) {
	t.Parallel()

	winner := "var-2"
	api := &stubAPI{t: t, responses: map[string]interface{}{
		"GET /api/v1/experiments/exp-1/results": client.Results{
			ExperimentID:     "exp-1",
			Name:             "Checkout CTA",
			Status:           "running",
			TotalImpressions: 2000,
			TotalConversions: 250,
			HasWinner:        true,
			WinnerID:         &winner,
			WinnerName:       "Green button",
			Recommendation:   "declare the winner",
			Variants: []client.VariantResult{
				{VariantID: "var-1", Name: "Control", IsControl: true, Impressions: 1000, Conversions: 100, ConversionRate: 0.10, PValue: 1},
				{VariantID: "var-2", Name: "Green button", Impressions: 1000, Conversions: 150, ConversionRate: 0.15, PValue: 0.0006, Significant: true, WinProbability: 0.99},
			},
		},
	}}

	out, err := runCommand(t, api.server().URL, "results", "exp-1")
	require.NoError(t, err)

	assert.Contains(t, out, "Experiment: Checkout CTA (exp-1)")
	assert.Contains(t, out, "Winner: Green button")
	assert.Contains(t, out, "Recommendation: declare the winner")
	assert.Contains(t, out, "Green button")
	assert.Contains(t, out, "15.00%")
}
