package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/internal/interfaces/http/handlers"
	"github.com/propelkit/experiments/internal/testutil"
)

var frozenNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	router *gin.Engine
	svc    *experiment.Service
	store  *testutil.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testutil.NewMemoryStore()
	svc := experiment.NewService(store, store.AssignmentRepo(), store.ConversionRepo(),
		logging.NewNopLogger(),
		experiment.WithClock(func() time.Time { return frozenNow }),
		experiment.WithRandSource(rand.NewSource(42)))

	router := NewRouter(RouterConfig{
		ExperimentHandler: handlers.NewExperimentHandler(svc, nil),
		PublicHandler:     handlers.NewPublicHandler(svc, nil, nil),
		HealthHandler:     handlers.NewHealthHandler("test"),
		Logger:            logging.NewNopLogger(),
		Mode:              gin.TestMode,
	})

	return &fixture{router: router, svc: svc, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"name":           "checkout flow",
		"owner_id":       "team-growth",
		"primary_metric": "conversion",
		"variants": []map[string]interface{}{
			{"name": "Control", "traffic_allocation": 50, "is_control": true},
			{"name": "Variant B", "traffic_allocation": 50},
		},
	}
}

func (f *fixture) createExperiment(t *testing.T) *experiment.Experiment {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/experiments", createBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var exp experiment.Experiment
	decodeBody(t, rec, &exp)
	return &exp
}

func (f *fixture) startExperiment(t *testing.T, id string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/experiments/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// ─────────────────────────────────────────────────────────────────────────────
// Management API
// ─────────────────────────────────────────────────────────────────────────────

func TestCreateExperiment(t *testing.T) {
	f := newFixture(t)

	exp := f.createExperiment(t)
	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, experiment.StatusDraft, exp.Status)
	require.Len(t, exp.Variants, 2)
	assert.True(t, exp.Variants[0].IsControl)
}

func TestCreateExperiment_ValidationError(t *testing.T) {
	f := newFixture(t)

	body := createBody()
	body["variants"] = []map[string]interface{}{
		{"name": "Only", "traffic_allocation": 100, "is_control": true},
	}
	rec := f.do(t, http.MethodPost, "/api/v1/experiments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp handlers.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "EXP_008", resp.Code)
}

func TestCreateExperiment_MalformedBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/experiments",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetExperiment_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/experiments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExperiments_FiltersByStatus(t *testing.T) {
	f := newFixture(t)

	running := f.createExperiment(t)
	f.createExperiment(t)
	f.startExperiment(t, running.ID)

	rec := f.do(t, http.MethodGet, "/api/v1/experiments?status=running", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []experiment.Experiment `json:"items"`
		Total int64                   `json:"total"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(1), resp.Total)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, running.ID, resp.Items[0].ID)
}

func TestLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)

	f.startExperiment(t, exp.ID)

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var paused experiment.Experiment
	decodeBody(t, rec, &paused)
	assert.Equal(t, experiment.StatusPaused, paused.Status)

	// Pausing again conflicts.
	rec = f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	winnerID := paused.Variants[1].ID
	rec = f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/complete",
		map[string]interface{}{"winner_id": winnerID})
	require.Equal(t, http.StatusOK, rec.Code)
	var completed experiment.Experiment
	decodeBody(t, rec, &completed)
	assert.Equal(t, experiment.StatusCompleted, completed.Status)
	require.NotNil(t, completed.WinnerID)
	assert.Equal(t, winnerID, *completed.WinnerID)

	rec = f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCompleteWithEmptyBody(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)
	f.startExperiment(t, exp.ID)

	rec := f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var completed experiment.Experiment
	decodeBody(t, rec, &completed)
	assert.Equal(t, experiment.StatusCompleted, completed.Status)
}

func TestSetAllocations(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)

	body := map[string]interface{}{
		"allocations": []map[string]interface{}{
			{"variant_id": exp.Variants[0].ID, "traffic_allocation": 30},
			{"variant_id": exp.Variants[1].ID, "traffic_allocation": 70},
		},
	}
	rec := f.do(t, http.MethodPut, "/api/v1/experiments/"+exp.ID+"/allocations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated experiment.Experiment
	decodeBody(t, rec, &updated)
	assert.Equal(t, 30.0, updated.Variants[0].TrafficAllocation)
	assert.Equal(t, 70.0, updated.Variants[1].TrafficAllocation)
}

func TestSetAllocations_BadSum(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)

	body := map[string]interface{}{
		"allocations": []map[string]interface{}{
			{"variant_id": exp.Variants[0].ID, "traffic_allocation": 30},
			{"variant_id": exp.Variants[1].ID, "traffic_allocation": 30},
		},
	}
	rec := f.do(t, http.MethodPut, "/api/v1/experiments/"+exp.ID+"/allocations", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteExperiment(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/experiments/"+exp.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/experiments/"+exp.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Public traffic API
// ─────────────────────────────────────────────────────────────────────────────

func TestAssign_StickyAcrossCalls(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)
	f.startExperiment(t, exp.ID)

	body := map[string]interface{}{"experiment_id": exp.ID, "session_id": "s-1"}

	rec := f.do(t, http.MethodPost, "/api/v1/assign", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first experiment.AssignmentResult
	decodeBody(t, rec, &first)
	assert.NotEmpty(t, first.VariantID)

	rec = f.do(t, http.MethodPost, "/api/v1/assign", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var second experiment.AssignmentResult
	decodeBody(t, rec, &second)
	assert.Equal(t, first.VariantID, second.VariantID)
}

func TestAssign_NotRunning(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)

	rec := f.do(t, http.MethodPost, "/api/v1/assign",
		map[string]interface{}{"experiment_id": exp.ID, "session_id": "s-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAssign_MissingSession(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)
	f.startExperiment(t, exp.ID)

	rec := f.do(t, http.MethodPost, "/api/v1/assign",
		map[string]interface{}{"experiment_id": exp.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConvert_RecordsConversion(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)
	f.startExperiment(t, exp.ID)

	assignBody := map[string]interface{}{"experiment_id": exp.ID, "session_id": "s-1"}
	rec := f.do(t, http.MethodPost, "/api/v1/assign", assignBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/convert", map[string]interface{}{
		"experiment_id": exp.ID,
		"session_id":    "s-1",
		"event":         "conversion",
		"value":         19.9,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var conv experiment.Conversion
	decodeBody(t, rec, &conv)
	assert.Equal(t, "conversion", conv.Event)
	require.NotNil(t, conv.Value)
	assert.Equal(t, 19.9, *conv.Value)
}

func TestConversionsList_Pages(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)
	f.startExperiment(t, exp.ID)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/convert", map[string]interface{}{
			"experiment_id": exp.ID,
			"session_id":    fmt.Sprintf("s-%d", i),
			"event":         "click",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet,
		"/api/v1/experiments/"+exp.ID+"/conversions?limit=2&offset=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []experiment.Conversion `json:"items"`
		Total int64                   `json:"total"`
		Limit int                     `json:"limit"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, int64(3), resp.Total)
	assert.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.Limit)
}

func TestResults(t *testing.T) {
	f := newFixture(t)
	exp := f.createExperiment(t)
	f.startExperiment(t, exp.ID)

	rec := f.do(t, http.MethodGet, "/api/v1/experiments/"+exp.ID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res experiment.Results
	decodeBody(t, rec, &res)
	assert.Equal(t, exp.ID, res.ExperimentID)
	assert.Len(t, res.Variants, 2)
	assert.False(t, res.HasWinner)
}

// ─────────────────────────────────────────────────────────────────────────────
// Results cache invalidation
// ─────────────────────────────────────────────────────────────────────────────

type captureInvalidator struct {
	ids []string
}

func (c *captureInvalidator) Invalidate(_ context.Context, id string) {
	c.ids = append(c.ids, id)
}

func newCachedFixture(t *testing.T) (*fixture, *captureInvalidator) {
	t.Helper()

	store := testutil.NewMemoryStore()
	svc := experiment.NewService(store, store.AssignmentRepo(), store.ConversionRepo(),
		logging.NewNopLogger(),
		experiment.WithClock(func() time.Time { return frozenNow }),
		experiment.WithRandSource(rand.NewSource(42)))

	inv := &captureInvalidator{}
	router := NewRouter(RouterConfig{
		ExperimentHandler: handlers.NewExperimentHandler(svc, inv),
		PublicHandler:     handlers.NewPublicHandler(svc, nil, inv),
		HealthHandler:     handlers.NewHealthHandler("test"),
		Logger:            logging.NewNopLogger(),
		Mode:              gin.TestMode,
	})
	return &fixture{router: router, svc: svc, store: store}, inv
}

func TestMutationsInvalidateCachedResults(t *testing.T) {
	f, inv := newCachedFixture(t)

	exp := f.createExperiment(t)
	require.Empty(t, inv.ids)

	f.startExperiment(t, exp.ID)
	assert.Equal(t, []string{exp.ID}, inv.ids)

	// Assignment only increments impressions; the TTL covers that drift.
	rec := f.do(t, http.MethodPost, "/api/v1/assign",
		map[string]interface{}{"experiment_id": exp.ID, "session_id": "s-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, inv.ids, 1)

	rec = f.do(t, http.MethodPost, "/api/v1/convert", map[string]interface{}{
		"experiment_id": exp.ID,
		"session_id":    "s-1",
		"event":         "conversion",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, inv.ids, 2)

	rec = f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, inv.ids, 3)
	for _, id := range inv.ids {
		assert.Equal(t, exp.ID, id)
	}

	// A rejected transition leaves the cache alone.
	rec = f.do(t, http.MethodPost, "/api/v1/experiments/"+exp.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, inv.ids, 3)
}

// ─────────────────────────────────────────────────────────────────────────────
// Probes
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var live handlers.LivenessResponse
	decodeBody(t, rec, &live)
	assert.Equal(t, "alive", live.Status)
	assert.Equal(t, "test", live.Version)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
