package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

// newStubServer returns a client against a server that records each request
// and replies with the canned response.
func newStubServer(t *testing.T, status int, response interface{}) (*Client, *recordedRequest) {
	t.Helper()

	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.Method = r.Method
		rec.Path = r.URL.Path
		rec.Query = r.URL.RawQuery
		if r.Body != nil {
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				rec.Body = body
			}
		}
		w.WriteHeader(status)
		if response != nil {
			json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, WithRetry(0, time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	return c, rec
}

func TestExperiments_Create(t *testing.T) {
	t.Parallel()

	c, rec := newStubServer(t, http.StatusCreated, Experiment{ID: "exp-1", Status: "draft"})

	exp, err := c.Experiments().Create(context.Background(), CreateExperimentRequest{
		Name: "Checkout CTA",
		Variants: []VariantRequest{
			{Name: "Control", TrafficAllocation: 50, IsControl: true},
			{Name: "Variant B", TrafficAllocation: 50},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.Method)
	assert.Equal(t, "/api/v1/experiments", rec.Path)
	assert.Equal(t, "Checkout CTA", rec.Body["name"])
	assert.Equal(t, "exp-1", exp.ID)
	assert.Equal(t, "draft", exp.Status)
}

func TestExperiments_GetAndDelete(t *testing.T) {
	t.Parallel()

	c, rec := newStubServer(t, http.StatusOK, Experiment{ID: "exp-1"})
	_, err := c.Experiments().Get(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.Method)
	assert.Equal(t, "/api/v1/experiments/exp-1", rec.Path)

	c, rec = newStubServer(t, http.StatusNoContent, nil)
	require.NoError(t, c.Experiments().Delete(context.Background(), "exp-1"))
	assert.Equal(t, http.MethodDelete, rec.Method)
	assert.Equal(t, "/api/v1/experiments/exp-1", rec.Path)
}

func TestExperiments_ListQueryParams(t *testing.T) {
	t.Parallel()

	c, rec := newStubServer(t, http.StatusOK, ExperimentList{
		Items: []Experiment{{ID: "exp-1"}},
		Page:  Page{Total: 1, Limit: 10, Offset: 0},
	})

	list, err := c.Experiments().List(context.Background(), ListExperimentsOptions{
		Status:  "running",
		OwnerID: "team-growth",
		Limit:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/experiments", rec.Path)
	assert.Contains(t, rec.Query, "status=running")
	assert.Contains(t, rec.Query, "owner_id=team-growth")
	assert.Contains(t, rec.Query, "limit=10")
	require.Len(t, list.Items, 1)
	assert.EqualValues(t, 1, list.Total)
}

func TestExperiments_Lifecycle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		call func(c *Client) error
		path string
	}{
		{
			name: "start",
			call: func(c *Client) error {
				_, err := c.Experiments().Start(context.Background(), "exp-1")
				return err
			},
			path: "/api/v1/experiments/exp-1/start",
		},
		{
			name: "pause",
			call: func(c *Client) error {
				_, err := c.Experiments().Pause(context.Background(), "exp-1")
				return err
			},
			path: "/api/v1/experiments/exp-1/pause",
		},
		{
			name: "archive",
			call: func(c *Client) error {
				_, err := c.Experiments().Archive(context.Background(), "exp-1")
				return err
			},
			path: "/api/v1/experiments/exp-1/archive",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, rec := newStubServer(t, http.StatusOK, Experiment{ID: "exp-1"})
			require.NoError(t, tc.call(c))
			assert.Equal(t, http.MethodPost, rec.Method)
			assert.Equal(t, tc.path, rec.Path)
		})
	}
}

func TestExperiments_Complete(t *testing.T) {
	t.Parallel()

	t.Run("with explicit winner", func(t *testing.T) {
		t.Parallel()
		c, rec := newStubServer(t, http.StatusOK, Experiment{ID: "exp-1", Status: "completed"})
		_, err := c.Experiments().Complete(context.Background(), "exp-1", "var-2")
		require.NoError(t, err)
		assert.Equal(t, "/api/v1/experiments/exp-1/complete", rec.Path)
		assert.Equal(t, "var-2", rec.Body["winner_id"])
	})

	t.Run("server-evaluated winner", func(t *testing.T) {
		t.Parallel()
		c, rec := newStubServer(t, http.StatusOK, Experiment{ID: "exp-1", Status: "completed"})
		_, err := c.Experiments().Complete(context.Background(), "exp-1", "")
		require.NoError(t, err)
		assert.Nil(t, rec.Body)
	})
}

func TestExperiments_SetAllocations(t *testing.T) {
	t.Parallel()

	c, rec := newStubServer(t, http.StatusOK, Experiment{ID: "exp-1"})
	_, err := c.Experiments().SetAllocations(context.Background(), "exp-1", []Allocation{
		{VariantID: "var-1", TrafficAllocation: 30},
		{VariantID: "var-2", TrafficAllocation: 70},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, rec.Method)
	assert.Equal(t, "/api/v1/experiments/exp-1/allocations", rec.Path)
	allocations, ok := rec.Body["allocations"].([]interface{})
	require.True(t, ok)
	assert.Len(t, allocations, 2)
}

func TestExperiments_Conversions(t *testing.T) {
	t.Parallel()

	c, rec := newStubServer(t, http.StatusOK, ConversionList{
		Items: []Conversion{{ID: "conv-1", Event: "purchase"}},
		Page:  Page{Total: 3, Limit: 1, Offset: 0},
	})

	list, err := c.Experiments().Conversions(context.Background(), "exp-1", 1, 0)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/experiments/exp-1/conversions", rec.Path)
	assert.Contains(t, rec.Query, "limit=1")
	require.Len(t, list.Items, 1)
	assert.EqualValues(t, 3, list.Total)
}
