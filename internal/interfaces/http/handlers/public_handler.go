package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/pkg/errors"
)

// ResultsProvider computes or serves the results read-model for an
// experiment.  Satisfied by *experiment.Service and by the Redis results
// cache wrapping it.
type ResultsProvider interface {
	Results(ctx context.Context, id string) (*experiment.Results, error)
}

// PublicHandler serves the traffic-facing endpoints: variant assignment,
// conversion tracking, and results.
type PublicHandler struct {
	svc        *experiment.Service
	results    ResultsProvider
	invalidate ResultsInvalidator
}

// NewPublicHandler creates the traffic handler.  results may be the service
// itself or a caching layer over it; cache may be nil when no results cache
// is deployed.
func NewPublicHandler(svc *experiment.Service, results ResultsProvider, cache ResultsInvalidator) *PublicHandler {
	if results == nil {
		results = svc
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	return &PublicHandler{svc: svc, results: results, invalidate: cache}
}

type assignRequest struct {
	ExperimentID string `json:"experiment_id"`
	SessionID    string `json:"session_id"`
}

// Assign handles POST /api/v1/assign.  Repeated calls for the same session
// return the same variant.
func (h *PublicHandler) Assign(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ExperimentID == "" {
		respondError(c, errors.New(errors.ErrCodeValidation, "experiment_id is required"))
		return
	}

	result, err := h.svc.Assign(c.Request.Context(), req.ExperimentID, req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Convert handles POST /api/v1/convert.
func (h *PublicHandler) Convert(c *gin.Context) {
	var spec experiment.ConversionSpec
	if !bindJSON(c, &spec) {
		return
	}
	if spec.ExperimentID == "" {
		respondError(c, errors.New(errors.ErrCodeValidation, "experiment_id is required"))
		return
	}

	conv, err := h.svc.RecordConversion(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), conv.ExperimentID)
	c.JSON(http.StatusCreated, conv)
}

// Results handles GET /api/v1/experiments/:id/results.
func (h *PublicHandler) Results(c *gin.Context) {
	res, err := h.results.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
