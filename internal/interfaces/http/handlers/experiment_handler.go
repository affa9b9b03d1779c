package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/propelkit/experiments/internal/domain/experiment"
)

// ExperimentHandler serves the experiment management API.
type ExperimentHandler struct {
	svc        *experiment.Service
	invalidate ResultsInvalidator
}

// NewExperimentHandler creates the management handler.  cache may be nil when
// no results cache is deployed.
func NewExperimentHandler(svc *experiment.Service, cache ResultsInvalidator) *ExperimentHandler {
	if cache == nil {
		cache = nopInvalidator{}
	}
	return &ExperimentHandler{svc: svc, invalidate: cache}
}

// Create handles POST /api/v1/experiments.
func (h *ExperimentHandler) Create(c *gin.Context) {
	var spec experiment.CreateSpec
	if !bindJSON(c, &spec) {
		return
	}

	exp, err := h.svc.Create(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

// List handles GET /api/v1/experiments.  Filters: status, owner_id; paging:
// limit, offset.
func (h *ExperimentHandler) List(c *gin.Context) {
	limit, offset := parsePagination(c)

	opts := []experiment.ListOption{
		experiment.WithLimit(limit),
		experiment.WithOffset(offset),
	}
	if status := c.Query("status"); status != "" {
		opts = append(opts, experiment.WithStatus(experiment.Status(status)))
	}
	if owner := c.Query("owner_id"); owner != "" {
		opts = append(opts, experiment.WithOwner(owner))
	}

	items, total, err := h.svc.List(c.Request.Context(), opts...)
	if err != nil {
		respondError(c, err)
		return
	}

	page := experiment.ApplyListOptions(opts...)
	c.JSON(http.StatusOK, ListResponse{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// Get handles GET /api/v1/experiments/:id.
func (h *ExperimentHandler) Get(c *gin.Context) {
	exp, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// Update handles PUT /api/v1/experiments/:id.
func (h *ExperimentHandler) Update(c *gin.Context) {
	var patch experiment.UpdateSpec
	if !bindJSON(c, &patch) {
		return
	}

	exp, err := h.svc.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), exp.ID)
	c.JSON(http.StatusOK, exp)
}

// Delete handles DELETE /api/v1/experiments/:id.
func (h *ExperimentHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

// Start handles POST /api/v1/experiments/:id/start.
func (h *ExperimentHandler) Start(c *gin.Context) {
	exp, err := h.svc.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), exp.ID)
	c.JSON(http.StatusOK, exp)
}

// Pause handles POST /api/v1/experiments/:id/pause.
func (h *ExperimentHandler) Pause(c *gin.Context) {
	exp, err := h.svc.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), exp.ID)
	c.JSON(http.StatusOK, exp)
}

type completeRequest struct {
	WinnerID *string `json:"winner_id"`
}

// Complete handles POST /api/v1/experiments/:id/complete.  An empty body or
// a null winner_id lets the engine pick the winner.
func (h *ExperimentHandler) Complete(c *gin.Context) {
	var req completeRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	exp, err := h.svc.Complete(c.Request.Context(), c.Param("id"), req.WinnerID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), exp.ID)
	c.JSON(http.StatusOK, exp)
}

// Archive handles POST /api/v1/experiments/:id/archive.
func (h *ExperimentHandler) Archive(c *gin.Context) {
	exp, err := h.svc.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), exp.ID)
	c.JSON(http.StatusOK, exp)
}

type allocationsRequest struct {
	Allocations []experiment.AllocationSpec `json:"allocations"`
}

// SetAllocations handles PUT /api/v1/experiments/:id/allocations.
func (h *ExperimentHandler) SetAllocations(c *gin.Context) {
	var req allocationsRequest
	if !bindJSON(c, &req) {
		return
	}

	exp, err := h.svc.SetTrafficAllocation(c.Request.Context(), c.Param("id"), req.Allocations)
	if err != nil {
		respondError(c, err)
		return
	}
	h.invalidate.Invalidate(c.Request.Context(), exp.ID)
	c.JSON(http.StatusOK, exp)
}

// Conversions handles GET /api/v1/experiments/:id/conversions.
func (h *ExperimentHandler) Conversions(c *gin.Context) {
	limit, offset := parsePagination(c)

	items, total, err := h.svc.Conversions(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	page := experiment.ApplyListOptions(experiment.WithLimit(limit), experiment.WithOffset(offset))
	c.JSON(http.StatusOK, ListResponse{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}
