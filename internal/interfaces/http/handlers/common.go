// Package handlers contains the HTTP handlers of the experimentation API.
package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/propelkit/experiments/pkg/errors"
)

// ResultsInvalidator drops the cached results read-model of one experiment.
// The Redis results cache satisfies it; mutating handlers call it so reads
// reflect lifecycle changes and new conversions without waiting out the TTL.
type ResultsInvalidator interface {
	Invalidate(ctx context.Context, experimentID string)
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, string) {}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListResponse is the standard paginated collection envelope.
type ListResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// parsePagination extracts limit and offset from query parameters, leaving
// clamping to the domain layer.
func parsePagination(c *gin.Context) (int, int) {
	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

// respondError writes the application error as a structured JSON body using
// the HTTP status carried by its error code.  Internal errors are masked.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)

	message := errors.DefaultMessageForCode(code)
	if status < http.StatusInternalServerError {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			message = appErr.Message
		}
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    string(code),
		Message: message,
	})
}

// bindJSON unmarshals the request body into target, responding with a
// validation error on failure.  The bool reports success.
func bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeValidation, "invalid request body"))
		return false
	}
	return true
}
