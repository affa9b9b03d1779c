package errors

import "net/http"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by every layer.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_003"
	ErrCodeConflict           ErrorCode = "COMMON_004"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_005"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_006"
	ErrCodeValidation         ErrorCode = "COMMON_007"
	ErrCodeSerialization      ErrorCode = "COMMON_008"
	ErrCodeDatabaseError      ErrorCode = "COMMON_009"
	ErrCodeCacheError         ErrorCode = "COMMON_010"
	ErrCodeMessagingError     ErrorCode = "COMMON_011"
)

// Experiment module error codes.
const (
	ErrCodeExperimentNotFound   ErrorCode = "EXP_001"
	ErrCodeVariantNotFound      ErrorCode = "EXP_002"
	ErrCodeInvalidAllocation    ErrorCode = "EXP_003"
	ErrCodeStateConflict        ErrorCode = "EXP_004"
	ErrCodeExperimentNotRunning ErrorCode = "EXP_005"
	ErrCodeAssignmentNotFound   ErrorCode = "EXP_006"
	ErrCodeExperimentImmutable  ErrorCode = "EXP_007"
	ErrCodeInsufficientVariants ErrorCode = "EXP_008"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeMessagingError:     http.StatusInternalServerError,

	ErrCodeExperimentNotFound:   http.StatusNotFound,
	ErrCodeVariantNotFound:      http.StatusNotFound,
	ErrCodeInvalidAllocation:    http.StatusBadRequest,
	ErrCodeStateConflict:        http.StatusConflict,
	ErrCodeExperimentNotRunning: http.StatusConflict,
	ErrCodeAssignmentNotFound:   http.StatusNotFound,
	ErrCodeExperimentImmutable:  http.StatusConflict,
	ErrCodeInsufficientVariants: http.StatusBadRequest,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeMessagingError:     "message broker error",

	ErrCodeExperimentNotFound:   "experiment not found",
	ErrCodeVariantNotFound:      "variant not found",
	ErrCodeInvalidAllocation:    "traffic allocation must sum to 100",
	ErrCodeStateConflict:        "operation not allowed in current experiment state",
	ErrCodeExperimentNotRunning: "experiment is not running",
	ErrCodeAssignmentNotFound:   "assignment not found",
	ErrCodeExperimentImmutable:  "completed or archived experiments cannot be modified",
	ErrCodeInsufficientVariants: "experiment requires at least two variants",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}
