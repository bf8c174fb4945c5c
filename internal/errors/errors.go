package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/portfolio-valuation/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryProvider represents price provider failures
	CategoryProvider ErrorCategory = "provider"
	// CategoryPricing represents prices that could not be resolved from any provider
	CategoryPricing ErrorCategory = "pricing"
	// CategoryConflict represents writes rejected by a uniqueness rule
	CategoryConflict ErrorCategory = "conflict"
	// CategoryDatabase represents persistence failures
	CategoryDatabase ErrorCategory = "database"
	// CategoryClient represents any other per-client processing failure
	CategoryClient ErrorCategory = "client"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// Error codes
const (
	CodeInvalidParameter   = "INVALID_PARAMETER"
	CodeNotFound           = "NOT_FOUND"
	CodePriceUnavailable   = "PRICE_UNAVAILABLE"
	CodeDuplicateSnapshot  = "DUPLICATE_SNAPSHOT"
	CodePersistenceFailure = "PERSISTENCE_FAILURE"
	CodeClientProcessing   = "CLIENT_PROCESSING_FAILURE"
	CodeRunTimeout         = "RUN_TIMEOUT"
	CodeProviderError      = "PROVIDER_ERROR"
	CodeProviderTimeout    = "PROVIDER_TIMEOUT"
	CodeProviderNotFound   = "PROVIDER_SYMBOL_NOT_FOUND"
	CodeProviderMalformed  = "PROVIDER_MALFORMED_PAYLOAD"
	CodeProviderRateLimit  = "PROVIDER_RATE_LIMIT"
	CodeProviderBudget     = "PROVIDER_BUDGET_EXHAUSTED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
	retryable  bool
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// Valuation errors

// NewPriceUnavailableError reports symbols no provider could price
func NewPriceUnavailableError(symbols []string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPricing,
		StatusCode: http.StatusOK,
		Code:       CodePriceUnavailable,
		Message:    fmt.Sprintf("price unavailable for %d symbol(s)", len(symbols)),
		Details: map[string]interface{}{
			"symbols": symbols,
		},
	}
}

// NewDuplicateSnapshotError reports that a snapshot already exists for the client and day
func NewDuplicateSnapshotError(clientID string, date string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeDuplicateSnapshot,
		Message:    fmt.Sprintf("snapshot already exists for client %s on %s", clientID, date),
		Details: map[string]interface{}{
			"clientId": clientID,
			"date":     date,
		},
	}
}

// NewPersistenceError reports a failed database write or read
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodePersistenceFailure,
		Message:    fmt.Sprintf("persistence failure during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewClientProcessingError reports any other failure isolated to one client
func NewClientProcessingError(clientID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClient,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeClientProcessing,
		Message:    fmt.Sprintf("failed to process client %s", clientID),
		Cause:      cause,
		Details: map[string]interface{}{
			"clientId": clientID,
		},
	}
}

// NewRunTimeoutError reports a client abandoned because the run budget ran out
func NewRunTimeoutError(clientID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryClient,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeRunTimeout,
		Message:    fmt.Sprintf("client %s not processed before run deadline", clientID),
		Cause:      cause,
		Details: map[string]interface{}{
			"clientId": clientID,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Price provider errors

// NewProviderError creates a provider error for transport failures and
// unexpected HTTP statuses. These are worth one retry.
func NewProviderError(provider string, statusCode int, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("price provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider":       provider,
			"upstreamStatus": statusCode,
		},
		retryable: true,
	}
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeProviderTimeout,
		Message:    fmt.Sprintf("price provider timeout: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
		retryable: true,
	}
}

// NewProviderRateLimitError creates a provider rate limit error
func NewProviderRateLimitError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeProviderRateLimit,
		Message:    fmt.Sprintf("price provider rate limit exceeded: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
		retryable: true,
	}
}

// NewProviderBudgetExhaustedError reports that the provider's credit budget
// for the current day is spent. Retrying before the window rolls over is
// pointless.
func NewProviderBudgetExhaustedError(provider string, resetsIn time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeProviderBudget,
		Message:    fmt.Sprintf("price provider credit budget exhausted: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
			"resetsIn": resetsIn.Round(time.Second).String(),
		},
	}
}

// NewProviderNotFoundError reports that a provider does not know the symbol
func NewProviderNotFoundError(provider, symbol string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusNotFound,
		Code:       CodeProviderNotFound,
		Message:    fmt.Sprintf("%s has no price for %s", provider, symbol),
		Details: map[string]interface{}{
			"provider": provider,
			"symbol":   symbol,
		},
	}
}

// NewProviderMalformedError reports a payload that failed validation
func NewProviderMalformedError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderMalformed,
		Message:    fmt.Sprintf("malformed payload from %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err (or anything it wraps) is a CategorizedError with code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Code == code
}

// IsDuplicateSnapshot reports whether err signals an existing snapshot
func IsDuplicateSnapshot(err error) bool {
	return HasCode(err, CodeDuplicateSnapshot)
}

// IsProviderNotFound reports whether err signals an unknown symbol
func IsProviderNotFound(err error) bool {
	return HasCode(err, CodeProviderNotFound)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth retrying against the same provider.
// Timeouts, rate limits, and HTTP error statuses qualify; unknown symbols and
// malformed payloads do not.
func IsRetryable(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.retryable
}
