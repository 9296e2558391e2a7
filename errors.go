package calcd

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the JSON error shape returned by every handler.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Clone() *APIError {
	cpy := *e
	return &cpy
}

var (
	ErrInvalidRequest = &APIError{
		Code:       "invalid_request",
		Message:    "invalid request body",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrUnauthorized = &APIError{
		Code:       "unauthorized",
		Message:    "missing or invalid credentials",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrCalculationNotFound = &APIError{
		Code:       "not_found",
		Message:    "calculation not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrOverRateLimit = &APIError{
		Code:       "over_rate_limit",
		Message:    "over rate limit",
		HTTPStatus: http.StatusTooManyRequests,
	}
	ErrTooManyConcurrentRequests = &APIError{
		Code:       "over_capacity",
		Message:    "too many concurrent requests",
		HTTPStatus: http.StatusTooManyRequests,
	}
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// ErrValidation wraps a domain validation failure into a 422.
func ErrValidation(err error) *APIError {
	return &APIError{
		Code:       "validation_failed",
		Message:    err.Error(),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

func ErrConflict(msg string) *APIError {
	return &APIError{
		Code:       "conflict",
		Message:    msg,
		HTTPStatus: http.StatusConflict,
	}
}

// Storage sentinels. Handlers map these onto APIErrors.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateUser  = errors.New("email or username already registered")
)

func wrapErr(err error, msg string) error {
	return fmt.Errorf("%s: %w", msg, err)
}
