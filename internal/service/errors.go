// Package service implements the operations the API handlers depend on,
// translating engine and store outcomes into typed service errors.
package service

import "fmt"

// Error codes understood by the API layer's status mapping.
const (
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// ServiceError carries a typed kind and a short human-readable reason.
// Internal details never ride along: they belong in logs.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalidArgument(msg string) *ServiceError {
	return &ServiceError{Code: CodeInvalidArgument, Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: msg}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: CodeConflict, Message: msg}
}

func exhausted(msg string) *ServiceError {
	return &ServiceError{Code: CodeResourceExhausted, Message: msg}
}

func rateLimited(msg string) *ServiceError {
	return &ServiceError{Code: CodeRateLimited, Message: msg}
}

func unavailable(msg string) *ServiceError {
	return &ServiceError{Code: CodeUnavailable, Message: msg}
}
