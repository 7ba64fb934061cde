package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Two domain errors match when they share a type and
// message, so sentinel comparisons like errors.Is(err, ErrUnknownModel) work
// across wrapped instances.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Validation errors: local programming/config mistakes, never reach the
	// network.
	ErrDimensionMismatch = NewDomainError(ErrorTypeValidation, "vector length does not match requested dimension", nil)
	ErrUnknownModel      = NewDomainError(ErrorTypeValidation, "no price entry registered for model", nil)

	// External errors: remote-call failures, recoverable per skill.
	ErrEmbeddingUnavailable    = NewDomainError(ErrorTypeExternal, "embedding provider unavailable", nil)
	ErrSearchUnavailable       = NewDomainError(ErrorTypeExternal, "similarity search unavailable", nil)
	ErrFilterUnavailable       = NewDomainError(ErrorTypeExternal, "relevance filter unavailable", nil)
	ErrMalformedFilterResponse = NewDomainError(ErrorTypeExternal, "relevance filter returned malformed decisions", nil)
	ErrClassificationFailed    = NewDomainError(ErrorTypeExternal, "question classification failed", nil)
	ErrSkillExpansionFailed    = NewDomainError(ErrorTypeExternal, "skill expansion failed", nil)
	ErrAnswerSynthesisFailed   = NewDomainError(ErrorTypeExternal, "answer synthesis failed", nil)

	// Cancellation: cooperative cancellation observed at a stage boundary.
	ErrCancelled = NewDomainError(ErrorTypeCancelled, "pipeline run cancelled", nil)
)

// Error type checking helper functions

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeExternal
	}
	return false
}

// IsCancelledError checks if an error is a cancellation error
func IsCancelledError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeCancelled
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
