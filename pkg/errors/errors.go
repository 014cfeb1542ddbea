// Package errors provides the structured error system for wavecache with
// error codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of cache engine failure.
type ErrorCode string

const (
	// Resource errors
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	// Storage errors
	ErrCodeObjectNotFound  ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeTierUnavailable ErrorCode = "TIER_UNAVAILABLE"
	ErrCodeStorageRead     ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite    ErrorCode = "STORAGE_WRITE"

	// Operation errors
	ErrCodeInvalidEntry     ErrorCode = "INVALID_ENTRY"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// State errors
	ErrCodeOptimizationInProgress ErrorCode = "OPTIMIZATION_IN_PROGRESS"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// ErrorCategory is the general category of an error.
type ErrorCategory string

const (
	CategoryResource      ErrorCategory = "resource"
	CategoryStorage       ErrorCategory = "storage"
	CategoryOperation     ErrorCategory = "operation"
	CategoryState         ErrorCategory = "state"
	CategoryConfiguration ErrorCategory = "configuration"
)

// CacheError is a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Details   map[string]string `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so callers can compare against sentinel
// *CacheError values with errors.Is.
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// New creates a structured error with category and retryability derived
// from the code.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

func categoryOf(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeCapacityExceeded:
		return CategoryResource
	case ErrCodeObjectNotFound, ErrCodeTierUnavailable, ErrCodeStorageRead, ErrCodeStorageWrite:
		return CategoryStorage
	case ErrCodeOptimizationInProgress:
		return CategoryState
	case ErrCodeInvalidConfig:
		return CategoryConfiguration
	default:
		return CategoryOperation
	}
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeTierUnavailable, ErrCodeOperationTimeout, ErrCodeOptimizationInProgress:
		return true
	default:
		return false
	}
}

// WithComponent sets the component for an error.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information to an error.
func (e *CacheError) WithDetail(key, value string) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Sentinel values for errors.Is comparisons.
var (
	ErrNotFound               = New(ErrCodeObjectNotFound, "object not found")
	ErrCapacityExceeded       = New(ErrCodeCapacityExceeded, "cache capacity exceeded")
	ErrTierUnavailable        = New(ErrCodeTierUnavailable, "tier unavailable")
	ErrInvalidEntry           = New(ErrCodeInvalidEntry, "invalid cache entry")
	ErrOptimizationInProgress = New(ErrCodeOptimizationInProgress, "optimization already running")
)
