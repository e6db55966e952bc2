// Package errors provides the structured error type shared by gominer packages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType classifies a failure.
type ErrorType string

const (
	// ErrorTypeConfig is an invalid or missing configuration value.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection is a failure to resolve or reach the pool.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeProtocol is a malformed or unexpected stratum message.
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeIO is a read or write failure on an established connection.
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeValidation is a share that fails local verification.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDatabase is a storage sink failure.
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeKafka is a messaging sink failure.
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeTimeout is a deadline expiry.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal is anything else.
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError carries a failure together with where and why it happened.
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the operation may succeed if attempted again.
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext attaches a key/value pair and returns the same error.
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a ServiceError without a cause.
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableType(errorType),
	}
}

// Wrap creates a ServiceError around err. A nil err yields nil.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := retryableCause(err)
	var se *ServiceError
	if errors.As(err, &se) {
		retryable = se.Retryable
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

func retryableType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeKafka, ErrorTypeDatabase:
		return true
	default:
		return false
	}
}

func retryableCause(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"i/o timeout",
		"temporary failure",
		"too many connections",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsType reports whether any ServiceError in err's chain has the given type.
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return retryableCause(err)
}

// GetContext returns the context map of the outermost ServiceError in err.
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
