// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrTaskNotFound     = errors.New("tracking task not found")
	ErrTaskClosed       = errors.New("tracking task already closed")
	ErrAuditNotFound    = errors.New("audit result not found")
	ErrAuditMalformed   = errors.New("audit result malformed")
	ErrNoSnapshot       = errors.New("no weight snapshot")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidRegime    = errors.New("invalid market regime")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrLockHeld         = errors.New("lock held by another invocation")
	ErrUnknownJob       = errors.New("unknown job")
)

// PriceError represents a failed price lookup for a ticker.
type PriceError struct {
	Ticker  string
	Source  string
	Message string
	Err     error
}

func (e *PriceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("price error [%s] %s: %s: %v", e.Source, e.Ticker, e.Message, e.Err)
	}
	return fmt.Sprintf("price error [%s] %s: %s", e.Source, e.Ticker, e.Message)
}

func (e *PriceError) Unwrap() error {
	return e.Err
}

// NewPriceError creates a new PriceError.
func NewPriceError(source, ticker, message string, err error) *PriceError {
	return &PriceError{
		Ticker:  ticker,
		Source:  source,
		Message: message,
		Err:     err,
	}
}

// StoreError represents a persistence failure.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store error [%s] %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store error [%s]: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{
		Op:  op,
		Key: key,
		Err: err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets validation failures match ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
