// Package errors provides error handling for roster.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured details for operator-facing messages
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
	Join           = crdb.Join
)

// Sentinel errors covering roster's failure taxonomy.
// Use these with errors.Is() for type-safe checks and wrap them with
// errors.Wrap() to add context while preserving classification.
var (
	// ErrValidation indicates bad input, rejected before any work is queued.
	// Never retried.
	ErrValidation = New("validation error")

	// ErrTransient indicates a recoverable failure on an external call
	// (network, timeout). Eligible for retry with backoff.
	ErrTransient = New("transient error")

	// ErrPermanent indicates an unrecoverable failure (invalid identifier,
	// rejected batch). Not retried; contributes to failed-batch counts.
	ErrPermanent = New("permanent error")

	// ErrConsistency indicates an invariant violation detected before a run
	// starts (e.g. distribution count mismatch). The run refuses to start.
	ErrConsistency = New("consistency error")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrNotReady indicates the resource exists but is not in a state where
	// the request can be served (e.g. results of an incomplete job).
	ErrNotReady = New("not ready")
)

// IsValidation checks if an error is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsTransient checks if an error is or wraps ErrTransient.
func IsTransient(err error) bool {
	return err != nil && Is(err, ErrTransient)
}

// IsPermanent checks if an error is or wraps ErrPermanent.
func IsPermanent(err error) bool {
	return err != nil && Is(err, ErrPermanent)
}

// IsConsistency checks if an error is or wraps ErrConsistency.
func IsConsistency(err error) bool {
	return err != nil && Is(err, ErrConsistency)
}

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsNotReady checks if an error is or wraps ErrNotReady.
func IsNotReady(err error) bool {
	return err != nil && Is(err, ErrNotReady)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewConsistencyError creates a consistency error with a formatted message.
func NewConsistencyError(format string, args ...interface{}) error {
	return Wrap(ErrConsistency, Newf(format, args...).Error())
}
