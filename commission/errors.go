/*
errors.go - Centralized error types for the commission core

ERROR CATEGORIES:
  1. Lookup errors - Unknown rule IDs
  2. Validation errors - Malformed rule definitions, rejected at write time
  3. Request errors - Malformed calculation input
  4. Stats errors - Missing history ledger, unknown periods

NOT AN ERROR:
  No matching rule is a normal outcome: the calculation is zero-valued.

USAGE:
  if errors.Is(err, commission.ErrRuleNotFound) {
      // 404
  }
  var verr *commission.ValidationError
  if errors.As(err, &verr) {
      // verr.Field, verr.Reason
  }
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrValidation is returned when a rule definition is malformed.
	// The rule table is never modified when this is returned.
	ErrValidation = errors.New("invalid rule")

	// ErrInvalidRequest is returned when calculation input is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrHistoryUnavailable is returned by stats queries when no calculation
	// ledger is configured.
	ErrHistoryUnavailable = errors.New("calculation history unavailable")

	// ErrInvalidPeriod is returned for an unknown stats period.
	ErrInvalidPeriod = errors.New("invalid stats period")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field of a rule definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RequestError names the offending field of a calculation request.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *RequestError) Unwrap() error {
	return ErrInvalidRequest
}

// NotFoundError carries the id that was looked up.
type NotFoundError struct {
	ID RuleID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule not found: %s", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrRuleNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing rule.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}
