// Package fault defines the failure kinds shared by the recovery stores,
// the coordinator and the HTTP layer.
//
// Every synchronous abort wraps exactly one of the sentinel kinds below so
// callers classify with errors.Is and never by string matching.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: too few guardians, self as guardian,
	// empty credential or account.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown account or request.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks duplicate approvals, id collisions, re-execution while
	// executing and stale callbacks.
	ErrConflict = errors.New("conflict")
	// ErrPolicy marks a policy gate that is not yet satisfied: approvals below
	// threshold, time lock not elapsed, caller not a guardian.
	ErrPolicy = errors.New("policy violation")
	// ErrUnauthorized marks a callback from anything other than the system identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExternal marks a dispatch the external identity updater refused to accept.
	ErrExternal = errors.New("external update failed")
)

// Validation returns an ErrValidation with detail.
func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

// NotFound returns an ErrNotFound with detail.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// Conflict returns an ErrConflict with detail.
func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

// Policy returns an ErrPolicy with detail.
func Policy(format string, args ...any) error {
	return wrap(ErrPolicy, format, args...)
}

// Unauthorized returns an ErrUnauthorized with detail.
func Unauthorized(format string, args ...any) error {
	return wrap(ErrUnauthorized, format, args...)
}

// External wraps cause as an ErrExternal.
func External(cause error) error {
	return fmt.Errorf("%w: %w", ErrExternal, cause)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind reports which sentinel err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrPolicy, ErrUnauthorized, ErrExternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
