package models

import (
	"errors"
	"fmt"
)

// NetworkFailure is a failed fetch attempt. Retryable covers timeouts,
// throttling and 5xx; permanent covers 404 and other client errors.
type NetworkFailure struct {
	URL       string
	Status    int
	Retryable bool
	Err       error
}

func (e *NetworkFailure) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err != nil {
		return fmt.Sprintf("network failure (%s) for %s: status %d: %v", kind, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("network failure (%s) for %s: status %d", kind, e.URL, e.Status)
}

func (e *NetworkFailure) Unwrap() error { return e.Err }

func (e *NetworkFailure) IsRetryable() bool { return e.Retryable }

// ChallengePage means the site served an anti-bot interstitial instead of
// the listing. Always retryable with backoff.
type ChallengePage struct {
	URL    string
	Marker string
}

func (e *ChallengePage) Error() string {
	return fmt.Sprintf("challenge page for %s (marker %q)", e.URL, e.Marker)
}

func (e *ChallengePage) IsRetryable() bool { return true }

// InvalidTarget is a target that can never be fetched as given.
type InvalidTarget struct {
	Key    TargetKey
	Reason string
}

func (e *InvalidTarget) Error() string {
	return fmt.Sprintf("invalid target %s: %s", e.Key, e.Reason)
}

func (e *InvalidTarget) IsRetryable() bool { return false }

// MalformedMarkup means a capture could not be parsed at all. The whole
// item is skipped.
type MalformedMarkup struct {
	Key    TargetKey
	Reason string
}

func (e *MalformedMarkup) Error() string {
	return fmt.Sprintf("malformed markup for %s: %s", e.Key, e.Reason)
}

// FieldValidation is a candidate value rejected during extraction. The
// field ends up null unless a later rule succeeds.
type FieldValidation struct {
	Field  string
	Rule   string
	Raw    string
	Reason string
}

func (e *FieldValidation) Error() string {
	return fmt.Sprintf("field %s (rule %s): %q: %s", e.Field, e.Rule, e.Raw, e.Reason)
}

// SchemaViolation excludes a record from the canonical output.
type SchemaViolation struct {
	RecordID string
	Reason   string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("schema violation in %s: %s", e.RecordID, e.Reason)
}

type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether any error in the chain asks to be retried.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
