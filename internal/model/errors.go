package model

import (
	"errors"
	"fmt"
)

// AuthError means the credentials for a source were rejected or cannot be
// refreshed. It is fatal for the run: recovering requires a human to
// re-authorize, so it is never retried automatically.
type AuthError struct {
	SourceID string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for source %q: %v", e.SourceID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SourceUnavailableError is a transient upstream failure (network, rate
// limit, 5xx). The orchestrator retries these with backoff.
type SourceUnavailableError struct {
	SourceID string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %q unavailable: %v", e.SourceID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// SchemaDriftError means an upstream payload is missing a field the
// connector requires. Fatal for that record only: the record is logged and
// skipped, the run continues.
type SchemaDriftError struct {
	SourceID string
	RecordID string
	Field    string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("source %q record %q: upstream payload missing %q", e.SourceID, e.RecordID, e.Field)
}

// ValidationError means a raw record failed transformation. Like schema
// drift it is skip-and-log, counted in the run summary.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q failed validation: %s", e.RecordID, e.Reason)
}

// LoadError is a warehouse write failure. Connectivity problems are
// retryable; schema incompatibility is not and requires a migration.
type LoadError struct {
	Retryable bool
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("warehouse load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error taxonomy allows another attempt.
func IsRetryable(err error) bool {
	var su *SourceUnavailableError
	if errors.As(err, &su) {
		return true
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsRecordSkippable reports whether the error affects a single record and
// the run should skip it rather than abort.
func IsRecordSkippable(err error) bool {
	var sd *SchemaDriftError
	if errors.As(err, &sd) {
		return true
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}
