package transfer

import (
	"errors"
	"fmt"
)

// NetworkError represents transport failures and non-success HTTP statuses
// returned by the publisher.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}
	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// InvalidContentError is a soft failure: the publisher answered with a success
// status but the body is an error or "no data yet" page.
type InvalidContentError struct {
	Filename string // Name of the file that failed validation
	Index    int    // Session index the file was requested for
	Reason   string // Human-readable explanation of why the content is invalid
	Err      error  // Underlying error, if any
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid content for %s in session %d: %s", e.Filename, e.Index, e.Reason)
}

func (e *InvalidContentError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure to check or persist an artifact. It is
// never retried: losing an artifact write would break idempotent re-runs.
type StorageError struct {
	Key    string // Artifact key that caused the error
	Reason string // Human-readable explanation of the storage error
	Err    error  // Underlying error, if any
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error for '%s': %s", e.Key, e.Reason)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidationError represents invalid user input or configuration, detected
// before any network activity.
type ValidationError struct {
	Field  string // Flag or setting that failed validation
	Value  string // Offending value
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsRetryable reports whether err is a transfer failure the retry policy
// should handle, as opposed to a fatal one.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var contentErr *InvalidContentError

	return errors.As(err, &netErr) || errors.As(err, &contentErr)
}

// Outcome classifies an attempt error for metrics and the attempt ledger.
func Outcome(err error) string {
	var netErr *NetworkError
	var contentErr *InvalidContentError
	var storageErr *StorageError

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &netErr) && netErr.StatusCode > 0:
		return "http_status"
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &contentErr):
		return "soft_failure"
	case errors.As(err, &storageErr):
		return "storage_error"
	default:
		return "error"
	}
}
