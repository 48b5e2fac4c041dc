package pipeline

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid stage configuration: duplicate tags,
// prerequisites on stages that are not part of the run, or dependency
// cycles. It is returned before any document is processed.
type ConfigurationError struct {
	// Reason describes what is wrong with the configuration.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pipeline configuration: %s", e.Reason)
}

// TransientError marks a stage failure as retryable: the same call may
// succeed on a later attempt (quota exhaustion, temporary unavailability,
// timeouts).
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a stage failure as not worth retrying: repeating the
// call would fail the same way (bad input, bad credentials, unsupported
// content).
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error { return e.Err }

// MarkTransient wraps err as retryable. Returns nil for nil and leaves
// already-classified errors unchanged.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	var t *TransientError
	var p *PermanentError
	if errors.As(err, &t) || errors.As(err, &p) {
		return err
	}
	return &TransientError{Err: err}
}

// MarkPermanent wraps err as not retryable. Returns nil for nil and leaves
// already-classified errors unchanged.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	var t *TransientError
	var p *PermanentError
	if errors.As(err, &t) || errors.As(err, &p) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether a stage error was classified as retryable.
// Unclassified errors are treated as permanent: for stages backed by paid
// services, retrying an unknown failure risks spending money on a call that
// cannot succeed.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
