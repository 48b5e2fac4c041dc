package recognize

import (
	"context"
	"errors"
	"fmt"
)

// Common recognition service errors
var (
	// ErrImageTooLarge is returned when the image exceeds the maximum request
	// size accepted by the recognition services (20MB).
	ErrImageTooLarge = errors.New("image size exceeds the maximum limit (20MB)")

	// ErrInvalidImage is returned when the provided data is not a decodable image.
	ErrInvalidImage = errors.New("invalid or unsupported image data")

	// ErrRecognitionFailed is returned when the recognition service fails to
	// process the image for a reason we cannot classify further.
	ErrRecognitionFailed = errors.New("recognition request failed")

	// ErrMissingCredentials is returned when neither GOOGLE_APPLICATION_CREDENTIALS
	// nor GOOGLE_CREDENTIALS environment variables are configured.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

	// ErrQuotaExceeded is returned when the service reports an exhausted quota.
	ErrQuotaExceeded = errors.New("recognition service quota exceeded")

	// ErrServiceUnavailable is returned when the service is temporarily unreachable.
	ErrServiceUnavailable = errors.New("recognition service unavailable")

	// ErrPermissionDenied is returned when the configured credentials lack
	// access to the recognition service.
	ErrPermissionDenied = errors.New("permission denied by recognition service")

	// ErrProcessorNotFound is returned when the configured Document AI
	// processor does not exist in the project/location.
	ErrProcessorNotFound = errors.New("Document AI processor not found")

	// ErrInvalidConfiguration is returned when required service settings are missing.
	ErrInvalidConfiguration = errors.New("invalid recognition service configuration")

	// ErrContextCanceled is returned when the context is canceled during recognition.
	ErrContextCanceled = errors.New("recognition was canceled")
)

// RecognitionError wraps errors with additional context about the failed request.
type RecognitionError struct {
	// Op is the operation that failed (e.g., "AnnotateText", "NewGoogleVision").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *RecognitionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("recognize: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("recognize: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *RecognitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRecognitionError creates a new RecognitionError with the specified
// operation and underlying error.
func NewRecognitionError(op string, err error, details string) *RecognitionError {
	return &RecognitionError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapRecognitionError wraps an error as a RecognitionError if it isn't already one.
func WrapRecognitionError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var recErr *RecognitionError
	if errors.As(err, &recErr) {
		return err // Already wrapped
	}

	return NewRecognitionError(op, err, details)
}

// Transient reports whether the error is worth retrying: quota exhaustion,
// temporary unavailability, and deadline overruns clear up on their own,
// while bad input, bad credentials and bad configuration do not.
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
