package generation

import (
	"context"
	"errors"
)

// Common errors returned by Generator and Embedder implementations.
var (
	// ErrGenerationFailed is returned when generation fails for any general reason.
	ErrGenerationFailed = errors.New("failed to generate content")

	// ErrInvalidResponse is returned when the model response cannot be parsed or is malformed.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors (network, timeout, 5xx,
	// rate limiting) that might resolve on retry.
	ErrTransientFailure = errors.New("transient error from external model service")

	// ErrInvalidConfig is returned when a generator or embedder configuration is invalid.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrDimensionMismatch is returned when an embedding does not have the configured length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// IsTransient reports whether err is worth retrying. Errors classified as
// permanent (invalid response, content blocked, invalid config, rejected
// request, caller cancellation) are not; anything else, including unclassified
// errors, is assumed transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidResponse),
		errors.Is(err, ErrContentBlocked),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrGenerationFailed),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
