package generation

import "errors"

// Errors returned by Describer implementations.
var (
	// ErrGenerationFailed is returned when a description could not be produced.
	ErrGenerationFailed = errors.New("failed to generate issue description")

	// ErrInvalidResponse is returned when the model response cannot be used.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the prompt or answer.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry.
	ErrTransientFailure = errors.New("transient error during description generation")

	// ErrInvalidConfig is returned when the describer configuration is invalid.
	ErrInvalidConfig = errors.New("invalid describer configuration")
)
