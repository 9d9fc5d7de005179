package errors

import "errors"

// Sentinel errors for the error taxonomy shared across the pipeline.
var (
	// ErrRateLimited indicates the provider rejected a call with a rate limit;
	// the gateway retries these with exponential backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProvider indicates a non-retryable provider failure.
	ErrProvider = errors.New("provider error")

	// ErrIntegrity indicates a document failed the integrity safety belt and
	// must never reach the index.
	ErrIntegrity = errors.New("integrity violation")

	// ErrParse indicates structured LLM output could not be decoded.
	ErrParse = errors.New("unparseable model output")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error.
	ErrInternal = errors.New("internal error")
)
