package scrape

import "errors"

// Sentinel errors surfaced across the registry, queue, and API boundaries.
// Callers classify with errors.Is; the API maps them onto the structured
// {success:false, error} envelope.
var (
	// ErrNotFound signals an unknown project, worker, or queue.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition signals a state-machine guard violation. The
	// project is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict signals a lost race against a concurrent writer; the
	// caller may re-read and retry.
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrExhausted signals the retry budget is used up; the project moves
	// to error status and is not retried further.
	ErrExhausted = errors.New("retry budget exhausted")
)
