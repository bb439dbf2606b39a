package engine

import "errors"

var (
	// ErrValidation indicates a malformed request rejected at the boundary
	// before any write.
	ErrValidation = errors.New("validation failed")

	// ErrDependencyUnavailable indicates an external collaborator (vector
	// index, judge, rewriter) is unreachable. Retrieval degrades a tier
	// rather than surfacing this to callers.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
