package filestore

import "errors"

// Errors for store operations.
var (
	// ErrNotFound reports a key with no committed value. Callers should
	// treat it as a normal result, not a failure.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidName reports a malformed project ID or path segment.
	// Rejected before any I/O is attempted.
	ErrInvalidName = errors.New("invalid name: must be alphanumeric with hyphens/underscores")

	// ErrPathTraversal reports a name that would escape the data root.
	ErrPathTraversal = errors.New("path traversal detected")
)
