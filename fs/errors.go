package fs

import "errors"

// Sentinel errors returned by backends. Anything that does not match
// one of these is a general failure and surfaces as a 500 at the
// WebDAV layer. Compare with errors.Is; backends wrap transport errors
// with %w so the sentinel survives annotation.
var (
	// ErrorNotFound - the target does not exist
	ErrorNotFound = errors.New("not found")

	// ErrorExists - precondition violation, the target already exists
	ErrorExists = errors.New("already exists")

	// ErrorForbidden - semantic conflict, e.g. opening a collection
	// as a file or creating a child under a resource
	ErrorForbidden = errors.New("forbidden")

	// ErrorNotImplemented - the operation is not offered by this
	// handle or backend variant
	ErrorNotImplemented = errors.New("not implemented")
)
