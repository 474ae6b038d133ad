package model

import "errors"

// Sentinel errors for business logic. Handlers map these onto HTTP status
// codes; tests use them to tell a state-guard rejection apart from an
// authorization rejection.
var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a lifecycle operation was attempted
	// from a status that does not allow it. The change request is left
	// untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPermissionDenied indicates the acting user lacks the capability or
	// project access required for the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation indicates a required field is missing or malformed
	// (e.g. rollback plan absent on a high-risk change request).
	ErrValidation = errors.New("validation failed")
)
