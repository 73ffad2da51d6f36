package cases

import "errors"

var (
	ErrNotFound      = errors.New("case not found")
	ErrCaseTaken     = errors.New("case already taken")
	ErrNotAuthorized = errors.New("not authorized for this case")
	ErrInvalidDoctor = errors.New("doctor is not approved and available")
	ErrInvalidIntake = errors.New("invalid clinical intake")
	ErrInvalidState  = errors.New("case is not in a valid state for this operation")
	ErrCannotCancel  = errors.New("case can no longer be cancelled")

	// ErrStaleVersion is the repository-level conditional-write failure.
	// The engine maps it to the operation-specific error.
	ErrStaleVersion = errors.New("case version is stale")
)
