package domain

import "errors"

// Sentinel errors shared by the store, services and HTTP layer.
// Callers compare with errors.Is and map them to transport-level codes.
var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when a (promotion, country, version)
	// triple already exists.
	ErrVersionConflict = errors.New("promotion version conflict")

	// ErrDuplicateTier is returned when a tier level is already taken
	// within a promotion version.
	ErrDuplicateTier = errors.New("duplicate tier level")

	// ErrDuplicateGroup is returned when a group order is already taken
	// within a tier.
	ErrDuplicateGroup = errors.New("duplicate group order")

	// ErrDuplicateGrant is returned when a granted reward already exists
	// for the same (contact, promotion, source event).
	ErrDuplicateGrant = errors.New("duplicate grant for source event")

	// ErrVersionImmutable is returned when mutating a published version.
	ErrVersionImmutable = errors.New("published version is immutable")

	// ErrIllegalTransition is returned on a disallowed grant status change.
	ErrIllegalTransition = errors.New("illegal grant status transition")
)

// ValidationError reports a field that failed domain validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
