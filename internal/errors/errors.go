// Package errors defines the sentinel errors shared by the storage, service and
// transport layers.
package errors

import "errors"

var (
	// Not found
	ErrUserNotFound        = errors.New("user not found")
	ErrObservationNotFound = errors.New("body metric record not found")
	ErrNoCurrentUser       = errors.New("no current user selected")

	// Conflicts
	ErrConflict       = errors.New("body metric record already exists")
	ErrDuplicateEmail = errors.New("email already in use")

	// Validation errors
	ErrUnknownMetric    = errors.New("unknown metric index")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidInput     = errors.New("invalid input")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrObservationNotFound) ||
		errors.Is(err, ErrNoCurrentUser)
}

// IsConflict reports whether err was caused by a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicateEmail)
}

// IsValidation reports whether err was caused by malformed client input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownMetric) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidInput)
}
