package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotConflict: the target (doctor, date, time) is already held by a
	// non-cancelled appointment at commit time. Expected and frequent; the
	// client refetches availability and retries.
	ErrSlotConflict = errors.New("slot already booked")

	ErrNotFound = errors.New("appointment not found")

	ErrForbidden = errors.New("caller not allowed")

	// ErrInvalidTransition: the requested status change is not legal from
	// the appointment's current state.
	ErrInvalidTransition = errors.New("illegal status transition")
)

// ValidationError covers malformed input: bad date/time, missing fields,
// past-dated booking attempts. No mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
