package place

import (
	"errors"
	"fmt"
)

// CapacityExceededError is returned when a place at capacity rejects an
// arrival. The rejection is synchronous, marking is unchanged, and no
// instrumentation side effect occurs. Queueing, if any, is the caller's
// policy.
type CapacityExceededError struct {
	PlaceID  string
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("place %s at capacity (%d)", e.PlaceID, e.Capacity)
}

// IsCapacityExceeded reports whether err is a capacity rejection.
// Uses errors.As to handle wrapped errors.
func IsCapacityExceeded(err error) bool {
	var ce *CapacityExceededError
	return errors.As(err, &ce)
}

// ValidationError is returned when an admitted token fails structural or
// deadline validation. The marking has already been rolled back.
type ValidationError struct {
	PlaceID string
	TokenID int64
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("place %s rejected token %d: %s", e.PlaceID, e.TokenID, e.Reason)
}

// IsValidationFailure reports whether err is a token validation failure.
func IsValidationFailure(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
