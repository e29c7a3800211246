package encprofile

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAlreadyExists      = errors.New("profile already exists")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrOutOfRange         = errors.New("value out of range")
	ErrNotAllowed         = errors.New("handle not allowed for principal")
	ErrUnknownHandle      = errors.New("unknown handle")
	ErrUnknownRequest     = errors.New("unknown decryption request")
	ErrInvalidAttestation = errors.New("invalid decryption attestation")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrNoOracle           = errors.New("no decryption oracle configured")
	ErrOracleStopped      = errors.New("decryption oracle stopped")
	ErrValueTooLarge      = errors.New("value exceeds store limit")
)

// RangeError reports the first field that failed validation.
type RangeError struct {
	Field string
	Value uint64
	Max   uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %d exceeds maximum %d", e.Field, e.Value, e.Max)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

type bound struct {
	field string
	value uint64
	max   uint64
}

// checkRanges returns a *RangeError for the first bound violated, in order.
func checkRanges(bounds ...bound) error {
	for _, b := range bounds {
		if b.value > b.max {
			return &RangeError{Field: b.field, Value: b.value, Max: b.max}
		}
	}
	return nil
}
