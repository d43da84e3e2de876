package booking

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest             = errors.New("invalid booking request")
	ErrSlotUnavailable            = errors.New("slot is not available")
	ErrDuplicateAppointment       = errors.New("appointment already booked for this slot")
	ErrSessionCreationFailed      = errors.New("checkout session creation failed")
	ErrPaymentVerificationTimeout = errors.New("payment verification timed out")
	ErrPaymentNotCompleted        = errors.New("payment not completed")
	ErrBookingDataMissing         = errors.New("booking details for paid session are missing")
	ErrAppointmentCreationFailed  = errors.New("appointment creation failed")
	ErrNotFound                   = errors.New("appointment not found")
)

// SupportError is returned once payment has been observed as paid but the booking
// could not be completed. SessionID is the reference the patient quotes to support.
type SupportError struct {
	SessionID string
	Err       error
}

func (e *SupportError) Error() string {
	return fmt.Sprintf("payment %s succeeded but booking needs follow-up: %v", e.SessionID, e.Err)
}

func (e *SupportError) Unwrap() error { return e.Err }

func supportError(sessionID string, kind, cause error) error {
	if cause == nil {
		return &SupportError{SessionID: sessionID, Err: kind}
	}
	return &SupportError{SessionID: sessionID, Err: fmt.Errorf("%w: %w", kind, cause)}
}
