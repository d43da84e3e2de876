package storage

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicatePayment means an appointment already exists for the checkout session.
	ErrDuplicatePayment = errors.New("appointment already exists for payment")
	// ErrConflict means the row changed between read and write.
	ErrConflict = errors.New("concurrent update")
)

type rowScanner interface {
	Scan(dest ...any) error
}
