// Package apperr holds the error kinds shared by the ledger, the payment
// reconciler and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Every error produced by the core matches exactly one of these with
// errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrGateway      = errors.New("payment gateway error")
	ErrPersistence  = errors.New("persistence error")
)

// Named errors.
var (
	ErrInvalidLotteryNumber  = New(ErrInvalidInput, "invalid lottery number")
	ErrNumberOutOfRange      = New(ErrInvalidInput, "number out of range")
	ErrNumberTaken           = New(ErrConflict, "number already taken")
	ErrAlreadyPaid           = New(ErrConflict, "number already paid")
	ErrPaymentExists         = New(ErrConflict, "participant already has a payment")
	ErrReservationExpired    = New(ErrConflict, "reservation expired")
	ErrRefundRequired        = New(ErrConflict, "payment arrived after the reservation expired and the number was taken, refund required")
	ErrTotalBelowTaken       = New(ErrInvalidInput, "total_numbers is below a number already taken")
	ErrRaffleClosed          = New(ErrConflict, "raffle is not active")
	ErrRaffleHasParticipants = New(ErrConflict, "raffle has participants")
	ErrRaffleNotFound        = New(ErrNotFound, "raffle not found")
	ErrParticipantNotFound   = New(ErrNotFound, "participant not found")
	ErrPaymentNotFound       = New(ErrNotFound, "payment not found")
)

// Error carries a kind, a human readable message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// InvalidInput builds a validation error with a formatted message.
func InvalidInput(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure. Errors that already carry a kind are
// returned untouched so a NotFound or Conflict raised by the store survives.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &Error{Kind: ErrPersistence, Msg: op, Err: err}
}

// Gateway wraps a payment provider failure.
func Gateway(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGateway) {
		return err
	}
	return &Error{Kind: ErrGateway, Msg: op, Err: err}
}

// KindOf returns the kind sentinel of err, or nil when err carries none.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidInput, ErrConflict, ErrNotFound, ErrGateway, ErrPersistence} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
