package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrAddressRequired is returned when a shipping address or its city is
	// missing.
	ErrAddressRequired = errors.New("address is required")
	// ErrMissingPaymentFields is returned when a confirmation lacks the
	// gateway order id, payment id or signature.
	ErrMissingPaymentFields = errors.New("missing payment verification fields")
	// ErrConfirmationInProgress is returned when another confirmation for
	// the same gateway order holds the lock.
	ErrConfirmationInProgress = errors.New("payment confirmation already in progress")
	// ErrOrderIDMismatch is returned when the fetched payment belongs to a
	// different gateway order.
	ErrOrderIDMismatch = errors.New("order ID mismatch")
	// ErrLockHeld is returned by a Locker when the key is already locked.
	ErrLockHeld = errors.New("lock held")
)

// GatewayError indicates the payment gateway could not be reached or
// rejected a call outright.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// PaymentNotSuccessfulError indicates the payment is neither captured nor
// authorized.
type PaymentNotSuccessfulError struct {
	Status string
}

func (e *PaymentNotSuccessfulError) Error() string {
	return fmt.Sprintf("payment not successful: %s", e.Status)
}

// OrderValidationFailedError indicates the cart no longer validates after the
// payment was taken. A refund has been attempted.
type OrderValidationFailedError struct {
	Err error
}

func (e *OrderValidationFailedError) Error() string {
	return fmt.Sprintf("order validation failed: %v", e.Err)
}

func (e *OrderValidationFailedError) Unwrap() error { return e.Err }

// AmountMismatchError indicates the paid amount differs from the re-derived
// total. Amounts are in minor units.
type AmountMismatchError struct {
	Expected int64
	Paid     int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: expected %d, paid %d", e.Expected, e.Paid)
}

// StockConflictError indicates stock ran out between validation and
// decrement. The order was cancelled and a refund attempted.
type StockConflictError struct {
	OrderID   string
	ProductID string
	Name      string
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict for %s while placing order %s", e.Name, e.OrderID)
}

func (e *StockConflictError) Unwrap() error { return errPaymentRejected }

// errPaymentRejected groups the failures surfaced as payment verification
// failures.
var errPaymentRejected = errors.New("payment verification failed")

// IsPaymentVerificationError reports whether err means the payment could not
// be turned into an order.
func IsPaymentVerificationError(err error) bool {
	if errors.Is(err, errPaymentRejected) {
		return true
	}
	var (
		notOK    *PaymentNotSuccessfulError
		invalid  *OrderValidationFailedError
		mismatch *AmountMismatchError
	)
	return errors.Is(err, ErrOrderIDMismatch) ||
		errors.As(err, &notOK) ||
		errors.As(err, &invalid) ||
		errors.As(err, &mismatch)
}
