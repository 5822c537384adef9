package services

import (
	"context"
	"errors"
	"fmt"
)

// Engine error taxonomy. Invariant violations and invalid input surface
// synchronously and are never retried; transient store errors carry the
// underlying cause; aggregate failures after a committed transaction are
// warnings only.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrLedgerMismatch         = errors.New("recipient does not belong to ledger")
	ErrPhoneAlreadyRegistered = errors.New("phone already registered")
	ErrStoreUnavailable       = errors.New("store unavailable")
	ErrTimeout                = errors.New("store timeout")
	ErrAggregateUpdateFailed  = errors.New("aggregate update failed")
)

// wrapStoreErr classifies a raw store error as Timeout or StoreUnavailable,
// keeping the cause in the message. Errors already in the taxonomy pass
// through untouched.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrLedgerMismatch),
		errors.Is(err, ErrPhoneAlreadyRegistered),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
