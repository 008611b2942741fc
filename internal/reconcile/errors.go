package reconcile

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// ReconciliationFailedError means a status change and its stock consequence could not be
// applied together. Nothing of the unit was committed.
type ReconciliationFailedError struct {
	Ref orders.Ref
	Err error
}

func (e *ReconciliationFailedError) Error() string {
	return fmt.Sprintf("reconciliation failed for order %s: %v", e.Ref.OrderID, e.Err)
}

func (e *ReconciliationFailedError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a stale previous-status or version conflict.
func IsConflict(err error) bool { return errors.Is(err, orders.ErrConcurrentModification) }

func wrapFailure(ref orders.Ref, err error) error {
	// conflict dan not-found diteruskan apa adanya supaya caller bisa retry / tampilkan 404
	if IsConflict(err) || errors.Is(err, orders.ErrOrderNotFound) {
		return err
	}
	return &ReconciliationFailedError{Ref: ref, Err: err}
}
