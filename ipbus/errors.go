package ipbus

import (
	"errors"
	"fmt"
)

// ErrNotYetValid is returned by a deferred value's accessor when read before
// the batch it belongs to has been dispatched and validated.
var ErrNotYetValid = errors.New("ipbus: deferred value accessed before dispatch completed")

// ErrTransportTimeout is returned by Dispatch when the underlying transport
// times out waiting for a reply.
var ErrTransportTimeout = errors.New("ipbus: transport timed out waiting for reply")

// ValidationError wraps a reply-side mismatch against the pending
// transaction it was checked against.
type ValidationError struct {
	TransactionID uint16
	Want          OpType
	Got           header
	Reason        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ipbus: validation failed for transaction %d (want %s): %s", e.TransactionID, e.Want, e.Reason)
}

// BulkTransferRequestedTooLarge is returned when a block operation asks for
// zero (or a negative number of) words. Blocks longer than
// MaxWordsPerTransaction are not rejected: they are split into several
// transactions.
type BulkTransferRequestedTooLarge struct {
	Requested int
}

func (e *BulkTransferRequestedTooLarge) Error() string {
	return fmt.Sprintf("ipbus: bulk transfer of %d words requested", e.Requested)
}
