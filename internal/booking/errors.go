package booking

import "errors"

// Expected, recoverable outcomes. The request layer maps each to a status;
// the core returns them as plain values, never panics.
var (
	ErrUnknownVenue    = errors.New("venue not found")
	ErrInvalidSlot     = errors.New("start time is not on the venue slot grid")
	ErrPastDate        = errors.New("booking date is in the past")
	ErrSlotConflict    = errors.New("slot is already booked")
	ErrBookingNotFound = errors.New("booking not found")
	ErrAlreadyTerminal = errors.New("booking is already cancelled or completed")
)

// ErrInternalInconsistency signals a broken invariant (e.g. a held slot with
// no live booking in the ledger). It indicates a bug, not a user error.
var ErrInternalInconsistency = errors.New("internal inconsistency between calendar and ledger")
