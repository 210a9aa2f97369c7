package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldhouse/reserve/internal/keylock"
)

const defaultLockWait = 2 * time.Second

// Ledger is the durable record of bookings. Writes happen inside the same
// exclusive section as the calendar mutation so the two stay consistent.
type Ledger interface {
	Append(ctx context.Context, b Booking) error
	Get(ctx context.Context, id string) (Booking, error)
	SetCancelled(ctx context.Context, id string, at time.Time, penaltyApplied bool, penaltyCents int64) error
	SetCompleted(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context) ([]Booking, error)
	ListActiveStartedBefore(ctx context.Context, t time.Time) ([]Booking, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Booking, error)
}

// Manager is the only entry point for creating and cancelling bookings. It
// serializes the check-then-act sequence per (venue, date, start) key, so at
// most one live booking ever holds a given slot.
type Manager struct {
	calendar *Calendar
	ledger   Ledger
	locks    *keylock.Map
	lockWait time.Duration
	logger   zerolog.Logger
}

// NewManager wires the calendar and ledger together. lockWait bounds lock
// acquisition; zero or negative selects the default.
func NewManager(calendar *Calendar, ledger Ledger, lockWait time.Duration) *Manager {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Manager{
		calendar: calendar,
		ledger:   ledger,
		locks:    keylock.NewMap(),
		lockWait: lockWait,
		logger:   log.With().Str("component", "booking_manager").Logger(),
	}
}

func slotKey(venueID, date, start string) string {
	return venueID + "|" + date + "|" + start
}

// Create books the slot for the owner. It fails with ErrPastDate,
// ErrInvalidSlot, ErrSlotConflict, or keylock.ErrBusy; on any failure no
// state changes.
func (m *Manager) Create(ctx context.Context, req CreateRequest, now time.Time) (Booking, error) {
	if err := req.Validate(); err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}

	venue, err := m.calendar.Venue(req.VenueID)
	if err != nil {
		return Booking{}, err
	}
	if req.Date < now.In(venue.location()).Format(DateLayout) {
		return Booking{}, fmt.Errorf("%w: %s", ErrPastDate, req.Date)
	}
	startsAt, err := venue.MatchTime(req.Date, req.Start)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()
	release, err := m.locks.Acquire(lockCtx, slotKey(req.VenueID, req.Date, req.Start))
	if err != nil {
		return Booking{}, err
	}
	defer release()

	free, err := m.calendar.IsFree(req.VenueID, req.Date, req.Start)
	if err != nil {
		return Booking{}, err
	}
	if !free {
		return Booking{}, fmt.Errorf("%w: %s %s %s", ErrSlotConflict, req.VenueID, req.Date, req.Start)
	}

	b := Booking{
		ID:         uuid.New().String(),
		VenueID:    req.VenueID,
		Date:       req.Date,
		Start:      req.Start,
		StartsAt:   startsAt,
		OwnerID:    req.OwnerID,
		Status:     StatusActive,
		PriceCents: venue.PriceCents,
		CreatedAt:  now,
	}
	// Ledger first: if the append fails the slot stays free and no partial
	// state is visible.
	if err := m.ledger.Append(ctx, b); err != nil {
		return Booking{}, fmt.Errorf("append booking: %w", err)
	}
	if err := m.calendar.MarkHeld(req.VenueID, req.Date, req.Start, b.ID); err != nil {
		return Booking{}, err
	}

	m.logger.Info().
		Str("booking_id", b.ID).
		Str("venue_id", b.VenueID).
		Str("date", b.Date).
		Str("start", b.Start).
		Str("owner_id", b.OwnerID).
		Msg("Booking created")
	return b, nil
}

// Cancel transitions the booking to Cancelled, frees its slot, and computes
// the penalty from time-to-match under the venue's policy. Cancelling a
// terminal booking fails with ErrAlreadyTerminal.
func (m *Manager) Cancel(ctx context.Context, bookingID string, now time.Time) (CancelResult, error) {
	b, err := m.ledger.Get(ctx, bookingID)
	if err != nil {
		return CancelResult{}, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()
	release, err := m.locks.Acquire(lockCtx, slotKey(b.VenueID, b.Date, b.Start))
	if err != nil {
		return CancelResult{}, err
	}
	defer release()

	// Re-read under the lock; a concurrent cancel may have won.
	b, err = m.ledger.Get(ctx, bookingID)
	if err != nil {
		return CancelResult{}, err
	}
	if b.Status.Terminal() {
		return CancelResult{}, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, b.ID, b.Status)
	}

	venue, err := m.calendar.Venue(b.VenueID)
	if err != nil {
		return CancelResult{}, err
	}
	holder, err := m.calendar.HeldBy(b.VenueID, b.Date, b.Start)
	if err != nil {
		return CancelResult{}, err
	}
	if holder != b.ID {
		m.logger.Error().
			Str("booking_id", b.ID).
			Str("slot_holder", holder).
			Str("venue_id", b.VenueID).
			Str("date", b.Date).
			Str("start", b.Start).
			Msg("Active booking does not hold its slot")
		return CancelResult{}, fmt.Errorf("%w: booking %s, slot held by %q", ErrInternalInconsistency, b.ID, holder)
	}

	matchTime, err := venue.MatchTime(b.Date, b.Start)
	if err != nil {
		return CancelResult{}, fmt.Errorf("%w: %v", ErrInternalInconsistency, err)
	}
	penalty := PenaltyResult{}
	if venue.Penalty != nil {
		penalty = venue.Penalty.Compute(now, matchTime, b.PriceCents)
	}

	if err := m.ledger.SetCancelled(ctx, b.ID, now, penalty.Applied, penalty.AmountCents); err != nil {
		return CancelResult{}, fmt.Errorf("cancel booking: %w", err)
	}
	if err := m.calendar.MarkFree(b.VenueID, b.Date, b.Start); err != nil {
		return CancelResult{}, err
	}

	m.logger.Info().
		Str("booking_id", b.ID).
		Bool("penalty_applied", penalty.Applied).
		Int64("penalty_cents", penalty.AmountCents).
		Msg("Booking cancelled")
	return CancelResult{PenaltyApplied: penalty.Applied, PenaltyCents: penalty.AmountCents}, nil
}

// Get returns a booking by id.
func (m *Manager) Get(ctx context.Context, bookingID string) (Booking, error) {
	return m.ledger.Get(ctx, bookingID)
}

// ListByOwner returns the owner's bookings, newest first.
func (m *Manager) ListByOwner(ctx context.Context, ownerID string) ([]Booking, error) {
	return m.ledger.ListByOwner(ctx, ownerID)
}

// Availability returns the day's slots, materializing the day if needed.
func (m *Manager) Availability(venueID, date string) ([]Slot, error) {
	return m.calendar.DaySlots(venueID, date)
}

// CompleteDue transitions Active bookings whose slot has fully elapsed to
// Completed and frees their slots. It is invoked by the scheduler sweep and
// returns how many bookings were completed.
func (m *Manager) CompleteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := m.ledger.ListActiveStartedBefore(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due bookings: %w", err)
	}

	completed := 0
	for _, b := range due {
		venue, err := m.calendar.Venue(b.VenueID)
		if err != nil {
			m.logger.Error().Err(err).Str("booking_id", b.ID).Msg("Due booking references unknown venue")
			continue
		}
		if b.StartsAt.Add(time.Duration(venue.SlotMinutes) * time.Minute).After(now) {
			continue
		}
		if err := m.completeOne(ctx, b, now); err != nil {
			if errors.Is(err, keylock.ErrBusy) {
				// Slot contended right now; the next sweep picks it up.
				continue
			}
			return completed, err
		}
		completed++
	}
	return completed, nil
}

func (m *Manager) completeOne(ctx context.Context, b Booking, now time.Time) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()
	release, err := m.locks.Acquire(lockCtx, slotKey(b.VenueID, b.Date, b.Start))
	if err != nil {
		return err
	}
	defer release()

	b, err = m.ledger.Get(ctx, b.ID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return nil
	}
	if err := m.ledger.SetCompleted(ctx, b.ID, now); err != nil {
		return fmt.Errorf("complete booking %s: %w", b.ID, err)
	}
	if err := m.calendar.MarkFree(b.VenueID, b.Date, b.Start); err != nil {
		return err
	}
	m.logger.Info().Str("booking_id", b.ID).Msg("Booking completed")
	return nil
}

// Rehydrate rebuilds slot state from the ledger's Active bookings. Call at
// startup before serving requests. Two Active rows referencing the same
// slot violate the at-most-one invariant and fail with
// ErrInternalInconsistency.
func (m *Manager) Rehydrate(ctx context.Context) error {
	active, err := m.ledger.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active bookings: %w", err)
	}
	for _, b := range active {
		holder, err := m.calendar.HeldBy(b.VenueID, b.Date, b.Start)
		if err != nil {
			return fmt.Errorf("rehydrate booking %s: %w", b.ID, err)
		}
		if holder != "" && holder != b.ID {
			m.logger.Error().
				Str("booking_id", b.ID).
				Str("slot_holder", holder).
				Msg("Two active bookings reference one slot")
			return fmt.Errorf("%w: bookings %s and %s share slot %s", ErrInternalInconsistency,
				holder, b.ID, slotKey(b.VenueID, b.Date, b.Start))
		}
		if err := m.calendar.MarkHeld(b.VenueID, b.Date, b.Start, b.ID); err != nil {
			return fmt.Errorf("rehydrate booking %s: %w", b.ID, err)
		}
	}
	m.logger.Info().Int("active_bookings", len(active)).Msg("Slot state rehydrated from ledger")
	return nil
}
