package booking

import (
	"fmt"
	"sync"
)

// Calendar materializes and queries slot availability per (venue, date).
// Days are generated lazily from the venue's working hours; generation is
// deterministic, so a day is built at most once and never duplicated.
//
// The internal mutex only guards the maps. The check-then-act sequence
// around MarkHeld/MarkFree is NOT atomic here; callers must hold the slot's
// key lock (see Manager).
type Calendar struct {
	mu     sync.RWMutex
	venues map[string]Venue
	days   map[string]*CalendarDay // keyed venueID|date
}

// NewCalendar builds a calendar over the given venue definitions.
func NewCalendar(venues []Venue) *Calendar {
	byID := make(map[string]Venue, len(venues))
	for _, v := range venues {
		byID[v.ID] = v
	}
	return &Calendar{
		venues: byID,
		days:   make(map[string]*CalendarDay),
	}
}

// Venue returns the venue definition, or ErrUnknownVenue.
func (c *Calendar) Venue(venueID string) (Venue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.venues[venueID]
	if !ok {
		return Venue{}, fmt.Errorf("%w: %s", ErrUnknownVenue, venueID)
	}
	return v, nil
}

// DaySlots returns a copy of the day's slots, materializing the day first
// if needed.
func (c *Calendar) DaySlots(venueID, date string) ([]Slot, error) {
	day, err := c.getOrCreateDay(venueID, date)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Slot, len(day.Slots))
	copy(out, day.Slots)
	return out, nil
}

// IsFree reports whether the slot is unheld. Fails with ErrInvalidSlot when
// the start time does not align with the venue's slot grid.
func (c *Calendar) IsFree(venueID, date, start string) (bool, error) {
	day, idx, err := c.locate(venueID, date, start)
	if err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !day.Slots[idx].Held, nil
}

// HeldBy returns the booking id holding the slot, or "" when the slot is
// free.
func (c *Calendar) HeldBy(venueID, date, start string) (string, error) {
	day, idx, err := c.locate(venueID, date, start)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return day.Slots[idx].BookingID, nil
}

// MarkHeld transitions the slot to held. Call only from inside the slot's
// exclusive section.
func (c *Calendar) MarkHeld(venueID, date, start, bookingID string) error {
	day, idx, err := c.locate(venueID, date, start)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	day.Slots[idx].Held = true
	day.Slots[idx].BookingID = bookingID
	return nil
}

// MarkFree transitions the slot back to free. Call only from inside the
// slot's exclusive section.
func (c *Calendar) MarkFree(venueID, date, start string) error {
	day, idx, err := c.locate(venueID, date, start)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	day.Slots[idx].Held = false
	day.Slots[idx].BookingID = ""
	return nil
}

// locate materializes the day if needed and resolves the slot index for the
// start time.
func (c *Calendar) locate(venueID, date, start string) (*CalendarDay, int, error) {
	venue, err := c.Venue(venueID)
	if err != nil {
		return nil, 0, err
	}
	minute, err := ParseMinute(start)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidSlot, start)
	}
	if !venue.OnGrid(minute) {
		return nil, 0, fmt.Errorf("%w: %s at %s", ErrInvalidSlot, venueID, start)
	}
	day, err := c.getOrCreateDay(venueID, date)
	if err != nil {
		return nil, 0, err
	}
	idx := (minute - venue.OpenMinute) / venue.SlotMinutes
	return day, idx, nil
}

func (c *Calendar) getOrCreateDay(venueID, date string) (*CalendarDay, error) {
	key := venueID + "|" + date

	c.mu.RLock()
	day := c.days[key]
	c.mu.RUnlock()
	if day != nil {
		return day, nil
	}

	venue, err := c.Venue(venueID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock; another request may have built the day.
	if day := c.days[key]; day != nil {
		return day, nil
	}
	day = &CalendarDay{
		VenueID: venueID,
		Date:    date,
		Slots:   buildSlots(venue),
	}
	c.days[key] = day
	return day, nil
}

// buildSlots walks [open, close) in fixed-duration steps.
func buildSlots(v Venue) []Slot {
	slots := make([]Slot, 0, v.SlotCount())
	for minute := v.OpenMinute; minute+v.SlotMinutes <= v.CloseMinute; minute += v.SlotMinutes {
		slots = append(slots, Slot{Start: FormatMinute(minute)})
	}
	return slots
}
