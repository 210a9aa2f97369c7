// Package booking implements the reservation core: per-venue slot
// calendars, booking creation and cancellation, and penalty computation.
package booking

import (
	"fmt"
	"time"
)

// DateLayout is the canonical wire form of a calendar date.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical wire form of a slot start time.
const TimeLayout = "15:04"

// Venue is a bookable facility. Working hours and the penalty policy come
// from configuration; the core never mutates a venue.
type Venue struct {
	ID          string
	Name        string
	Location    *time.Location
	OpenMinute  int // minutes from midnight, inclusive
	CloseMinute int // minutes from midnight, exclusive
	SlotMinutes int
	PriceCents  int64
	Penalty     PenaltyPolicy
}

// SlotCount returns how many slots fit in the venue's working hours.
func (v Venue) SlotCount() int {
	if v.SlotMinutes <= 0 {
		return 0
	}
	return (v.CloseMinute - v.OpenMinute) / v.SlotMinutes
}

// OnGrid reports whether a start minute aligns with the venue's slot grid
// and fits entirely inside working hours.
func (v Venue) OnGrid(startMinute int) bool {
	if v.SlotMinutes <= 0 {
		return false
	}
	if startMinute < v.OpenMinute || startMinute+v.SlotMinutes > v.CloseMinute {
		return false
	}
	return (startMinute-v.OpenMinute)%v.SlotMinutes == 0
}

// MatchTime combines a date and slot start into the moment the match begins,
// in the venue's timezone.
func (v Venue) MatchTime(date, start string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, date, v.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	minute, err := ParseMinute(start)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(minute) * time.Minute), nil
}

func (v Venue) location() *time.Location {
	if v.Location == nil {
		return time.UTC
	}
	return v.Location
}

// ParseMinute converts a "15:04" clock string to minutes from midnight.
func ParseMinute(clock string) (int, error) {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", clock, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinute renders minutes from midnight as a "15:04" clock string.
func FormatMinute(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Booking is a single reservation of one slot. A cancelled or completed
// booking never re-holds its slot.
type Booking struct {
	ID             string
	VenueID        string
	Date           string // DateLayout
	Start          string // TimeLayout
	StartsAt       time.Time
	OwnerID        string
	Status         Status
	PriceCents     int64
	PenaltyApplied bool
	PenaltyCents   int64
	CreatedAt      time.Time
	CancelledAt    *time.Time
	CompletedAt    *time.Time
}

// Slot is one bookable interval within a venue's day. Held is true iff a
// live booking references the slot.
type Slot struct {
	Start     string
	Held      bool
	BookingID string
}

// CalendarDay is the ordered slot sequence for one (venue, date).
type CalendarDay struct {
	VenueID string
	Date    string
	Slots   []Slot
}

// CreateRequest is the validated input for Manager.Create.
type CreateRequest struct {
	VenueID string
	Date    string
	Start   string
	OwnerID string
}

// Validate checks shape once at the boundary so the core never re-checks it.
func (r CreateRequest) Validate() error {
	if r.VenueID == "" {
		return fmt.Errorf("venue id is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", r.Date, err)
	}
	if _, err := time.Parse(TimeLayout, r.Start); err != nil {
		return fmt.Errorf("invalid start time %q: %w", r.Start, err)
	}
	return nil
}

// CancelResult reports the penalty outcome of a cancellation.
type CancelResult struct {
	PenaltyApplied bool
	PenaltyCents   int64
}
