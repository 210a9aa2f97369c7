// Package tournament manages race-free team enrollment against a fixed
// capacity and a join/leave window.
package tournament

import (
	"fmt"
	"time"
)

// Tournament describes a competition hosted at a venue. Enrollment state
// lives in the Registry, not on this struct; capacity and dates never
// change after creation.
type Tournament struct {
	ID        string
	VenueID   string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	MaxTeams  int
	CreatedAt time.Time
}

// CreateRequest is the validated input for Enrollment.Create.
type CreateRequest struct {
	VenueID   string
	Name      string
	StartDate time.Time
	EndDate   time.Time
	MaxTeams  int
}

// Validate checks shape and business rules once at the boundary.
func (r CreateRequest) Validate() error {
	if r.VenueID == "" {
		return fmt.Errorf("venue id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("tournament name is required")
	}
	if r.MaxTeams <= 0 {
		return ErrInvalidCapacity
	}
	if r.StartDate.IsZero() || !r.EndDate.After(r.StartDate) {
		return ErrInvalidDateRange
	}
	return nil
}
