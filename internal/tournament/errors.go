package tournament

import "errors"

var (
	ErrNotFound          = errors.New("tournament not found")
	ErrWindowClosed      = errors.New("tournament enrollment window is closed")
	ErrLeaveWindowClosed = errors.New("leave window is closed")
	ErrAlreadyEnrolled   = errors.New("team is already enrolled in this tournament")
	ErrNotEnrolled       = errors.New("team is not enrolled in this tournament")
	ErrFull              = errors.New("tournament enrollment is full")

	// Validation errors for Create.
	ErrInvalidCapacity  = errors.New("tournament max teams must be positive")
	ErrInvalidDateRange = errors.New("tournament end date must be after start date")
)
