package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

// realClock implements Clock using the system time.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// BookingCompleter is the hook the sweep drives: it transitions bookings
// whose match time has passed to Completed.
type BookingCompleter interface {
	CompleteDue(ctx context.Context, now time.Time) (int, error)
}

// RunCompletionSweep runs one sweep at the clock's current time.
func RunCompletionSweep(ctx context.Context, completer BookingCompleter, clock Clock) {
	if clock == nil {
		clock = realClock{}
	}
	now := clock.Now()
	completed, err := completer.CompleteDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Time("sweep_time", now).Msg("Completion sweep failed")
		return
	}
	if completed > 0 {
		log.Info().Int("completed", completed).Time("sweep_time", now).Msg("Completion sweep finished")
	}
}

// RegisterCompletionSweep schedules the completion sweep on the given cron
// expression.
func RegisterCompletionSweep(svc *Service, cronExpr string, completer BookingCompleter) error {
	_, err := svc.AddJob("complete-due-bookings", cronExpr, func() {
		RunCompletionSweep(context.Background(), completer, nil)
	})
	return err
}
