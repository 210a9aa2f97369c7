// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fieldhouse/reserve/internal/api"
	"github.com/fieldhouse/reserve/internal/booking"
	"github.com/fieldhouse/reserve/internal/config"
	"github.com/fieldhouse/reserve/internal/ledger"
	"github.com/fieldhouse/reserve/internal/ratelimit"
	"github.com/fieldhouse/reserve/internal/scheduler"
	"github.com/fieldhouse/reserve/internal/tournament"
)

const defaultCompletionCron = "*/5 * * * *"

func setupLogger(environment string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config/config.yaml"
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.App.Environment)

	venues, err := cfg.BookingVenues()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid venue configuration")
	}

	store, err := ledger.Open(cfg.Ledger.Filename)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open reservation ledger")
	}
	defer store.Close()

	calendar := booking.NewCalendar(venues)
	bookings := booking.NewManager(calendar, store, cfg.BookingLockWait())
	enrollment := tournament.NewEnrollment(tournament.NewRegistry(), cfg.LeaveWindow(), cfg.EnrollmentLockWait())

	// Rebuild slot state from the ledger before serving requests.
	if err := bookings.Rehydrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to rehydrate slot state")
	}

	sched, err := scheduler.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	completionCron := cfg.Booking.CompletionCron
	if completionCron == "" {
		completionCron = defaultCompletionCron
	}
	if err := scheduler.RegisterCompletionSweep(sched, completionCron, bookings); err != nil {
		log.Fatal().Err(err).Msg("Failed to register completion sweep")
	}
	sched.Start()

	limitCfg := ratelimit.DefaultConfig()
	if cfg.RateLimit.MaxPerMinute > 0 {
		limitCfg.MaxPerMinute = cfg.RateLimit.MaxPerMinute
	}
	if cfg.RateLimit.WriteMaxPerMinute > 0 {
		limitCfg.WriteMaxPerMinute = cfg.RateLimit.WriteMaxPerMinute
	}
	limiter := ratelimit.New(limitCfg)
	defer limiter.Close()

	server := newServer(cfg, api.NewHandlers(bookings, enrollment), limiter)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.App.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info().Msg("Shutting down server")
		if err := sched.Stop(); err != nil {
			log.Error().Err(err).Msg("Scheduler shutdown error")
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server terminated with error")
		os.Exit(1)
	}
}
