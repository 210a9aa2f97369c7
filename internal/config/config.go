// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fieldhouse/reserve/internal/booking"
)

type LedgerConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

type PenaltyTierConfig struct {
	MinHoursBefore int64 `yaml:"min_hours_before"`
	PenaltyPercent int64 `yaml:"penalty_percent"`
}

type PenaltyConfig struct {
	FreeHoursBefore int64               `yaml:"free_hours_before"`
	Tiers           []PenaltyTierConfig `yaml:"tiers"`
}

type VenueConfig struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Timezone    string        `yaml:"timezone"`
	Open        string        `yaml:"open"`
	Close       string        `yaml:"close"`
	SlotMinutes int           `yaml:"slot_minutes"`
	PriceCents  int64         `yaml:"price_cents"`
	Penalty     PenaltyConfig `yaml:"penalty"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
	} `yaml:"app"`

	Booking struct {
		LockWaitMS     int    `yaml:"lock_wait_ms"`
		CompletionCron string `yaml:"completion_cron"`
	} `yaml:"booking"`

	Ledger LedgerConfig `yaml:"ledger"`

	Enrollment struct {
		LeaveWindowHours int `yaml:"leave_window_hours"`
		LockWaitMS       int `yaml:"lock_wait_ms"`
	} `yaml:"enrollment"`

	RateLimit struct {
		MaxPerMinute      int  `yaml:"max_per_minute"`
		WriteMaxPerMinute int  `yaml:"write_max_per_minute"`
		TrustProxy        bool `yaml:"trust_proxy"`
	} `yaml:"rate_limit"`

	Venues []VenueConfig `yaml:"venues"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Environment overrides for deployment paths
	if filename := os.Getenv("LEDGER_FILENAME"); filename != "" {
		cfg.Ledger.Filename = filename
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Ledger.Driver != "sqlite" {
		return fmt.Errorf("unsupported ledger driver: %s", c.Ledger.Driver)
	}
	if c.Ledger.Filename == "" {
		return fmt.Errorf("ledger filename is required for sqlite")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("venue %d: id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("venue %d: duplicate id %q", i, v.ID)
		}
		seen[v.ID] = true
		if v.SlotMinutes <= 0 {
			return fmt.Errorf("venue %s: slot_minutes must be positive", v.ID)
		}
		open, err := booking.ParseMinute(v.Open)
		if err != nil {
			return fmt.Errorf("venue %s: invalid open time: %w", v.ID, err)
		}
		close, err := booking.ParseMinute(v.Close)
		if err != nil {
			return fmt.Errorf("venue %s: invalid close time: %w", v.ID, err)
		}
		if close <= open {
			return fmt.Errorf("venue %s: close must be after open", v.ID)
		}
		if (close-open)%v.SlotMinutes != 0 {
			return fmt.Errorf("venue %s: working hours are not a whole number of slots", v.ID)
		}
		for j, tier := range v.Penalty.Tiers {
			if tier.MinHoursBefore < 0 {
				return fmt.Errorf("venue %s: penalty tier %d: min_hours_before must be 0 or greater", v.ID, j)
			}
			if tier.PenaltyPercent < 0 || tier.PenaltyPercent > 100 {
				return fmt.Errorf("venue %s: penalty tier %d: penalty_percent must be between 0 and 100", v.ID, j)
			}
		}
	}
	return nil
}

// BookingLockWait converts the configured acquisition budget to a duration.
func (c *Config) BookingLockWait() time.Duration {
	return time.Duration(c.Booking.LockWaitMS) * time.Millisecond
}

// EnrollmentLockWait converts the configured acquisition budget to a duration.
func (c *Config) EnrollmentLockWait() time.Duration {
	return time.Duration(c.Enrollment.LockWaitMS) * time.Millisecond
}

// LeaveWindow returns the enrollment leave window as a duration.
func (c *Config) LeaveWindow() time.Duration {
	return time.Duration(c.Enrollment.LeaveWindowHours) * time.Hour
}

// BookingVenues converts the venue definitions into domain venues.
func (c *Config) BookingVenues() ([]booking.Venue, error) {
	venues := make([]booking.Venue, 0, len(c.Venues))
	for _, vc := range c.Venues {
		loc := time.UTC
		if vc.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(vc.Timezone)
			if err != nil {
				return nil, fmt.Errorf("venue %s: invalid timezone %q: %w", vc.ID, vc.Timezone, err)
			}
		}
		open, err := booking.ParseMinute(vc.Open)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", vc.ID, err)
		}
		close, err := booking.ParseMinute(vc.Close)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", vc.ID, err)
		}

		tiers := make([]booking.PenaltyTier, 0, len(vc.Penalty.Tiers))
		for _, tc := range vc.Penalty.Tiers {
			tiers = append(tiers, booking.PenaltyTier{
				MinHoursBefore: tc.MinHoursBefore,
				PenaltyPercent: tc.PenaltyPercent,
			})
		}

		venues = append(venues, booking.Venue{
			ID:          vc.ID,
			Name:        vc.Name,
			Location:    loc,
			OpenMinute:  open,
			CloseMinute: close,
			SlotMinutes: vc.SlotMinutes,
			PriceCents:  vc.PriceCents,
			Penalty: booking.TierPolicy{
				FreeHoursBefore: vc.Penalty.FreeHoursBefore,
				Tiers:           tiers,
			},
		})
	}
	return venues, nil
}
