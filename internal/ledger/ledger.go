// Package ledger persists bookings in SQLite. It is append-mostly: rows are
// inserted once and only their status columns ever change; nothing is
// deleted. The ledger is the source of truth for slot state reconstruction.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldhouse/reserve/internal/booking"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed implementation of booking.Ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at the given path,
// ensures foreign keys are enabled in the DSN, and applies embedded
// migrations.
func Open(dataSourceName string) (*Store, error) {
	if dir := filepath.Dir(dataSourceName); dir != "." && !strings.HasPrefix(dataSourceName, ":memory:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", ensureForeignKeysEnabledDSN(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("error opening ledger database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error running ledger migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureForeignKeysEnabledDSN(dataSourceName string) string {
	if strings.Contains(dataSourceName, "_fk=") {
		return dataSourceName
	}
	if strings.Contains(dataSourceName, "?") {
		return dataSourceName + "&_fk=1"
	}
	return dataSourceName + "?_fk=1"
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("error rolling back: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing: %w", err)
	}
	return nil
}

const bookingColumns = `id, venue_id, day, start, starts_at, owner_id, status,
	price_cents, penalty_applied, penalty_cents, created_at, cancelled_at, completed_at`

// Append inserts a new booking row. This is the only INSERT path.
func (s *Store) Append(ctx context.Context, b booking.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.VenueID, b.Date, b.Start, b.StartsAt.UTC(), b.OwnerID, string(b.Status),
		b.PriceCents, b.PenaltyApplied, b.PenaltyCents, b.CreatedAt.UTC(),
		nullTime(b.CancelledAt), nullTime(b.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// Get returns the booking, or booking.ErrBookingNotFound.
func (s *Store) Get(ctx context.Context, id string) (booking.Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return booking.Booking{}, fmt.Errorf("%w: %s", booking.ErrBookingNotFound, id)
		}
		return booking.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// SetCancelled moves an active booking to cancelled and records the penalty
// outcome. Updating a row that is no longer active fails with
// booking.ErrAlreadyTerminal so racing cancels resolve to one winner.
func (s *Store) SetCancelled(ctx context.Context, id string, at time.Time, penaltyApplied bool, penaltyCents int64) error {
	return s.setTerminal(ctx, id, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE bookings
			 SET status = ?, cancelled_at = ?, penalty_applied = ?, penalty_cents = ?
			 WHERE id = ? AND status = ?`,
			string(booking.StatusCancelled), at.UTC(), penaltyApplied, penaltyCents,
			id, string(booking.StatusActive),
		)
	})
}

// SetCompleted moves an active booking to completed.
func (s *Store) SetCompleted(ctx context.Context, id string, at time.Time) error {
	return s.setTerminal(ctx, id, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(booking.StatusCompleted), at.UTC(), id, string(booking.StatusActive),
		)
	})
}

func (s *Store) setTerminal(ctx context.Context, id string, update func(tx *sql.Tx) (sql.Result, error)) error {
	return s.RunInTx(ctx, func(tx *sql.Tx) error {
		res, err := update(tx)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", booking.ErrBookingNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("read booking status: %w", err)
			}
			return fmt.Errorf("%w: %s is %s", booking.ErrAlreadyTerminal, id, status)
		}
		return nil
	})
}

// ListActive returns every active booking, oldest first. Used to rebuild
// slot state at startup.
func (s *Store) ListActive(ctx context.Context) ([]booking.Booking, error) {
	return s.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? ORDER BY starts_at`,
		string(booking.StatusActive))
}

// ListActiveStartedBefore returns active bookings whose match start precedes t.
func (s *Store) ListActiveStartedBefore(ctx context.Context, t time.Time) ([]booking.Booking, error) {
	return s.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? AND starts_at < ? ORDER BY starts_at`,
		string(booking.StatusActive), t.UTC())
}

// ListByOwner returns the owner's bookings, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]booking.Booking, error) {
	return s.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (booking.Booking, error) {
	var (
		b           booking.Booking
		status      string
		cancelledAt sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.VenueID, &b.Date, &b.Start, &b.StartsAt, &b.OwnerID, &status,
		&b.PriceCents, &b.PenaltyApplied, &b.PenaltyCents, &b.CreatedAt,
		&cancelledAt, &completedAt,
	)
	if err != nil {
		return booking.Booking{}, err
	}
	b.Status = booking.Status(status)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return b, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
