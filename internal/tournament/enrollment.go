package tournament

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldhouse/reserve/internal/keylock"
)

const (
	// DefaultLeaveWindow is how long before the start date a team may still
	// leave. Injectable via NewEnrollment.
	DefaultLeaveWindow = 24 * time.Hour

	defaultLockWait = 2 * time.Second
)

// record pairs a tournament with its enrolled-team set.
type record struct {
	tournament Tournament
	enrolled   map[string]struct{}
}

// Registry is the explicit store of tournaments and enrollment state. The
// mutex makes individual reads and writes safe; the check-then-act
// sequences in Enrollment are additionally serialized per tournament by a
// key lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewRegistry creates an empty tournament registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

func (r *Registry) get(id string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *Registry) put(rec *record) {
	r.mu.Lock()
	r.records[rec.tournament.ID] = rec
	r.mu.Unlock()
}

func (r *Registry) isEnrolled(rec *record, teamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := rec.enrolled[teamID]
	return ok
}

func (r *Registry) enrolledCount(rec *record) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(rec.enrolled)
}

func (r *Registry) enroll(rec *record, teamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.enrolled[teamID] = struct{}{}
	return len(rec.enrolled)
}

func (r *Registry) withdraw(rec *record, teamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(rec.enrolled, teamID)
	return len(rec.enrolled)
}

func (r *Registry) snapshot(rec *record) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teams := make([]string, 0, len(rec.enrolled))
	for teamID := range rec.enrolled {
		teams = append(teams, teamID)
	}
	return teams
}

// Enrollment serializes join/leave per tournament so the capacity check and
// insert form one atomic step.
type Enrollment struct {
	registry    *Registry
	locks       *keylock.Map
	leaveWindow time.Duration
	lockWait    time.Duration
	logger      zerolog.Logger
}

// NewEnrollment wires an enrollment service over the registry. A
// non-positive leaveWindow or lockWait selects the default.
func NewEnrollment(registry *Registry, leaveWindow, lockWait time.Duration) *Enrollment {
	if leaveWindow <= 0 {
		leaveWindow = DefaultLeaveWindow
	}
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Enrollment{
		registry:    registry,
		locks:       keylock.NewMap(),
		leaveWindow: leaveWindow,
		lockWait:    lockWait,
		logger:      log.With().Str("component", "tournament_enrollment").Logger(),
	}
}

// Create registers a new tournament and returns it.
func (e *Enrollment) Create(req CreateRequest, now time.Time) (Tournament, error) {
	if err := req.Validate(); err != nil {
		return Tournament{}, err
	}
	t := Tournament{
		ID:        uuid.New().String(),
		VenueID:   req.VenueID,
		Name:      req.Name,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		MaxTeams:  req.MaxTeams,
		CreatedAt: now,
	}
	e.registry.put(&record{tournament: t, enrolled: make(map[string]struct{})})
	e.logger.Info().
		Str("tournament_id", t.ID).
		Str("venue_id", t.VenueID).
		Int("max_teams", t.MaxTeams).
		Time("start_date", t.StartDate).
		Msg("Tournament created")
	return t, nil
}

// Get returns the tournament, or ErrNotFound.
func (e *Enrollment) Get(tournamentID string) (Tournament, error) {
	rec, ok := e.registry.get(tournamentID)
	if !ok {
		return Tournament{}, fmt.Errorf("%w: %s", ErrNotFound, tournamentID)
	}
	return rec.tournament, nil
}

// Join enrolls the team. Capacity is enforced atomically: of two concurrent
// joins racing for the last place, exactly one succeeds and the other gets
// ErrFull.
func (e *Enrollment) Join(ctx context.Context, tournamentID, teamID string, now time.Time) error {
	if teamID == "" {
		return fmt.Errorf("team id is required")
	}
	rec, ok := e.registry.get(tournamentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, tournamentID)
	}
	if !now.Before(rec.tournament.StartDate) {
		return fmt.Errorf("%w: started %s", ErrWindowClosed, rec.tournament.StartDate.Format(time.RFC3339))
	}

	release, err := e.acquire(ctx, tournamentID)
	if err != nil {
		return err
	}
	defer release()

	if e.registry.isEnrolled(rec, teamID) {
		return fmt.Errorf("%w: team %s", ErrAlreadyEnrolled, teamID)
	}
	if count := e.registry.enrolledCount(rec); count >= rec.tournament.MaxTeams {
		return fmt.Errorf("%w: %d of %d places taken", ErrFull, count, rec.tournament.MaxTeams)
	}
	enrolled := e.registry.enroll(rec, teamID)

	e.logger.Info().
		Str("tournament_id", tournamentID).
		Str("team_id", teamID).
		Int("enrolled", enrolled).
		Int("max_teams", rec.tournament.MaxTeams).
		Msg("Team joined tournament")
	return nil
}

// Leave withdraws the team. It fails with ErrLeaveWindowClosed once the
// start date is closer than the leave window; enrolled teams past that
// point are frozen.
func (e *Enrollment) Leave(ctx context.Context, tournamentID, teamID string, now time.Time) error {
	rec, ok := e.registry.get(tournamentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, tournamentID)
	}

	release, err := e.acquire(ctx, tournamentID)
	if err != nil {
		return err
	}
	defer release()

	if !e.registry.isEnrolled(rec, teamID) {
		return fmt.Errorf("%w: team %s", ErrNotEnrolled, teamID)
	}
	if rec.tournament.StartDate.Sub(now) < e.leaveWindow {
		return fmt.Errorf("%w: less than %s before start", ErrLeaveWindowClosed, e.leaveWindow)
	}
	remaining := e.registry.withdraw(rec, teamID)

	e.logger.Info().
		Str("tournament_id", tournamentID).
		Str("team_id", teamID).
		Int("enrolled", remaining).
		Msg("Team left tournament")
	return nil
}

// IsEnrolled reports whether the team is currently enrolled.
func (e *Enrollment) IsEnrolled(tournamentID, teamID string) (bool, error) {
	rec, ok := e.registry.get(tournamentID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, tournamentID)
	}
	return e.registry.isEnrolled(rec, teamID), nil
}

// EnrolledTeams returns a sorted snapshot of the enrolled team ids.
func (e *Enrollment) EnrolledTeams(tournamentID string) ([]string, error) {
	rec, ok := e.registry.get(tournamentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tournamentID)
	}
	teams := e.registry.snapshot(rec)
	sort.Strings(teams)
	return teams, nil
}

func (e *Enrollment) acquire(ctx context.Context, tournamentID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()
	return e.locks.Acquire(lockCtx, tournamentID)
}
