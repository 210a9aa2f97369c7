// Package api is the thin request layer over the reservation core. It maps
// each error kind to an HTTP status; the core itself has no notion of HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldhouse/reserve/internal/booking"
	"github.com/fieldhouse/reserve/internal/keylock"
	"github.com/fieldhouse/reserve/internal/tournament"
)

// Handlers exposes the reservation and enrollment core over JSON.
type Handlers struct {
	bookings   *booking.Manager
	enrollment *tournament.Enrollment
}

func NewHandlers(bookings *booking.Manager, enrollment *tournament.Enrollment) *Handlers {
	return &Handlers{bookings: bookings, enrollment: enrollment}
}

// RegisterRoutes attaches the core's routes to the mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/bookings", h.handleBookings)
	mux.HandleFunc("/api/v1/bookings/cancel", h.handleBookingCancel)
	mux.HandleFunc("/api/v1/availability", h.handleAvailability)
	mux.HandleFunc("/api/v1/tournaments", h.handleTournaments)
	mux.HandleFunc("/api/v1/tournaments/join", h.handleTournamentJoin)
	mux.HandleFunc("/api/v1/tournaments/leave", h.handleTournamentLeave)
	mux.HandleFunc("/api/v1/tournaments/teams", h.handleTournamentTeams)
}

type createBookingRequest struct {
	VenueID string `json:"venueId"`
	Date    string `json:"date"`
	Start   string `json:"start"`
	OwnerID string `json:"ownerId"`
}

type bookingResponse struct {
	ID             string `json:"id"`
	VenueID        string `json:"venueId"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	OwnerID        string `json:"ownerId"`
	Status         string `json:"status"`
	PriceCents     int64  `json:"priceCents"`
	PenaltyApplied bool   `json:"penaltyApplied"`
	PenaltyCents   int64  `json:"penaltyCents"`
}

func bookingData(b booking.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		VenueID:        b.VenueID,
		Date:           b.Date,
		Start:          b.Start,
		OwnerID:        b.OwnerID,
		Status:         string(b.Status),
		PriceCents:     b.PriceCents,
		PenaltyApplied: b.PenaltyApplied,
		PenaltyCents:   b.PenaltyCents,
	}
}

// POST /api/v1/bookings
// GET  /api/v1/bookings?owner_id=X | ?id=X
func (h *Handlers) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		b, err := h.bookings.Create(r.Context(), booking.CreateRequest{
			VenueID: req.VenueID,
			Date:    req.Date,
			Start:   req.Start,
			OwnerID: req.OwnerID,
		}, time.Now())
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, bookingData(b))

	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			b, err := h.bookings.Get(r.Context(), id)
			if err != nil {
				writeCoreError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, bookingData(b))
			return
		}
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			http.Error(w, "owner_id or id is required", http.StatusBadRequest)
			return
		}
		list, err := h.bookings.ListByOwner(r.Context(), ownerID)
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		out := make([]bookingResponse, 0, len(list))
		for _, b := range list {
			out = append(out, bookingData(b))
		}
		writeJSON(w, http.StatusOK, out)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type cancelBookingRequest struct {
	BookingID string `json:"bookingId"`
}

type cancelBookingResponse struct {
	PenaltyApplied bool  `json:"penaltyApplied"`
	PenaltyCents   int64 `json:"penaltyCents"`
}

// POST /api/v1/bookings/cancel
func (h *Handlers) handleBookingCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.BookingID == "" {
		http.Error(w, "bookingId is required", http.StatusBadRequest)
		return
	}
	result, err := h.bookings.Cancel(r.Context(), req.BookingID, time.Now())
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		PenaltyApplied: result.PenaltyApplied,
		PenaltyCents:   result.PenaltyCents,
	})
}

type slotResponse struct {
	Start string `json:"start"`
	Held  bool   `json:"held"`
}

// GET /api/v1/availability?venue_id=X&date=YYYY-MM-DD
func (h *Handlers) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	venueID := r.URL.Query().Get("venue_id")
	date := r.URL.Query().Get("date")
	if venueID == "" || date == "" {
		http.Error(w, "venue_id and date are required", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse(booking.DateLayout, date); err != nil {
		http.Error(w, "Invalid date", http.StatusBadRequest)
		return
	}
	slots, err := h.bookings.Availability(venueID, date)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{Start: s.Start, Held: s.Held})
	}
	writeJSON(w, http.StatusOK, out)
}

type createTournamentRequest struct {
	VenueID   string `json:"venueId"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	MaxTeams  int    `json:"maxTeams"`
}

type tournamentResponse struct {
	ID        string `json:"id"`
	VenueID   string `json:"venueId"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	MaxTeams  int    `json:"maxTeams"`
}

func tournamentData(t tournament.Tournament) tournamentResponse {
	return tournamentResponse{
		ID:        t.ID,
		VenueID:   t.VenueID,
		Name:      t.Name,
		StartDate: t.StartDate.Format(time.RFC3339),
		EndDate:   t.EndDate.Format(time.RFC3339),
		MaxTeams:  t.MaxTeams,
	}
}

// POST /api/v1/tournaments
// GET  /api/v1/tournaments?id=X
func (h *Handlers) handleTournaments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createTournamentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		startDate, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			http.Error(w, "Invalid startDate", http.StatusBadRequest)
			return
		}
		endDate, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			http.Error(w, "Invalid endDate", http.StatusBadRequest)
			return
		}
		t, err := h.enrollment.Create(tournament.CreateRequest{
			VenueID:   req.VenueID,
			Name:      req.Name,
			StartDate: startDate,
			EndDate:   endDate,
			MaxTeams:  req.MaxTeams,
		}, time.Now())
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tournamentData(t))

	case http.MethodGet:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		t, err := h.enrollment.Get(id)
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tournamentData(t))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type enrollmentRequest struct {
	TournamentID string `json:"tournamentId"`
	TeamID       string `json:"teamId"`
}

func (h *Handlers) handleTournamentJoin(w http.ResponseWriter, r *http.Request) {
	h.handleEnrollmentChange(w, r, h.enrollment.Join)
}

func (h *Handlers) handleTournamentLeave(w http.ResponseWriter, r *http.Request) {
	h.handleEnrollmentChange(w, r, h.enrollment.Leave)
}

func (h *Handlers) handleEnrollmentChange(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, tournamentID, teamID string, now time.Time) error,
) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req enrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TournamentID == "" || req.TeamID == "" {
		http.Error(w, "tournamentId and teamId are required", http.StatusBadRequest)
		return
	}
	if err := op(r.Context(), req.TournamentID, req.TeamID, time.Now()); err != nil {
		writeCoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/tournaments/teams?id=X
func (h *Handlers) handleTournamentTeams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	teams, err := h.enrollment.EnrolledTeams(id)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeCoreError maps the core's error kinds to HTTP statuses.
func writeCoreError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.Ctx(r.Context())
	switch {
	case errors.Is(err, booking.ErrSlotConflict),
		errors.Is(err, tournament.ErrFull),
		errors.Is(err, tournament.ErrAlreadyEnrolled),
		errors.Is(err, booking.ErrAlreadyTerminal):
		http.Error(w, err.Error(), http.StatusConflict)

	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, booking.ErrUnknownVenue),
		errors.Is(err, tournament.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)

	case errors.Is(err, booking.ErrInvalidSlot),
		errors.Is(err, booking.ErrPastDate),
		errors.Is(err, tournament.ErrWindowClosed),
		errors.Is(err, tournament.ErrLeaveWindowClosed),
		errors.Is(err, tournament.ErrNotEnrolled),
		errors.Is(err, tournament.ErrInvalidCapacity),
		errors.Is(err, tournament.ErrInvalidDateRange):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)

	case errors.Is(err, keylock.ErrBusy):
		http.Error(w, "Try again shortly", http.StatusServiceUnavailable)

	case errors.Is(err, booking.ErrInternalInconsistency):
		logger.Error().Err(err).Msg("Invariant violation")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)

	default:
		logger.Error().Err(err).Msg("Unhandled core error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
