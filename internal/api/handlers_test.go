package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldhouse/reserve/internal/booking"
	"github.com/fieldhouse/reserve/internal/testutil"
	"github.com/fieldhouse/reserve/internal/tournament"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	venue := booking.Venue{
		ID:          "stadium-1",
		Name:        "North Stadium",
		OpenMinute:  8 * 60,
		CloseMinute: 22 * 60,
		SlotMinutes: 60,
		PriceCents:  5000,
		Penalty: booking.TierPolicy{
			FreeHoursBefore: 24,
			Tiers: []booking.PenaltyTier{
				{MinHoursBefore: 12, PenaltyPercent: 25},
				{MinHoursBefore: 0, PenaltyPercent: 50},
			},
		},
	}
	store := testutil.NewTestLedger(t)
	mgr := booking.NewManager(booking.NewCalendar([]booking.Venue{venue}), store, time.Second)
	enr := tournament.NewEnrollment(tournament.NewRegistry(), tournament.DefaultLeaveWindow, time.Second)

	mux := http.NewServeMux()
	NewHandlers(mgr, enr).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// futureDate returns a bookable date far enough out that the handlers'
// wall-clock checks pass.
func futureDate(t *testing.T) string {
	t.Helper()
	return time.Now().AddDate(0, 0, 7).Format(booking.DateLayout)
}

func TestBookings_CreateAndGet(t *testing.T) {
	mux := newTestMux(t)
	date := futureDate(t)

	w := doJSON(t, mux, http.MethodPost, "/api/v1/bookings", map[string]string{
		"venueId": "stadium-1",
		"date":    date,
		"start":   "14:00",
		"ownerId": "owner-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != "active" {
		t.Fatalf("created = %+v", created)
	}

	w = doJSON(t, mux, http.MethodGet, "/api/v1/bookings?id="+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, mux, http.MethodGet, "/api/v1/bookings?owner_id=owner-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("owner has %d bookings, want 1", len(list))
	}
}

func TestBookings_ErrorStatuses(t *testing.T) {
	mux := newTestMux(t)
	date := futureDate(t)

	book := func(start string) *httptest.ResponseRecorder {
		return doJSON(t, mux, http.MethodPost, "/api/v1/bookings", map[string]string{
			"venueId": "stadium-1", "date": date, "start": start, "ownerId": "owner-1",
		})
	}

	if w := book("14:00"); w.Code != http.StatusCreated {
		t.Fatalf("first booking status = %d", w.Code)
	}
	// Same slot again conflicts.
	if w := book("14:00"); w.Code != http.StatusConflict {
		t.Errorf("conflict status = %d, want 409", w.Code)
	}
	// Off-grid start.
	if w := book("14:30"); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("off-grid status = %d, want 422", w.Code)
	}
	// Past date.
	w := doJSON(t, mux, http.MethodPost, "/api/v1/bookings", map[string]string{
		"venueId": "stadium-1", "date": "2020-01-01", "start": "14:00", "ownerId": "owner-1",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("past date status = %d, want 422", w.Code)
	}
	// Unknown venue.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/bookings", map[string]string{
		"venueId": "nowhere", "date": date, "start": "14:00", "ownerId": "owner-1",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown venue status = %d, want 404", w.Code)
	}
	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
	// Wrong method.
	if w := doJSON(t, mux, http.MethodDelete, "/api/v1/bookings", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("method status = %d, want 405", w.Code)
	}
}

func TestBookingCancel(t *testing.T) {
	mux := newTestMux(t)
	date := futureDate(t)

	w := doJSON(t, mux, http.MethodPost, "/api/v1/bookings", map[string]string{
		"venueId": "stadium-1", "date": date, "start": "14:00", "ownerId": "owner-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, mux, http.MethodPost, "/api/v1/bookings/cancel", map[string]string{"bookingId": created.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", w.Code, w.Body.String())
	}
	var result struct {
		PenaltyApplied bool  `json:"penaltyApplied"`
		PenaltyCents   int64 `json:"penaltyCents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// A week out is beyond every penalty tier.
	if result.PenaltyApplied || result.PenaltyCents != 0 {
		t.Errorf("penalty = %+v, want none", result)
	}

	// Second cancel conflicts.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/bookings/cancel", map[string]string{"bookingId": created.ID})
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", w.Code)
	}

	// Unknown booking.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/bookings/cancel", map[string]string{"bookingId": "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing booking status = %d, want 404", w.Code)
	}
}

func TestAvailability(t *testing.T) {
	mux := newTestMux(t)
	date := futureDate(t)

	w := doJSON(t, mux, http.MethodGet, "/api/v1/availability?venue_id=stadium-1&date="+date, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var slots []struct {
		Start string `json:"start"`
		Held  bool   `json:"held"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) != 14 {
		t.Fatalf("slots = %d, want 14", len(slots))
	}
	for _, s := range slots {
		if s.Held {
			t.Errorf("slot %s held on an empty day", s.Start)
		}
	}

	if w := doJSON(t, mux, http.MethodGet, "/api/v1/availability?venue_id=stadium-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing date status = %d, want 400", w.Code)
	}
	if w := doJSON(t, mux, http.MethodGet, "/api/v1/availability?venue_id=stadium-1&date=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", w.Code)
	}
	if w := doJSON(t, mux, http.MethodGet, "/api/v1/availability?venue_id=nowhere&date="+date, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown venue status = %d, want 404", w.Code)
	}
}

func TestTournaments_Lifecycle(t *testing.T) {
	mux := newTestMux(t)
	start := time.Now().AddDate(0, 0, 14)
	end := start.AddDate(0, 0, 2)

	w := doJSON(t, mux, http.MethodPost, "/api/v1/tournaments", map[string]any{
		"venueId":   "stadium-1",
		"name":      "Autumn Cup",
		"startDate": start.Format(time.RFC3339),
		"endDate":   end.Format(time.RFC3339),
		"maxTeams":  2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var tour struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tour); err != nil {
		t.Fatalf("decode: %v", err)
	}

	join := func(team string) *httptest.ResponseRecorder {
		return doJSON(t, mux, http.MethodPost, "/api/v1/tournaments/join", map[string]string{
			"tournamentId": tour.ID, "teamId": team,
		})
	}
	if w := join("team-a"); w.Code != http.StatusNoContent {
		t.Fatalf("join a status = %d", w.Code)
	}
	if w := join("team-b"); w.Code != http.StatusNoContent {
		t.Fatalf("join b status = %d", w.Code)
	}
	if w := join("team-c"); w.Code != http.StatusConflict {
		t.Errorf("join over capacity status = %d, want 409", w.Code)
	}
	if w := join("team-a"); w.Code != http.StatusConflict {
		t.Errorf("rejoin status = %d, want 409", w.Code)
	}

	w = doJSON(t, mux, http.MethodGet, "/api/v1/tournaments/teams?id="+tour.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("teams status = %d", w.Code)
	}
	var teams []string
	if err := json.Unmarshal(w.Body.Bytes(), &teams); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(teams) != 2 {
		t.Errorf("teams = %v, want 2 entries", teams)
	}

	// The start is two weeks out, so leaving is allowed.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/tournaments/leave", map[string]string{
		"tournamentId": tour.ID, "teamId": "team-b",
	})
	if w.Code != http.StatusNoContent {
		t.Errorf("leave status = %d, want 204", w.Code)
	}
	w = doJSON(t, mux, http.MethodPost, "/api/v1/tournaments/leave", map[string]string{
		"tournamentId": tour.ID, "teamId": "team-b",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("leave twice status = %d, want 422", w.Code)
	}
}

func TestTournaments_ErrorStatuses(t *testing.T) {
	mux := newTestMux(t)
	start := time.Now().AddDate(0, 0, 14)

	// Invalid capacity.
	w := doJSON(t, mux, http.MethodPost, "/api/v1/tournaments", map[string]any{
		"venueId":   "stadium-1",
		"name":      "Cup",
		"startDate": start.Format(time.RFC3339),
		"endDate":   start.AddDate(0, 0, 2).Format(time.RFC3339),
		"maxTeams":  0,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid capacity status = %d, want 422", w.Code)
	}

	// Inverted date range.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/tournaments", map[string]any{
		"venueId":   "stadium-1",
		"name":      "Cup",
		"startDate": start.Format(time.RFC3339),
		"endDate":   start.AddDate(0, 0, -2).Format(time.RFC3339),
		"maxTeams":  4,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("inverted range status = %d, want 422", w.Code)
	}

	// Unknown tournament.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/tournaments/join", map[string]string{
		"tournamentId": "missing", "teamId": "team-a",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown tournament status = %d, want 404", w.Code)
	}
	w = doJSON(t, mux, http.MethodGet, "/api/v1/tournaments?id=missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", w.Code)
	}

	// Missing fields.
	w = doJSON(t, mux, http.MethodPost, "/api/v1/tournaments/join", map[string]string{"teamId": "team-a"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing tournamentId status = %d, want 400", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	})
	handler := ChainMiddleware(mux, WithLogging, WithRecovery, WithRequestID)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := ChainMiddleware(mux, WithRecovery)

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
