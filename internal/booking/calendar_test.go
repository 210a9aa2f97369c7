package booking

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testVenue() Venue {
	return Venue{
		ID:          "stadium-1",
		Name:        "Central Stadium",
		Location:    time.UTC,
		OpenMinute:  8 * 60,
		CloseMinute: 22 * 60,
		SlotMinutes: 60,
		PriceCents:  5000,
		Penalty:     standardPolicy,
	}
}

func TestCalendar_DaySlots_GeneratedFromWorkingHours(t *testing.T) {
	cal := NewCalendar([]Venue{testVenue()})

	slots, err := cal.DaySlots("stadium-1", "2026-09-12")
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots for 08:00-22:00 at 1h, got %d", len(slots))
	}
	if slots[0].Start != "08:00" {
		t.Errorf("first slot = %s, want 08:00", slots[0].Start)
	}
	if slots[len(slots)-1].Start != "21:00" {
		t.Errorf("last slot = %s, want 21:00", slots[len(slots)-1].Start)
	}
	for _, s := range slots {
		if s.Held {
			t.Errorf("slot %s should start free", s.Start)
		}
	}
}

func TestCalendar_DaySlots_Deterministic(t *testing.T) {
	cal := NewCalendar([]Venue{testVenue()})

	first, err := cal.DaySlots("stadium-1", "2026-09-12")
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	if err := cal.MarkHeld("stadium-1", "2026-09-12", "14:00", "b-1"); err != nil {
		t.Fatalf("MarkHeld: %v", err)
	}

	second, err := cal.DaySlots("stadium-1", "2026-09-12")
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("second materialization changed slot count: %d vs %d", len(first), len(second))
	}
	held := 0
	for _, s := range second {
		if s.Held {
			held++
		}
	}
	if held != 1 {
		t.Errorf("re-query must see the held slot, held count = %d", held)
	}
}

func TestCalendar_IsFree_OffGrid(t *testing.T) {
	cal := NewCalendar([]Venue{testVenue()})

	tests := []string{"14:30", "07:00", "22:00", "23:15"}
	for _, start := range tests {
		if _, err := cal.IsFree("stadium-1", "2026-09-12", start); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("IsFree(%s) error = %v, want ErrInvalidSlot", start, err)
		}
	}
}

func TestCalendar_UnknownVenue(t *testing.T) {
	cal := NewCalendar([]Venue{testVenue()})

	if _, err := cal.DaySlots("nope", "2026-09-12"); !errors.Is(err, ErrUnknownVenue) {
		t.Errorf("DaySlots error = %v, want ErrUnknownVenue", err)
	}
}

func TestCalendar_MarkHeldMarkFree(t *testing.T) {
	cal := NewCalendar([]Venue{testVenue()})

	if err := cal.MarkHeld("stadium-1", "2026-09-12", "14:00", "b-1"); err != nil {
		t.Fatalf("MarkHeld: %v", err)
	}
	free, err := cal.IsFree("stadium-1", "2026-09-12", "14:00")
	if err != nil {
		t.Fatalf("IsFree: %v", err)
	}
	if free {
		t.Error("slot should be held")
	}
	holder, err := cal.HeldBy("stadium-1", "2026-09-12", "14:00")
	if err != nil {
		t.Fatalf("HeldBy: %v", err)
	}
	if holder != "b-1" {
		t.Errorf("holder = %q, want b-1", holder)
	}

	if err := cal.MarkFree("stadium-1", "2026-09-12", "14:00"); err != nil {
		t.Fatalf("MarkFree: %v", err)
	}
	free, err = cal.IsFree("stadium-1", "2026-09-12", "14:00")
	if err != nil {
		t.Fatalf("IsFree: %v", err)
	}
	if !free {
		t.Error("slot should be free again")
	}
}

func TestCalendar_ConcurrentMaterializationBuildsOneDay(t *testing.T) {
	cal := NewCalendar([]Venue{testVenue()})

	const goroutines = 16
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			if _, err := cal.DaySlots("stadium-1", "2026-09-12"); err != nil {
				t.Errorf("DaySlots: %v", err)
			}
		}()
	}
	wg.Wait()

	slots, err := cal.DaySlots("stadium-1", "2026-09-12")
	if err != nil {
		t.Fatalf("DaySlots: %v", err)
	}
	if len(slots) != 14 {
		t.Errorf("concurrent materialization produced %d slots, want 14", len(slots))
	}
}

func TestVenue_OnGrid(t *testing.T) {
	v := testVenue()

	tests := []struct {
		minute int
		want   bool
	}{
		{8 * 60, true},
		{14 * 60, true},
		{21 * 60, true},
		{22 * 60, false},    // would run past close
		{7 * 60, false},     // before open
		{14*60 + 30, false}, // off grid
		{21*60 + 59, false}, // off grid and would run past close
	}
	for _, tt := range tests {
		if got := v.OnGrid(tt.minute); got != tt.want {
			t.Errorf("OnGrid(%d) = %v, want %v", tt.minute, got, tt.want)
		}
	}
}
