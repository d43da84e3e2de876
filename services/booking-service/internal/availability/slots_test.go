package availability

import (
	"testing"
	"time"
)

func TestAvailableSlots_Basic(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, loc)
	windowStart := time.Date(2026, 1, 28, 9, 0, 0, 0, loc)
	windowEnd := time.Date(2026, 1, 28, 10, 0, 0, 0, loc)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, loc)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	now := day.Add(9*time.Hour + 31*time.Minute)
	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, nil, now)
	// 09:00, 09:15, 09:30 are in the past (start < now). 09:45 is future.
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func TestDaySlots_ClinicHoursMinusTaken(t *testing.T) {
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)
	slots, err := DaySlots("2026-01-28", Hours{Open: "09:00", Close: "11:00", SlotMinutes: 30}, 30*time.Minute, []string{"09:30", "bogus"}, time.UTC, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"09:00", "10:00", "10:30"}
	if len(slots) != len(want) {
		t.Fatalf("expected %v, got %v", want, slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, slots)
		}
	}
	if !Contains(slots, "10:00") || Contains(slots, "09:30") {
		t.Fatalf("Contains disagrees with %v", slots)
	}
}

func TestDaySlots_DefaultsAndPast(t *testing.T) {
	loc := time.FixedZone("PHT", 8*3600)
	now := time.Date(2026, 1, 28, 16, 10, 0, 0, loc)
	slots, err := DaySlots("2026-01-28", Hours{}, 30*time.Minute, nil, loc, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 || slots[0] != "16:30" {
		t.Fatalf("expected only 16:30 left, got %v", slots)
	}

	if _, err := DaySlots("28/01/2026", Hours{}, 30*time.Minute, nil, loc, now); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}
