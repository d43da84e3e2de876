package availability

import (
	"fmt"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// Hours is a clinic's bookable day, as "HH:MM" wall-clock bounds.
type Hours struct {
	Open        string
	Close       string
	SlotMinutes int
}

const (
	defaultOpen  = "08:00"
	defaultClose = "17:00"
)

// DaySlots lists the "HH:MM" start times a clinic can still book on date. Each taken
// time blocks one appointment of length duration.
func DaySlots(date string, h Hours, duration time.Duration, taken []string, loc *time.Location, now time.Time) ([]string, error) {
	if loc == nil {
		loc = time.UTC
	}
	open, closing := h.Open, h.Close
	if open == "" {
		open = defaultOpen
	}
	if closing == "" {
		closing = defaultClose
	}
	step := time.Duration(h.SlotMinutes) * time.Minute
	if step <= 0 {
		step = duration
	}

	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+open, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid opening time: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", date+" "+closing, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid closing time: %w", err)
	}

	busy := make([]Interval, 0, len(taken))
	for _, t := range taken {
		b, err := time.ParseInLocation("2006-01-02 15:04", date+" "+t, loc)
		if err != nil {
			continue
		}
		busy = append(busy, Interval{Start: b, End: b.Add(duration)})
	}

	slots := AvailableSlots(start, end, duration, step, busy, now.In(loc))
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Format("15:04")
	}
	return out, nil
}

// Contains reports whether clock is one of slots.
func Contains(slots []string, clock string) bool {
	for _, s := range slots {
		if s == clock {
			return true
		}
	}
	return false
}
