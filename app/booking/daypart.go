package booking

import (
	"fmt"
	"strings"
	"time"
)

type Daypart string

const (
	Morning   Daypart = "morning"
	Afternoon Daypart = "afternoon"
	Evening   Daypart = "evening"
)

// daypartHours is the fixed mapping from vague day parts to local clock hours.
var daypartHours = map[Daypart][2]int{
	Morning:   {8, 12},
	Afternoon: {12, 17},
	Evening:   {17, 20},
}

func ParseDaypart(s string) (Daypart, bool) {
	part := Daypart(strings.ToLower(strings.TrimSpace(s)))
	_, ok := daypartHours[part]
	return part, ok
}

// DaypartWindow resolves a day part on the calendar day of day, in loc.
func DaypartWindow(day time.Time, part Daypart, loc *time.Location) (Window, bool) {
	hours, ok := daypartHours[part]
	if !ok {
		return Window{}, false
	}

	midnight := startOfDay(day, loc)

	return Window{
		Start: clockOn(midnight, time.Duration(hours[0])*time.Hour),
		End:   clockOn(midnight, time.Duration(hours[1])*time.Hour),
	}, true
}

// BusinessHours restricts candidate slots to a daily clock range. The zero value
// imposes no restriction.
type BusinessHours struct {
	Open  time.Duration
	Close time.Duration
}

func (h BusinessHours) zero() bool {
	return h.Open == 0 && h.Close == 0
}

// Clip splits w into per-day pieces that fall inside business hours in loc.
func (h BusinessHours) Clip(w Window, loc *time.Location) []Window {
	w = w.In(loc)
	if h.zero() {
		return []Window{w}
	}

	var result []Window

	for day := startOfDay(w.Start, loc); day.Before(w.End); day = day.AddDate(0, 0, 1) {
		open := clockOn(day, h.Open)
		closing := clockOn(day, h.Close)

		piece := Window{Start: laterOf(open, w.Start), End: earlierOf(closing, w.End)}
		if piece.Valid() {
			result = append(result, piece)
		}
	}

	return result
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}

	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// clockOn returns the wall-clock offset on day's date, which stays correct across DST shifts.
func clockOn(day time.Time, offset time.Duration) time.Time {
	minutes := int(offset / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
