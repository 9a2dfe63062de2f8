package booking

import (
	"strings"
	"time"

	"github.com/elliotchance/pie/v2"
)

// Merge applies u on top of d and returns the new draft. Changes that would break
// a draft invariant are left out and reported as conflicts. d is not modified.
func Merge(d Draft, u Update) (Draft, []Conflict) {
	next := d.clone()
	var conflicts []Conflict

	reject := func(field Field, reason string) {
		conflicts = append(conflicts, Conflict{Field: field, Reason: reason})
	}

	if u.Title != nil {
		if title := strings.TrimSpace(*u.Title); title == "" {
			reject(FieldTitle, "title is empty")
		} else {
			next.Title = &title
		}
	}

	if u.Attendees != nil {
		next.Attendees = normalizeAttendees(u.Attendees)
	}

	if u.Duration != nil {
		duration := *u.Duration
		window := next.Window
		if u.Window != nil && u.Window.Valid() {
			window = u.Window
		}

		switch {
		case duration <= 0:
			reject(FieldDuration, "duration must be positive")
		case next.ChosenSlot != nil && next.ChosenSlot.Length() != duration:
			reject(FieldDuration, "duration differs from the chosen slot")
		case window != nil && window.Length() < duration:
			reject(FieldDuration, "duration does not fit in the window")
		default:
			next.Duration = duration
		}
	}

	if u.Window != nil {
		window := *u.Window

		switch {
		case !window.Valid():
			reject(FieldWindow, "window must end after it starts")
		case next.ChosenSlot != nil && !window.Contains(*next.ChosenSlot):
			reject(FieldWindow, "window excludes the chosen slot")
		case next.Duration > 0 && window.Length() < next.Duration:
			reject(FieldWindow, "window is shorter than the duration")
		default:
			next.Window = &window
		}
	}

	if u.Slot != nil {
		slot := *u.Slot

		switch {
		case !slot.Valid():
			reject(FieldSlot, "slot must end after it starts")
		case next.Window != nil && !next.Window.Contains(slot):
			reject(FieldSlot, "slot lies outside the window")
		case next.Duration > 0 && slot.Length() != next.Duration:
			reject(FieldSlot, "slot length differs from the duration")
		default:
			next.ChosenSlot = &slot
		}
	}

	return next, conflicts
}

// normalizeAttendees turns the raw list into a sorted set without blanks.
func normalizeAttendees(raw []string) []string {
	trimmed := pie.Map(raw, strings.TrimSpace)
	nonEmpty := pie.Filter(trimmed, func(s string) bool {
		return s != ""
	})

	return pie.Sort(pie.Unique(nonEmpty))
}

// missingField returns the next field to ask for, in priority order
// duration, window, title. The title is asked for at most once.
func missingField(s State) (Field, bool) {
	switch {
	case s.Draft.Duration <= 0:
		return FieldDuration, true
	case s.Draft.Window == nil:
		return FieldWindow, true
	case s.Draft.Title == nil && !s.TitleAsked:
		return FieldTitle, true
	default:
		return "", false
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
