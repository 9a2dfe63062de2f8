package extractor

import (
	"fmt"
	"strings"
	"time"

	"meetwise/app/booking"

	"github.com/elliotchance/pie/v2"
)

// resolve turns the raw model answer into a typed update. Dates are read in the
// service location; day parts go through the booking day part table.
func (s *Service) resolve(resp response, st booking.State) (booking.Intent, booking.Update, error) {
	intent := booking.ParseIntent(strings.ToLower(strings.TrimSpace(resp.Intent)))

	var u booking.Update

	if resp.Title != nil {
		if title := strings.TrimSpace(*resp.Title); title != "" {
			u.Title = &title
		}
	}

	attendees := pie.Filter(pie.Map(resp.Attendees, strings.TrimSpace), func(a string) bool {
		return a != ""
	})
	if len(attendees) > 0 {
		u.Attendees = attendees
	}

	if resp.DurationMinutes != nil && *resp.DurationMinutes > 0 {
		d := time.Duration(*resp.DurationMinutes) * time.Minute
		u.Duration = &d
	}

	window, err := s.window(resp)
	if err != nil {
		return "", booking.Update{}, err
	}
	u.Window = window

	if resp.SlotStart != nil && *resp.SlotStart != "" {
		start, err := s.parseLocal(*resp.SlotStart)
		if err != nil {
			return "", booking.Update{}, fmt.Errorf("slot_start: %w", err)
		}

		length := st.Draft.Duration
		if u.Duration != nil {
			length = *u.Duration
		}

		u.Slot = &booking.Slot{Start: start, End: start.Add(length)}
	}

	if resp.Ordinal != nil && *resp.Ordinal > 0 {
		ordinal := *resp.Ordinal
		u.Ordinal = &ordinal
	}

	if resp.Signal != nil {
		switch signal := booking.Signal(strings.ToLower(strings.TrimSpace(*resp.Signal))); signal {
		case booking.SignalConfirm, booking.SignalCancel, booking.SignalRejectAll:
			u.Signal = signal
		}
	}

	return intent, u, nil
}

func (s *Service) window(resp response) (*booking.Window, error) {
	if resp.WindowStart != nil && *resp.WindowStart != "" {
		start, err := s.parseLocal(*resp.WindowStart)
		if err != nil {
			return nil, fmt.Errorf("window_start: %w", err)
		}

		end := nextMidnight(start)
		if resp.WindowEnd != nil && *resp.WindowEnd != "" {
			if end, err = s.parseLocal(*resp.WindowEnd); err != nil {
				return nil, fmt.Errorf("window_end: %w", err)
			}
		}

		return &booking.Window{Start: start, End: end}, nil
	}

	if resp.Date == nil || *resp.Date == "" {
		return nil, nil
	}

	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(*resp.Date), s.loc)
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}

	if resp.Daypart != nil && *resp.Daypart != "" {
		part, ok := booking.ParseDaypart(*resp.Daypart)
		if !ok {
			return nil, fmt.Errorf("unknown daypart %q", *resp.Daypart)
		}

		w, _ := booking.DaypartWindow(day, part, s.loc)
		return &w, nil
	}

	return &booking.Window{Start: day, End: nextMidnight(day)}, nil
}

// parseLocal accepts the prompt's local layout and falls back to RFC 3339.
func (s *Service) parseLocal(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	if t, err := time.ParseInLocation(localLayout, value, s.loc); err == nil {
		return t, nil
	}

	return time.Parse(time.RFC3339, value)
}

func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}
