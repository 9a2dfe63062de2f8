package booking

import (
	"slices"
	"sort"
	"time"
)

// Policy holds the process-wide knobs of the state machine.
type Policy struct {
	Location     *time.Location
	Hours        BusinessHours
	MaxProposals int
	CallTimeout  time.Duration
	Retries      int
	DefaultTitle string
}

func DefaultPolicy() Policy {
	return Policy{
		Location:     time.UTC,
		Hours:        BusinessHours{Open: 8 * time.Hour, Close: 20 * time.Hour},
		MaxProposals: 3,
		CallTimeout:  10 * time.Second,
		Retries:      1,
		DefaultTitle: "Meeting",
	}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Candidates derives up to MaxProposals free slots of length d inside w.
//
// Busy intervals are half-open: a slot may start the moment a busy interval
// ends, but must finish strictly before the next one begins. Each free region
// is tiled back-to-back from its start. Slots starting before notBefore are
// skipped. The result is ordered by start; for equal starts the order of busy
// as returned by the oracle is kept.
func (p Policy) Candidates(w Window, d time.Duration, busy []Slot, notBefore time.Time) []Slot {
	if d <= 0 || !w.Valid() {
		return nil
	}

	sorted := slices.Clone(busy)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var result []Slot

	tile := func(from, to time.Time, strict bool) {
		for start := from; ; start = start.Add(d) {
			end := start.Add(d)
			if strict && !end.Before(to) || !strict && end.After(to) {
				return
			}
			if start.Before(notBefore) {
				continue
			}
			result = append(result, Slot{Start: start, End: end})
		}
	}

	for _, piece := range p.Hours.Clip(w, p.location()) {
		cursor := piece.Start

		for _, b := range sorted {
			if !b.End.After(cursor) {
				continue
			}
			if b.Start.After(piece.End) {
				break
			}

			tile(cursor, b.Start, true)
			cursor = b.End

			if !cursor.Before(piece.End) {
				break
			}
		}

		tile(cursor, piece.End, false)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})

	if p.MaxProposals > 0 && len(result) > p.MaxProposals {
		result = result[:p.MaxProposals]
	}

	return result
}

// Overlaps reports whether slot collides with any busy interval, using the same
// boundary rule as Candidates.
func Overlaps(slot Slot, busy []Slot) bool {
	for _, b := range busy {
		if slot.Start.Before(b.End) && !b.Start.After(slot.End) {
			return true
		}
	}
	return false
}
