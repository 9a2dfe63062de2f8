package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Calendar is the availability oracle plus the event operations the machine needs.
//
// CreateEvent must be idempotent on EventRequest.Key and LookupEvent returns the
// id of the live event created under key, or "" when there is none.
type Calendar interface {
	ListBusy(ctx context.Context, w Window) ([]Slot, error)
	LookupEvent(ctx context.Context, key string) (string, error)
	CreateEvent(ctx context.Context, req EventRequest) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

type EventRequest struct {
	// Key identifies one booking attempt: the same conversation, booking number
	// and slot always produce the same key.
	Key            string
	ConversationID string
	Title          string
	Attendees      []string
	Slot           Slot
}

// EventKey is the idempotency key of committing slot for the current booking of st.
func EventKey(st State, slot Slot) string {
	return fmt.Sprintf("%s/%d/%d", st.ConversationID, st.Bookings, slot.Start.Unix())
}

// Result is the outcome of one transition. Err is set when an adapter failure
// drove the decision; it is informational and the state is already final.
type Result struct {
	State    State
	Decision Decision
	Err      error
}

// Machine drives a conversation's booking through its states. It holds no
// per-conversation data; callers serialize turns of the same conversation.
type Machine struct {
	calendar Calendar
	policy   Policy
}

func NewMachine(calendar Calendar, policy Policy) *Machine {
	return &Machine{
		calendar: calendar,
		policy:   policy,
	}
}

func (m *Machine) Policy() Policy {
	return m.policy
}

// Transition applies one user turn to st. Given the same state, turn and calendar
// responses it always yields the same result.
func (m *Machine) Transition(ctx context.Context, st State, turn Turn) Result {
	next := st.Clone()
	next.TurnCount++
	next.LastIntent = turn.Intent

	if next.Draft.Status.Terminal() {
		return m.terminal(ctx, next, turn)
	}

	if turn.cancels() {
		at := turn.At
		next.Draft.Status = StatusCancelled
		next.Draft.CancelledAt = &at
		next.PendingProposals = nil

		return Result{State: next, Decision: Decision{Action: ActionCancelled}}
	}

	if next.Draft.Status == StatusAwaitingConfirmation {
		return m.awaiting(ctx, st, next, turn)
	}

	return m.collecting(ctx, next, turn)
}

// Fail records an unrecoverable failure that happened before the machine could
// run, such as intent extraction giving up. Terminal bookings keep their status.
func (m *Machine) Fail(st State, turn Turn, err error) Result {
	next := st.Clone()
	next.TurnCount++
	next.LastIntent = turn.Intent

	if next.Draft.Status.Terminal() {
		return Result{
			State:    next,
			Decision: Decision{Action: ActionErrorOccurred, Reason: ReasonAdapterFailure},
			Err:      err,
		}
	}

	return m.fail(next, err)
}

func (m *Machine) collecting(ctx context.Context, st State, turn Turn) Result {
	u := turn.Update
	u.Ordinal = nil
	u.Signal = SignalNone

	// An explicit slot while collecting names the range to check, not a pick.
	// Without a known length it only fixes the start, up to the end of that day.
	if u.Slot != nil {
		switch {
		case u.Slot.Valid():
			window := u.Slot.Window()
			u.Window = &window
			if u.Duration == nil && st.Draft.Duration <= 0 {
				u.Duration = durationPtr(u.Slot.Length())
			}
		case !u.Slot.Start.IsZero() && u.Window == nil:
			start := u.Slot.Start
			u.Window = &Window{Start: start, End: startOfDay(start, m.policy.location()).AddDate(0, 0, 1)}
		}
		u.Slot = nil
	}

	st.Draft.Status = StatusCollecting
	st.PendingProposals = nil

	draft, conflicts := Merge(st.Draft, u)
	st.Draft = draft

	if field, ok := missingField(st); ok {
		if field == FieldTitle {
			st.TitleAsked = true
		}

		return Result{
			State:    st,
			Decision: Decision{Action: ActionAskField, Field: field, Conflicts: conflicts},
		}
	}

	return m.checkAvailability(ctx, st, turn.At, conflicts, nil)
}

// checkAvailability is the synchronous CheckingAvailability step. taken, when
// set, is treated as busy regardless of what the oracle reports.
func (m *Machine) checkAvailability(ctx context.Context, st State, at time.Time, conflicts []Conflict, taken *Slot) Result {
	st.Draft.Status = StatusCheckingAvailability
	window := *st.Draft.Window

	busy, err := m.listBusy(ctx, window)
	if err != nil {
		return m.fail(st, err)
	}
	if taken != nil {
		busy = append(busy, *taken)
	}

	proposals := m.policy.Candidates(window, st.Draft.Duration, busy, at)
	if len(proposals) == 0 {
		st.Draft.Status = StatusCollecting
		st.Draft.Window = nil
		st.PendingProposals = nil

		return Result{
			State: st,
			Decision: Decision{
				Action:    ActionNoAvailability,
				Field:     FieldWindow,
				Conflicts: conflicts,
				Reason:    ReasonNoFreeSlot,
			},
		}
	}

	st.Draft.Status = StatusAwaitingConfirmation
	st.PendingProposals = proposals

	return Result{
		State: st,
		Decision: Decision{
			Action:    ActionProposeSlots,
			Proposals: slices.Clone(proposals),
			Conflicts: conflicts,
		},
	}
}

func (m *Machine) awaiting(ctx context.Context, prev, st State, turn Turn) Result {
	u := turn.Update

	// New search criteria restart the search instead of picking.
	if u.Window != nil || u.Duration != nil {
		return m.collecting(ctx, st, turn)
	}

	if u.Signal == SignalRejectAll {
		draft, conflicts := Merge(st.Draft, Update{Title: u.Title, Attendees: u.Attendees})
		st.Draft = draft
		st.Draft.Window = nil
		st.Draft.Status = StatusCollecting
		st.PendingProposals = nil

		return Result{
			State: st,
			Decision: Decision{
				Action:    ActionAskField,
				Field:     FieldWindow,
				Conflicts: conflicts,
				Reason:    ReasonProposalsRejected,
			},
		}
	}

	pick, ok := selectProposal(st.PendingProposals, turn)
	if !ok {
		// Ambiguous: nothing changes except the turn counter.
		unchanged := prev.Clone()
		unchanged.TurnCount++

		return Result{
			State:    unchanged,
			Decision: Decision{Action: ActionAskDisambiguate, Proposals: slices.Clone(prev.PendingProposals)},
		}
	}

	draft, conflicts := Merge(st.Draft, Update{Title: u.Title, Attendees: u.Attendees, Slot: &pick})
	if draft.ChosenSlot == nil || !draft.ChosenSlot.Equal(pick) {
		unchanged := prev.Clone()
		unchanged.TurnCount++

		return Result{
			State: unchanged,
			Decision: Decision{
				Action:    ActionAskDisambiguate,
				Proposals: slices.Clone(prev.PendingProposals),
				Conflicts: conflicts,
			},
		}
	}

	st.Draft = draft
	st.PendingProposals = nil

	return m.commit(ctx, st, turn.At)
}

// selectProposal resolves the user's pick: an ordinal, a restated start time that
// matches exactly one proposal, or a bare confirmation when only one was offered.
func selectProposal(proposals []Slot, turn Turn) (Slot, bool) {
	u := turn.Update

	if u.Ordinal != nil {
		n := *u.Ordinal
		if n >= 1 && n <= len(proposals) {
			return proposals[n-1], true
		}
		return Slot{}, false
	}

	if u.Slot != nil {
		var matches []Slot
		for _, p := range proposals {
			if p.Start.Equal(u.Slot.Start) {
				matches = append(matches, p)
			}
		}
		if len(matches) == 1 {
			return matches[0], true
		}
		return Slot{}, false
	}

	if turn.confirms() && len(proposals) == 1 {
		return proposals[0], true
	}

	return Slot{}, false
}

// commit re-checks the chosen slot and creates the event. A slot taken in the
// meantime sends the draft back through availability with fresh proposals.
// A turn replayed after its event was created finds that event and reuses it.
func (m *Machine) commit(ctx context.Context, st State, at time.Time) Result {
	slot := *st.Draft.ChosenSlot
	booking := st.Draft.booking(m.policy.DefaultTitle)
	req := EventRequest{
		Key:            EventKey(st, slot),
		ConversationID: st.ConversationID,
		Title:          booking.Title,
		Attendees:      booking.Attendees,
		Slot:           slot,
	}

	var existing string
	err := Retry(ctx, m.policy.CallTimeout, m.policy.Retries, func(ctx context.Context) error {
		id, err := m.calendar.LookupEvent(ctx, req.Key)
		existing = id
		return err
	})
	if err != nil {
		return m.fail(st, err)
	}
	if existing != "" {
		return committed(st, booking, existing)
	}

	busy, err := m.listBusy(ctx, slot.Window())
	if err != nil {
		return m.fail(st, err)
	}
	if Overlaps(slot, busy) {
		return m.reschedule(ctx, st, at, slot)
	}

	var eventID string
	err = Retry(ctx, m.policy.CallTimeout, m.policy.Retries, func(ctx context.Context) error {
		id, err := m.calendar.CreateEvent(ctx, req)
		eventID = id
		return err
	})
	if errors.Is(err, ErrSlotConflict) {
		return m.reschedule(ctx, st, at, slot)
	}
	if err != nil {
		return m.fail(st, err)
	}

	return committed(st, booking, eventID)
}

func committed(st State, booking *Booking, eventID string) Result {
	st.Draft.EventID = eventID
	st.Draft.Status = StatusCommitted
	booking.EventID = eventID

	return Result{
		State:    st,
		Decision: Decision{Action: ActionConfirmCommitted, Booking: booking},
	}
}

func (m *Machine) reschedule(ctx context.Context, st State, at time.Time, taken Slot) Result {
	st.Draft.ChosenSlot = nil

	res := m.checkAvailability(ctx, st, at, nil, &taken)
	if res.Decision.Action == ActionProposeSlots {
		res.Decision.Reason = ReasonSlotTaken
	}

	return res
}

func (m *Machine) terminal(ctx context.Context, st State, turn Turn) Result {
	if turn.startsBooking() {
		return m.collecting(ctx, restart(st), turn)
	}

	draft := st.Draft

	switch draft.Status {
	case StatusCommitted:
		if draft.CancelledAt != nil {
			return Result{
				State:    st,
				Decision: Decision{Action: ActionCancelled, Booking: draft.booking(m.policy.DefaultTitle)},
			}
		}
		if turn.cancels() {
			return m.cancelCommitted(ctx, st, turn.At)
		}

		// Re-sent confirmations are acknowledged without touching the calendar.
		return Result{
			State: st,
			Decision: Decision{
				Action:  ActionConfirmCommitted,
				Booking: draft.booking(m.policy.DefaultTitle),
				Reason:  ReasonAlreadyCommitted,
			},
		}
	case StatusCancelled:
		return Result{State: st, Decision: Decision{Action: ActionCancelled}}
	default:
		return Result{State: st, Decision: Decision{Action: ActionErrorOccurred, Reason: ReasonAdapterFailure}}
	}
}

// cancelCommitted removes the calendar event and stamps the draft. The status
// stays Committed; CancelledAt is the only mutation allowed after commit.
func (m *Machine) cancelCommitted(ctx context.Context, st State, at time.Time) Result {
	if st.Draft.EventID != "" {
		err := Retry(ctx, m.policy.CallTimeout, m.policy.Retries, func(ctx context.Context) error {
			return m.calendar.DeleteEvent(ctx, st.Draft.EventID)
		})
		if err != nil {
			return Result{
				State:    st,
				Decision: Decision{Action: ActionErrorOccurred, Reason: ReasonAdapterFailure},
				Err:      err,
			}
		}
	}

	st.Draft.CancelledAt = &at

	return Result{
		State:    st,
		Decision: Decision{Action: ActionCancelled, Booking: st.Draft.booking(m.policy.DefaultTitle)},
	}
}

func (m *Machine) fail(st State, err error) Result {
	st.Draft.Status = StatusFailed
	st.PendingProposals = nil

	return Result{
		State:    st,
		Decision: Decision{Action: ActionErrorOccurred, Reason: ReasonAdapterFailure},
		Err:      err,
	}
}

func (m *Machine) listBusy(ctx context.Context, w Window) ([]Slot, error) {
	var busy []Slot

	err := Retry(ctx, m.policy.CallTimeout, m.policy.Retries, func(ctx context.Context) error {
		result, err := m.calendar.ListBusy(ctx, w)
		busy = result
		return err
	})

	return busy, err
}

// restart archives the finished draft and opens a fresh one under the same id.
func restart(st State) State {
	next := st.Clone()
	next.Previous = append(next.Previous, st.Draft.clone())
	next.Draft = Draft{Status: StatusCollecting}
	next.PendingProposals = nil
	next.TitleAsked = false
	next.Bookings++

	return next
}
