package booking

import (
	"slices"
	"time"
)

type Status string

const (
	StatusCollecting           Status = "collecting"
	StatusCheckingAvailability Status = "checking_availability"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCommitted            Status = "committed"
	StatusCancelled            Status = "cancelled"
	StatusFailed               Status = "failed"
)

// Terminal reports whether the current booking is finished. Only a new booking
// request leaves a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusCancelled || s == StatusFailed
}

type Intent string

const (
	IntentSchedule          Intent = "schedule"
	IntentQueryAvailability Intent = "query_availability"
	IntentConfirm           Intent = "confirm"
	IntentCancel            Intent = "cancel"
	IntentChitChat          Intent = "chit_chat"
)

// ParseIntent maps a label to an Intent. Unknown labels are chit-chat.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentSchedule, IntentQueryAvailability, IntentConfirm, IntentCancel:
		return Intent(s)
	default:
		return IntentChitChat
	}
}

// Signal is the explicit confirm/cancel/reject marker carried by an update.
type Signal string

const (
	SignalNone      Signal = ""
	SignalConfirm   Signal = "confirm"
	SignalCancel    Signal = "cancel"
	SignalRejectAll Signal = "reject_all"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Field string

const (
	FieldTitle     Field = "title"
	FieldAttendees Field = "attendees"
	FieldWindow    Field = "window"
	FieldDuration  Field = "duration"
	FieldSlot      Field = "slot"
)

// Window is an inclusive range the user wants to meet within.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

func (w Window) Length() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether s lies entirely inside w, bounds included.
func (w Window) Contains(s Slot) bool {
	return !s.Start.Before(w.Start) && !s.End.After(w.End)
}

func (w Window) In(loc *time.Location) Window {
	return Window{Start: w.Start.In(loc), End: w.End.In(loc)}
}

// Slot is a concrete start/end interval considered for booking.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Valid() bool {
	return s.End.After(s.Start)
}

func (s Slot) Length() time.Duration {
	return s.End.Sub(s.Start)
}

func (s Slot) Equal(o Slot) bool {
	return s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

func (s Slot) Window() Window {
	return Window{Start: s.Start, End: s.End}
}

// Draft is what is known so far about the appointment being negotiated.
type Draft struct {
	Title       *string       `json:"title,omitempty"`
	Attendees   []string      `json:"attendees,omitempty"`
	Window      *Window       `json:"window,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	ChosenSlot  *Slot         `json:"chosen_slot,omitempty"`
	Status      Status        `json:"status"`
	EventID     string        `json:"event_id,omitempty"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
}

func (d Draft) clone() Draft {
	c := d
	if d.Title != nil {
		title := *d.Title
		c.Title = &title
	}
	if d.Window != nil {
		w := *d.Window
		c.Window = &w
	}
	if d.ChosenSlot != nil {
		s := *d.ChosenSlot
		c.ChosenSlot = &s
	}
	if d.CancelledAt != nil {
		at := *d.CancelledAt
		c.CancelledAt = &at
	}
	c.Attendees = slices.Clone(d.Attendees)
	return c
}

func (d Draft) booking(defaultTitle string) *Booking {
	b := &Booking{
		Title:     defaultTitle,
		Attendees: slices.Clone(d.Attendees),
		EventID:   d.EventID,
	}
	if d.Title != nil {
		b.Title = *d.Title
	}
	if d.ChosenSlot != nil {
		b.Slot = *d.ChosenSlot
	}
	return b
}

// State is the authoritative per-conversation machine state.
type State struct {
	ConversationID   string  `json:"conversation_id"`
	Draft            Draft   `json:"draft"`
	TurnCount        int     `json:"turn_count"`
	PendingProposals []Slot  `json:"pending_proposals,omitempty"`
	LastIntent       Intent  `json:"last_intent,omitempty"`
	TitleAsked       bool    `json:"title_asked,omitempty"`
	Bookings         int     `json:"bookings"`
	Previous         []Draft `json:"previous,omitempty"`
	Version          int64   `json:"version"`
}

func NewState(conversationID string) State {
	return State{
		ConversationID: conversationID,
		Draft:          Draft{Status: StatusCollecting},
		Bookings:       1,
	}
}

func (s State) Clone() State {
	c := s
	c.Draft = s.Draft.clone()
	c.PendingProposals = slices.Clone(s.PendingProposals)
	if s.Previous != nil {
		c.Previous = make([]Draft, len(s.Previous))
		for i, d := range s.Previous {
			c.Previous[i] = d.clone()
		}
	}
	return c
}

// Message is one immutable conversation turn.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	At             time.Time `json:"at"`
}

// Update is a partial booking change extracted from one user turn. Nil fields are absent.
type Update struct {
	Title     *string        `json:"title,omitempty"`
	Attendees []string       `json:"attendees,omitempty"`
	Window    *Window        `json:"window,omitempty"`
	Duration  *time.Duration `json:"duration,omitempty"`
	Slot      *Slot          `json:"slot,omitempty"`
	Ordinal   *int           `json:"ordinal,omitempty"`
	Signal    Signal         `json:"signal,omitempty"`
}

func (u Update) Empty() bool {
	return u.Title == nil && u.Attendees == nil && u.Window == nil && u.Duration == nil &&
		u.Slot == nil && u.Ordinal == nil && u.Signal == SignalNone
}

// Turn is one inbound user turn after intent extraction.
type Turn struct {
	Intent Intent
	Update Update
	At     time.Time
}

func (t Turn) cancels() bool {
	return t.Intent == IntentCancel || t.Update.Signal == SignalCancel
}

func (t Turn) confirms() bool {
	return t.Intent == IntentConfirm || t.Update.Signal == SignalConfirm
}

func (t Turn) startsBooking() bool {
	return t.Intent == IntentSchedule || t.Intent == IntentQueryAvailability
}

// Conflict is a rejected field change.
type Conflict struct {
	Field  Field  `json:"field"`
	Reason string `json:"reason"`
}

type Action string

const (
	ActionAskField         Action = "ask_field"
	ActionProposeSlots     Action = "propose_slots"
	ActionConfirmCommitted Action = "confirm_committed"
	ActionNoAvailability   Action = "no_availability"
	ActionAskDisambiguate  Action = "ask_disambiguate"
	ActionCancelled        Action = "cancelled"
	ActionErrorOccurred    Action = "error_occurred"
)

const (
	ReasonNoFreeSlot        = "no_free_slot"
	ReasonProposalsRejected = "proposals_rejected"
	ReasonSlotTaken         = "slot_taken"
	ReasonAlreadyCommitted  = "already_committed"
	ReasonAdapterFailure    = "adapter_failure"
)

// Booking summarises a committed (or cancelled) appointment for the reply.
type Booking struct {
	Title     string   `json:"title"`
	Attendees []string `json:"attendees,omitempty"`
	Slot      Slot     `json:"slot"`
	EventID   string   `json:"event_id,omitempty"`
}

// Decision is the structured outcome of a turn. It never carries user-facing text.
type Decision struct {
	Action    Action     `json:"action"`
	Field     Field      `json:"field,omitempty"`
	Proposals []Slot     `json:"proposals,omitempty"`
	Booking   *Booking   `json:"booking,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
