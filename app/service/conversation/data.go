package conversation

import (
	"context"
	"errors"
	"time"

	"meetwise/app/booking"
	"meetwise/app/service/notify"
)

const maxConversationIDLength = 128

var (
	ErrEmptyMessage          = errors.New("message is empty")
	ErrInvalidConversationID = errors.New("invalid conversation id")
)

// Reply is what the user gets back for one turn.
type Reply struct {
	ConversationID string           `json:"conversation_id"`
	Text           string           `json:"response"`
	Decision       booking.Decision `json:"decision"`
	Status         booking.Status   `json:"status"`
	At             time.Time        `json:"timestamp"`
}

// Event is a calendar event booked by a conversation.
type Event struct {
	EventID     string     `json:"event_id"`
	Title       string     `json:"title"`
	Attendees   []string   `json:"attendees"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Cancelled   bool       `json:"cancelled"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Health holds the failure of each dependency check, nil when it passed.
type Health struct {
	Store    error
	Calendar error
}

func (h Health) OK() bool {
	return h.Store == nil && h.Calendar == nil
}

type Options struct {
	ExtractTimeout time.Duration
	// Bounds each store call of a turn; zero means no bound.
	StoreTimeout time.Duration
	// Checked by Health when set.
	Calendar Pinger
}

type Extractor interface {
	Extract(ctx context.Context, text string, st booking.State, now time.Time) (booking.Intent, booking.Update, error)
}

type Composer interface {
	Compose(ctx context.Context, st booking.State, decision booking.Decision, message string) string
}

type Notifier interface {
	Publish(event notify.Event)
}

type Pinger interface {
	Ping(ctx context.Context) error
}
