package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meetwise/app/booking"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

// Event is a booking outcome worth reporting to operators.
type Event struct {
	ConversationID string
	Action         booking.Action
	Reason         string
	Status         booking.Status
	Booking        *booking.Booking
	At             time.Time
}

// Service fans booking outcomes out to the log without blocking turns.
// Events are dropped when the buffer is full.
type Service struct {
	mu     sync.RWMutex
	closed bool
	queue  chan Event
}

func New(_ *do.Injector) (*Service, error) {
	return NewService(), nil
}

func NewService() *Service {
	return &Service{
		queue: make(chan Event, bufferSize),
	}
}

func (s *Service) Publish(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.queue <- event:
	default:
		slog.Warn("notification queue is full",
			"conversation_id", event.ConversationID,
			"action", event.Action,
		)
	}
}

// Run reports events until ctx is done or the service is shut down.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.queue:
			if !ok {
				return
			}
			report(event)
		}
	}
}

func report(event Event) {
	switch {
	case event.Action == booking.ActionConfirmCommitted && event.Reason != booking.ReasonAlreadyCommitted:
		slog.Info("Booking confirmed",
			"conversation_id", event.ConversationID,
			"title", event.Booking.Title,
			"start", event.Booking.Slot.Start,
			"end", event.Booking.Slot.End,
			"event_id", event.Booking.EventID,
			"telegram", true,
		)
	case event.Action == booking.ActionCancelled && event.Booking != nil && event.Booking.EventID != "":
		slog.Info("Booking cancelled",
			"conversation_id", event.ConversationID,
			"title", event.Booking.Title,
			"event_id", event.Booking.EventID,
			"telegram", true,
		)
	case event.Status == booking.StatusFailed:
		slog.Warn("Booking failed",
			"conversation_id", event.ConversationID,
			"reason", event.Reason,
			"telegram", true,
		)
	default:
		slog.Debug("Booking progressed",
			"conversation_id", event.ConversationID,
			"action", event.Action,
			"status", event.Status,
		)
	}
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}

	return nil
}
