package conversation

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"meetwise/app/booking"
	"meetwise/app/client/gcal"
	"meetwise/app/config"
	"meetwise/app/service/composer"
	"meetwise/app/service/extractor"
	"meetwise/app/service/notify"
	"meetwise/app/service/store"

	"github.com/samber/do"
	"github.com/samber/oops"
)

// Service runs user turns through extraction, the booking machine, reply
// composition and persistence. Turns of one conversation never overlap.
type Service struct {
	machine        *booking.Machine
	extractor      Extractor
	composer       Composer
	store          store.Store
	notifier       Notifier
	calendar       Pinger
	extractTimeout time.Duration
	storeTimeout   time.Duration
	inflight       *inflight
	now            func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)
	policy := do.MustInvoke[booking.Policy](di)
	calendar := do.MustInvoke[*gcal.Client](di)

	return NewService(
		booking.NewMachine(calendar, policy),
		do.MustInvoke[*extractor.Service](di),
		do.MustInvoke[*composer.Service](di),
		do.MustInvoke[store.Store](di),
		do.MustInvoke[*notify.Service](di),
		Options{
			ExtractTimeout: cfg.Booking.ExtractTimeout,
			StoreTimeout:   cfg.Store.Timeout,
			Calendar:       calendar,
		},
	), nil
}

func NewService(
	machine *booking.Machine,
	extractor Extractor,
	composer Composer,
	store store.Store,
	notifier Notifier,
	opts Options,
) *Service {
	return &Service{
		machine:        machine,
		extractor:      extractor,
		composer:       composer,
		store:          store,
		notifier:       notifier,
		calendar:       opts.Calendar,
		extractTimeout: opts.ExtractTimeout,
		storeTimeout:   opts.StoreTimeout,
		inflight:       newInflight(),
		now:            time.Now,
	}
}

// HandleMessage processes one user message. A second message for a conversation
// whose previous turn is still running fails with booking.ErrBusy.
func (s *Service) HandleMessage(ctx context.Context, conversationID, text string) (*Reply, error) {
	errBuilder := oops.In("conversation").With("conversation_id", conversationID)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errBuilder.Wrap(ErrEmptyMessage)
	}
	if !validConversationID(conversationID) {
		return nil, errBuilder.Wrap(ErrInvalidConversationID)
	}

	if !s.inflight.acquire(conversationID) {
		return nil, errBuilder.Wrap(booking.ErrBusy)
	}
	defer s.inflight.release(conversationID)

	start := time.Now()
	receivedAt := s.now()

	reply, err := s.turn(ctx, conversationID, text, receivedAt)
	if errors.Is(err, booking.ErrVersionConflict) {
		slog.Warn("State changed during turn, replaying",
			"conversation_id", conversationID,
		)
		reply, err = s.turn(ctx, conversationID, text, receivedAt)
	}
	if errors.Is(err, booking.ErrVersionConflict) {
		return s.conflictReply(ctx, conversationID, text, receivedAt), errBuilder.Wrap(err)
	}
	if err != nil {
		return nil, errBuilder.Wrap(err)
	}

	slog.Info("Processed turn",
		"conversation_id", conversationID,
		"status", reply.Status,
		"action", reply.Decision.Action,
		"duration", time.Since(start),
	)

	return reply, nil
}

func (s *Service) turn(ctx context.Context, conversationID, text string, at time.Time) (*Reply, error) {
	st, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	expectedVersion := st.Version

	res := s.decide(ctx, st, text, at)
	if res.Err != nil {
		slog.Error("Turn failed on adapter error",
			"conversation_id", conversationID,
			"status", res.State.Draft.Status,
			"error", res.Err,
		)
	}

	replyText := s.composer.Compose(ctx, res.State, res.Decision, text)

	version, err := s.saveState(ctx, res.State, expectedVersion)
	if err != nil {
		return nil, err
	}
	res.State.Version = version

	repliedAt := s.now()
	s.appendMessages(ctx, conversationID, text, at, replyText, repliedAt)

	s.notifier.Publish(notify.Event{
		ConversationID: conversationID,
		Action:         res.Decision.Action,
		Reason:         res.Decision.Reason,
		Status:         res.State.Draft.Status,
		Booking:        res.Decision.Booking,
		At:             repliedAt,
	})

	return &Reply{
		ConversationID: conversationID,
		Text:           replyText,
		Decision:       res.Decision,
		Status:         res.State.Draft.Status,
		At:             repliedAt,
	}, nil
}

// decide extracts the turn and runs it through the machine. Extraction that
// still fails after its retry fails the booking.
func (s *Service) decide(ctx context.Context, st booking.State, text string, at time.Time) booking.Result {
	var (
		intent booking.Intent
		update booking.Update
	)

	err := booking.Retry(ctx, s.extractTimeout, s.machine.Policy().Retries, func(ctx context.Context) error {
		var err error
		intent, update, err = s.extractor.Extract(ctx, text, st, at)
		return err
	})

	turn := booking.Turn{Intent: intent, Update: update, At: at}
	if err != nil {
		return s.machine.Fail(st, turn, err)
	}

	return s.machine.Transition(ctx, st, turn)
}

func (s *Service) load(ctx context.Context, conversationID string) (booking.State, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	st, err := s.store.LoadState(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return booking.NewState(conversationID), nil
	}

	return st, err
}

func (s *Service) saveState(ctx context.Context, st booking.State, expectedVersion int64) (int64, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return s.store.SaveState(ctx, st, expectedVersion)
}

// storeContext bounds one store call so a stalled backend fails the turn
// instead of holding the conversation.
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// conflictReply answers a turn that lost the state race twice. The failure is
// recorded on the latest state if that state has not moved on again.
func (s *Service) conflictReply(ctx context.Context, conversationID, text string, at time.Time) *Reply {
	st, err := s.load(ctx, conversationID)
	if err != nil {
		st = booking.NewState(conversationID)
	} else {
		res := s.machine.Fail(st, booking.Turn{At: at}, booking.ErrVersionConflict)

		version, err := s.saveState(ctx, res.State, st.Version)
		if err != nil {
			slog.Warn("Failed to record conflict failure",
				"conversation_id", conversationID,
				"error", err,
			)
		} else {
			st = res.State
			st.Version = version
		}
	}

	decision := booking.Decision{Action: booking.ActionErrorOccurred, Reason: booking.ReasonAdapterFailure}
	replyText := s.composer.Compose(ctx, st, decision, text)
	repliedAt := s.now()

	s.appendMessages(ctx, conversationID, text, at, replyText, repliedAt)

	return &Reply{
		ConversationID: conversationID,
		Text:           replyText,
		Decision:       decision,
		Status:         st.Draft.Status,
		At:             repliedAt,
	}
}

func (s *Service) appendMessages(ctx context.Context, conversationID, text string, at time.Time, reply string, repliedAt time.Time) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	err := s.store.AppendMessages(ctx,
		booking.Message{ConversationID: conversationID, Role: booking.RoleUser, Text: text, At: at},
		booking.Message{ConversationID: conversationID, Role: booking.RoleAssistant, Text: reply, At: repliedAt},
	)
	if err != nil {
		slog.Error("Failed to append messages",
			"conversation_id", conversationID,
			"error", err,
		)
	}
}

// History returns the stored transcript, oldest first.
func (s *Service) History(ctx context.Context, conversationID string) ([]booking.Message, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return s.store.History(ctx, conversationID)
}

// State returns the stored machine state, or a fresh one for unknown ids.
func (s *Service) State(ctx context.Context, conversationID string) (booking.State, error) {
	return s.load(ctx, conversationID)
}

// Recent lists the most recently active conversations.
func (s *Service) Recent(ctx context.Context, limit int) ([]store.Summary, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return s.store.Recent(ctx, limit)
}

// Events lists the calendar events the conversation booked, oldest first,
// including ones cancelled afterwards.
func (s *Service) Events(ctx context.Context, conversationID string) ([]Event, error) {
	st, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, oops.In("conversation").With("conversation_id", conversationID).Wrap(err)
	}

	defaultTitle := s.machine.Policy().DefaultTitle

	result := []Event{}
	for _, draft := range append(slices.Clone(st.Previous), st.Draft) {
		if event, ok := bookedEvent(draft, defaultTitle); ok {
			result = append(result, event)
		}
	}

	return result, nil
}

// Clear forgets the conversation's state and transcript. Calendar events it
// booked are left in place.
func (s *Service) Clear(ctx context.Context, conversationID string) error {
	errBuilder := oops.In("conversation").With("conversation_id", conversationID)

	if !validConversationID(conversationID) {
		return errBuilder.Wrap(ErrInvalidConversationID)
	}

	if !s.inflight.acquire(conversationID) {
		return errBuilder.Wrap(booking.ErrBusy)
	}
	defer s.inflight.release(conversationID)

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.store.Delete(ctx, conversationID); err != nil {
		return errBuilder.Wrap(err)
	}

	slog.Info("Cleared conversation",
		"conversation_id", conversationID,
	)

	return nil
}

// PingStore checks that the conversation store answers.
func (s *Service) PingStore(ctx context.Context) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return s.store.Ping(ctx)
}

// Health checks the store and the calendar.
func (s *Service) Health(ctx context.Context) Health {
	var health Health

	health.Store = s.PingStore(ctx)

	if s.calendar != nil {
		ctx, cancel := context.WithTimeout(ctx, s.machine.Policy().CallTimeout)
		defer cancel()

		health.Calendar = s.calendar.Ping(ctx)
	}

	return health
}

func validConversationID(conversationID string) bool {
	return conversationID != "" && len(conversationID) <= maxConversationIDLength
}

func bookedEvent(draft booking.Draft, defaultTitle string) (Event, bool) {
	if draft.Status != booking.StatusCommitted || draft.EventID == "" || draft.ChosenSlot == nil {
		return Event{}, false
	}

	title := defaultTitle
	if draft.Title != nil {
		title = *draft.Title
	}

	return Event{
		EventID:     draft.EventID,
		Title:       title,
		Attendees:   slices.Clone(draft.Attendees),
		Start:       draft.ChosenSlot.Start,
		End:         draft.ChosenSlot.End,
		Cancelled:   draft.CancelledAt != nil,
		CancelledAt: draft.CancelledAt,
	}, true
}
