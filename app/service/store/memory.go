package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"meetwise/app/booking"

	"github.com/samber/oops"
)

var _ Store = (*Memory)(nil)

type memoryConversation struct {
	state     *booking.State
	messages  []booking.Message
	updatedAt time.Time
}

// Memory keeps everything in process memory. Used for tests and local runs.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
	now           func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*memoryConversation),
		now:           time.Now,
	}
}

func (m *Memory) LoadState(_ context.Context, conversationID string) (booking.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok || conv.state == nil {
		return booking.State{}, oops.In("store").With("conversation_id", conversationID).Wrap(ErrNotFound)
	}

	return conv.state.Clone(), nil
}

func (m *Memory) SaveState(_ context.Context, st booking.State, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := m.conversation(st.ConversationID)

	var current int64
	if conv.state != nil {
		current = conv.state.Version
	}
	if current != expectedVersion {
		return 0, oops.In("store").
			With("conversation_id", st.ConversationID, "expected_version", expectedVersion, "version", current).
			Wrap(booking.ErrVersionConflict)
	}

	saved := st.Clone()
	saved.Version = expectedVersion + 1
	conv.state = &saved
	conv.updatedAt = m.now()

	return saved.Version, nil
}

func (m *Memory) AppendMessages(_ context.Context, msgs ...booking.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range prepareMessages(msgs) {
		conv := m.conversation(msg.ConversationID)
		conv.messages = append(conv.messages, msg)
		conv.updatedAt = m.now()
	}

	return nil
}

func (m *Memory) History(_ context.Context, conversationID string) ([]booking.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return []booking.Message{}, nil
	}

	return slices.Clone(conv.messages), nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Summary, 0, len(m.conversations))
	for id, conv := range m.conversations {
		summary := Summary{ConversationID: id, UpdatedAt: conv.updatedAt}
		if conv.state != nil {
			summary.Status = conv.state.Draft.Status
			summary.TurnCount = conv.state.TurnCount
		}
		result = append(result, summary)
	}

	slices.SortFunc(result, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (m *Memory) Delete(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conversations, conversationID)
	return nil
}

func (m *Memory) Purge(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for id, conv := range m.conversations {
		if conv.updatedAt.Before(before) {
			delete(m.conversations, id)
			purged++
		}
	}

	return purged, nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

func (m *Memory) Shutdown() error {
	return nil
}

func (m *Memory) conversation(id string) *memoryConversation {
	conv, ok := m.conversations[id]
	if !ok {
		conv = &memoryConversation{}
		m.conversations[id] = conv
	}
	return conv
}
