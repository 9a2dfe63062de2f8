package store

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"meetwise/app/booking"
	"meetwise/app/config"

	"github.com/oklog/ulid/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
)

// ErrNotFound means no state was ever saved for the conversation.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversation state and transcripts. SaveState is a
// compare-and-swap on the state version: it fails with
// booking.ErrVersionConflict unless the stored version equals expectedVersion,
// and returns the new version otherwise.
//
// Delete removes the state and transcript of one conversation; deleting an
// unknown conversation is not an error. Ping reports whether the backend is
// reachable.
type Store interface {
	LoadState(ctx context.Context, conversationID string) (booking.State, error)
	SaveState(ctx context.Context, st booking.State, expectedVersion int64) (int64, error)
	AppendMessages(ctx context.Context, msgs ...booking.Message) error
	History(ctx context.Context, conversationID string) ([]booking.Message, error)
	Recent(ctx context.Context, limit int) ([]Summary, error)
	Delete(ctx context.Context, conversationID string) error
	Purge(ctx context.Context, before time.Time) (int, error)
	Ping(ctx context.Context) error
	Shutdown() error
}

// Summary is the listing view of a stored conversation.
type Summary struct {
	ConversationID string         `json:"conversation_id"`
	Status         booking.Status `json:"status"`
	TurnCount      int            `json:"turn_count"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func New(di *do.Injector) (Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.Store.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Store.DSN)
	case "postgres":
		return OpenPostgres(cfg.Store.DSN)
	case "redis":
		return NewRedis(do.MustInvoke[context.Context](di), cfg.Store.Redis)
	default:
		return nil, oops.In("store").With("driver", cfg.Store.Driver).Errorf("unknown store driver")
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a ULID that sorts after every id issued before it for
// the same millisecond.
func NewMessageID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// prepareMessages fills missing ids so callers may append bare messages.
func prepareMessages(msgs []booking.Message) []booking.Message {
	result := make([]booking.Message, len(msgs))
	for i, msg := range msgs {
		if msg.ID == "" {
			msg.ID = NewMessageID(msg.At)
		}
		result[i] = msg
	}
	return result
}
