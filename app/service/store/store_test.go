package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetwise/app/booking"
	"meetwise/app/config"

	"github.com/stretchr/testify/require"
)

type clock struct {
	at time.Time
}

func (c *clock) now() time.Time {
	return c.at
}

type factory func(t *testing.T, now func() time.Time) Store

func backends(t *testing.T) map[string]factory {
	result := map[string]factory{
		"memory": func(t *testing.T, now func() time.Time) Store {
			s := NewMemory()
			s.now = now
			return s
		},
		"sqlite": func(t *testing.T, now func() time.Time) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "meetwise.db"))
			require.NoError(t, err)
			s.now = now
			t.Cleanup(func() { _ = s.Shutdown() })
			return s
		},
	}

	// Shared servers are only used when explicitly provided; the suite purges everything.
	if dsn := os.Getenv("MEETWISE_TEST_POSTGRES_DSN"); dsn != "" {
		result["postgres"] = func(t *testing.T, now func() time.Time) Store {
			s, err := OpenPostgres(dsn)
			require.NoError(t, err)
			_, err = s.Purge(context.Background(), time.Now().AddDate(100, 0, 0))
			require.NoError(t, err)
			s.now = now
			t.Cleanup(func() { _ = s.Shutdown() })
			return s
		}
	}
	if addr := os.Getenv("MEETWISE_TEST_REDIS_ADDR"); addr != "" {
		result["redis"] = func(t *testing.T, now func() time.Time) Store {
			s, err := NewRedis(context.Background(), config.Redis{Addr: addr, DB: 15})
			require.NoError(t, err)
			require.NoError(t, s.client.FlushDB(context.Background()).Err())
			s.now = now
			t.Cleanup(func() { _ = s.Shutdown() })
			return s
		}
	}

	return result
}

func TestStore(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("state compare and swap", func(t *testing.T) {
				testStateCAS(t, newStore)
			})
			t.Run("history", func(t *testing.T) {
				testHistory(t, newStore)
			})
			t.Run("recent", func(t *testing.T) {
				testRecent(t, newStore)
			})
			t.Run("purge", func(t *testing.T) {
				testPurge(t, newStore)
			})
			t.Run("delete", func(t *testing.T) {
				testDelete(t, newStore)
			})
		})
	}
}

func testState(id string) booking.State {
	title := "Standup"
	st := booking.NewState(id)
	st.Draft.Title = &title
	st.Draft.Attendees = []string{"alice"}
	st.Draft.Duration = 30 * time.Minute
	st.Draft.Window = &booking.Window{
		Start: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 16, 17, 0, 0, 0, time.UTC),
	}
	st.TurnCount = 2
	return st
}

func testStateCAS(t *testing.T, newStore factory) {
	ctx := context.Background()
	c := &clock{at: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	s := newStore(t, c.now)

	_, err := s.LoadState(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)

	version, err := s.SaveState(ctx, testState("c1"), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	loaded, err := s.LoadState(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, "Standup", *loaded.Draft.Title)
	require.Equal(t, []string{"alice"}, loaded.Draft.Attendees)
	require.Equal(t, 30*time.Minute, loaded.Draft.Duration)
	require.True(t, loaded.Draft.Window.Start.Equal(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, booking.StatusCollecting, loaded.Draft.Status)

	_, err = s.SaveState(ctx, testState("c1"), 0)
	require.ErrorIs(t, err, booking.ErrVersionConflict)

	loaded.TurnCount++
	version, err = s.SaveState(ctx, loaded, loaded.Version)
	require.NoError(t, err)
	require.Equal(t, int64(2), version)

	_, err = s.SaveState(ctx, loaded, 1)
	require.ErrorIs(t, err, booking.ErrVersionConflict)

	loaded, err = s.LoadState(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 3, loaded.TurnCount)
}

func testHistory(t *testing.T, newStore factory) {
	ctx := context.Background()
	c := &clock{at: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	s := newStore(t, c.now)

	history, err := s.History(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, history)

	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendMessages(ctx,
		booking.Message{ConversationID: "c1", Role: booking.RoleUser, Text: "hi", At: at},
		booking.Message{ConversationID: "c1", Role: booking.RoleAssistant, Text: "how long?", At: at},
	))
	require.NoError(t, s.AppendMessages(ctx,
		booking.Message{ConversationID: "c1", Role: booking.RoleUser, Text: "30 minutes", At: at.Add(time.Minute)},
	))
	require.NoError(t, s.AppendMessages(ctx,
		booking.Message{ConversationID: "c2", Role: booking.RoleUser, Text: "other", At: at},
	))

	history, err = s.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "hi", history[0].Text)
	require.Equal(t, booking.RoleAssistant, history[1].Role)
	require.Equal(t, "30 minutes", history[2].Text)
	require.True(t, history[2].At.Equal(at.Add(time.Minute)))
	for _, msg := range history {
		require.NotEmpty(t, msg.ID)
		require.Equal(t, "c1", msg.ConversationID)
	}

	// Messages alone do not create a state.
	_, err = s.LoadState(ctx, "c2")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.SaveState(ctx, testState("c2"), 0)
	require.NoError(t, err)
}

func testRecent(t *testing.T, newStore factory) {
	ctx := context.Background()
	c := &clock{at: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	s := newStore(t, c.now)

	_, err := s.SaveState(ctx, testState("old"), 0)
	require.NoError(t, err)

	c.at = c.at.Add(time.Minute)
	_, err = s.SaveState(ctx, testState("new"), 0)
	require.NoError(t, err)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "new", recent[0].ConversationID)
	require.Equal(t, booking.StatusCollecting, recent[0].Status)
	require.Equal(t, 2, recent[0].TurnCount)
	require.True(t, recent[0].UpdatedAt.Equal(c.at))
	require.Equal(t, "old", recent[1].ConversationID)

	recent, err = s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "new", recent[0].ConversationID)
}

func testPurge(t *testing.T, newStore factory) {
	ctx := context.Background()
	start := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c := &clock{at: start}
	s := newStore(t, c.now)

	_, err := s.SaveState(ctx, testState("stale"), 0)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessages(ctx, booking.Message{ConversationID: "stale", Role: booking.RoleUser, Text: "hi", At: start}))

	c.at = start.Add(48 * time.Hour)
	_, err = s.SaveState(ctx, testState("fresh"), 0)
	require.NoError(t, err)

	purged, err := s.Purge(ctx, start)
	require.NoError(t, err)
	require.Equal(t, 0, purged)

	purged, err = s.Purge(ctx, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = s.LoadState(ctx, "stale")
	require.ErrorIs(t, err, ErrNotFound)

	history, err := s.History(ctx, "stale")
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = s.LoadState(ctx, "fresh")
	require.NoError(t, err)
}

func testDelete(t *testing.T, newStore factory) {
	ctx := context.Background()
	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	s := newStore(t, (&clock{at: at}).now)

	require.NoError(t, s.Ping(ctx))

	for _, id := range []string{"gone", "kept"} {
		_, err := s.SaveState(ctx, testState(id), 0)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessages(ctx, booking.Message{ConversationID: id, Role: booking.RoleUser, Text: "hi", At: at}))
	}

	require.NoError(t, s.Delete(ctx, "gone"))
	require.NoError(t, s.Delete(ctx, "never-existed"))

	_, err := s.LoadState(ctx, "gone")
	require.ErrorIs(t, err, ErrNotFound)

	history, err := s.History(ctx, "gone")
	require.NoError(t, err)
	require.Empty(t, history)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "kept", recent[0].ConversationID)

	// A cleared conversation starts over from version zero.
	version, err := s.SaveState(ctx, testState("gone"), 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
}

func TestSQLPing_Closed(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "meetwise.db"))
	require.NoError(t, err)
	require.NoError(t, s.Shutdown())

	require.Error(t, s.Ping(context.Background()))
}

func TestOpenSQLite_Migrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetwise.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	version, err := s.SchemaVersion()
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
	require.NoError(t, s.Shutdown())

	// Reopening must not re-run migrations.
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Shutdown()

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	require.Equal(t, 1, count)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)
}

func TestRebind(t *testing.T) {
	s := &SQL{dialect: dialectPostgres}
	require.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", s.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	s.dialect = dialectSQLite
	require.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestNewMessageID_Ordered(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	first := NewMessageID(at)
	second := NewMessageID(at)
	require.Less(t, first, second)
}
