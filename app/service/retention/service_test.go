package retention

import (
	"context"
	"testing"
	"time"

	"meetwise/app/booking"
	"meetwise/app/service/store"

	"github.com/stretchr/testify/require"
)

func TestPurge(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	_, err := mem.SaveState(ctx, booking.NewState("c1"), 0)
	require.NoError(t, err)

	s := NewService(mem, "@hourly", 24*time.Hour)

	purged, err := s.Purge(ctx)
	require.NoError(t, err)
	require.Zero(t, purged)

	s.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	purged, err = s.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = mem.LoadState(ctx, "c1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := NewService(store.NewMemory(), "every now and then", time.Hour)

	require.Error(t, s.Run(context.Background()))
}

func TestRun_StopsWithContext(t *testing.T) {
	s := NewService(store.NewMemory(), "@every 1s", time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
}
