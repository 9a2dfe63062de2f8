package mylog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"meetwise/app/config"

	"github.com/stretchr/testify/require"
)

func TestToTelegram(t *testing.T) {
	record := func(level slog.Level, attrs ...slog.Attr) slog.Record {
		r := slog.NewRecord(time.Now(), level, "msg", 0)
		r.AddAttrs(attrs...)
		return r
	}

	require.True(t, toTelegram(context.Background(), record(slog.LevelError)))
	require.True(t, toTelegram(context.Background(), record(slog.LevelInfo, slog.Bool(TelegramKey, true))))
	require.False(t, toTelegram(context.Background(), record(slog.LevelInfo, slog.String("conversation_id", "c1"))))
	require.False(t, toTelegram(context.Background(), record(slog.LevelWarn)))
}

func TestInit_WithoutTelegram(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	require.NoError(t, Init(&config.Config{Log: config.Log{Level: "warn"}}))
	require.NotNil(t, slog.Default())

	require.Error(t, Init(&config.Config{Log: config.Log{Level: "loud"}}))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}
