package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"meetwise/app/booking"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	output  string
	err     error
	prompts []string
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.output}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

var (
	berlin = time.FixedZone("CEST", 2*60*60)
	now    = time.Date(2026, 10, 15, 9, 0, 0, 0, berlin)
)

func local(day, h, m int) time.Time {
	return time.Date(2026, 10, day, h, m, 0, 0, berlin)
}

func TestExtract_ScheduleWithDaypart(t *testing.T) {
	model := &fakeModel{output: "```json\n" + `{
		"intent": "schedule",
		"title": null,
		"attendees": ["Alice", " "],
		"duration_minutes": 30,
		"date": "2026-10-16",
		"daypart": "afternoon",
		"window_start": null,
		"window_end": null,
		"slot_start": null,
		"ordinal": null,
		"signal": null
	}` + "\n```"}
	svc := NewService(model, berlin)

	intent, u, err := svc.Extract(context.Background(), "schedule a 30-minute call with Alice tomorrow afternoon",
		booking.NewState("c1"), now)
	require.NoError(t, err)
	require.Equal(t, booking.IntentSchedule, intent)
	require.Nil(t, u.Title)
	require.Equal(t, []string{"Alice"}, u.Attendees)
	require.Equal(t, 30*time.Minute, *u.Duration)
	require.True(t, u.Window.Start.Equal(local(16, 12, 0)))
	require.True(t, u.Window.End.Equal(local(16, 17, 0)))
	require.Nil(t, u.Slot)
	require.Equal(t, booking.SignalNone, u.Signal)

	require.Len(t, model.prompts, 1)
	require.Contains(t, model.prompts[0], "Thursday, 2026-10-15T09:00")
	require.Contains(t, model.prompts[0], "schedule a 30-minute call with Alice tomorrow afternoon")
}

func TestExtract_Selection(t *testing.T) {
	st := booking.NewState("c1")
	st.Draft.Status = booking.StatusAwaitingConfirmation
	st.Draft.Duration = 30 * time.Minute
	st.PendingProposals = []booking.Slot{
		{Start: local(16, 12, 0), End: local(16, 12, 30)},
		{Start: local(16, 14, 0), End: local(16, 14, 30)},
	}

	model := &fakeModel{output: `{"intent": "confirm", "ordinal": 2, "signal": "confirm"}`}
	svc := NewService(model, berlin)

	intent, u, err := svc.Extract(context.Background(), "the second one", st, now)
	require.NoError(t, err)
	require.Equal(t, booking.IntentConfirm, intent)
	require.Equal(t, 2, *u.Ordinal)
	require.Equal(t, booking.SignalConfirm, u.Signal)
	require.Contains(t, model.prompts[0], "2. 2026-10-16T14:00 to 14:30")
	require.Contains(t, model.prompts[0], "- duration: 30 minutes")
}

func TestExtract_SlotStartUsesKnownDuration(t *testing.T) {
	st := booking.NewState("c1")
	st.Draft.Duration = 45 * time.Minute

	svc := NewService(&fakeModel{output: `{"intent": "schedule", "slot_start": "2026-10-16T15:00"}`}, berlin)

	_, u, err := svc.Extract(context.Background(), "3pm tomorrow", st, now)
	require.NoError(t, err)
	require.True(t, u.Slot.Start.Equal(local(16, 15, 0)))
	require.Equal(t, 45*time.Minute, u.Slot.Length())
}

func TestExtract_Windows(t *testing.T) {
	cases := []struct {
		name   string
		output string
		start  time.Time
		end    time.Time
	}{
		{
			name:   "explicit range",
			output: `{"intent": "schedule", "window_start": "2026-10-16T09:30", "window_end": "2026-10-16T11:00"}`,
			start:  local(16, 9, 30),
			end:    local(16, 11, 0),
		},
		{
			name:   "open range",
			output: `{"intent": "schedule", "window_start": "2026-10-16T15:00"}`,
			start:  local(16, 15, 0),
			end:    local(17, 0, 0),
		},
		{
			name:   "whole day",
			output: `{"intent": "query_availability", "date": "2026-10-20"}`,
			start:  local(20, 0, 0),
			end:    local(21, 0, 0),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&fakeModel{output: tc.output}, berlin)

			_, u, err := svc.Extract(context.Background(), "text", booking.NewState("c1"), now)
			require.NoError(t, err)
			require.NotNil(t, u.Window)
			require.True(t, u.Window.Start.Equal(tc.start), u.Window.Start)
			require.True(t, u.Window.End.Equal(tc.end), u.Window.End)
		})
	}
}

func TestExtract_UnknownValuesAreIgnored(t *testing.T) {
	svc := NewService(&fakeModel{output: `{"intent": "smalltalk", "title": "  ", "signal": "maybe"}`}, berlin)

	intent, u, err := svc.Extract(context.Background(), "hello", booking.NewState("c1"), now)
	require.NoError(t, err)
	require.Equal(t, booking.IntentChitChat, intent)
	require.True(t, u.Empty())
}

func TestExtract_Failures(t *testing.T) {
	cases := map[string]*fakeModel{
		"model error":   {err: errors.New("connection reset")},
		"not json":      {output: "I think you want a meeting"},
		"bad date":      {output: `{"intent": "schedule", "date": "tomorrow"}`},
		"bad daypart":   {output: `{"intent": "schedule", "date": "2026-10-16", "daypart": "night"}`},
		"bad slot time": {output: `{"intent": "confirm", "slot_start": "3pm"}`},
	}

	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			svc := NewService(model, berlin)

			_, _, err := svc.Extract(context.Background(), "text", booking.NewState("c1"), now)
			require.ErrorIs(t, err, booking.ErrExtraction)
			require.True(t, booking.IsTransient(err))
		})
	}
}

func TestPrompt_EmptyState(t *testing.T) {
	svc := NewService(&fakeModel{}, berlin)

	prompt := svc.prompt("hi", booking.NewState("c1"), now)
	require.Contains(t, prompt, "Known so far:\nnone\n")
	require.Contains(t, prompt, "Slots offered to the user:\nnone\n")
	require.Contains(t, prompt, "Booking status: collecting")
	require.NotContains(t, prompt, "{message}")
}
