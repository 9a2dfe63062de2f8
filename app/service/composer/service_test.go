package composer

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
	output string
	err    error
	calls  int
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
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

func slot(h, m int, d time.Duration) booking.Slot {
	start := time.Date(2026, 10, 16, h, m, 0, 0, time.UTC)
	return booking.Slot{Start: start, End: start.Add(d)}
}

func stateWithTitle(title string) booking.State {
	st := booking.NewState("c1")
	st.Draft.Title = &title
	return st
}

func TestRender(t *testing.T) {
	svc, err := NewService(nil, time.UTC)
	require.NoError(t, err)

	standup := stateWithTitle("Standup")

	cases := []struct {
		name     string
		state    booking.State
		decision booking.Decision
		want     string
	}{
		{
			name:     "ask duration",
			state:    booking.NewState("c1"),
			decision: booking.Decision{Action: booking.ActionAskField, Field: booking.FieldDuration},
			want:     "How long should the meeting be?",
		},
		{
			name:  "ask window after rejection",
			state: standup,
			decision: booking.Decision{
				Action: booking.ActionAskField,
				Field:  booking.FieldWindow,
				Reason: booking.ReasonProposalsRejected,
			},
			want: "No problem, let's look at other times. When would you like to meet? A day and a rough time of day is enough.",
		},
		{
			name:  "ask title with conflict",
			state: booking.NewState("c1"),
			decision: booking.Decision{
				Action:    booking.ActionAskField,
				Field:     booking.FieldTitle,
				Conflicts: []booking.Conflict{{Field: booking.FieldWindow, Reason: "window is shorter than the duration"}},
			},
			want: "I couldn't use that window: window is shorter than the duration. What should I call the meeting?",
		},
		{
			name:  "proposals",
			state: standup,
			decision: booking.Decision{
				Action:    booking.ActionProposeSlots,
				Proposals: []booking.Slot{slot(12, 0, 30*time.Minute), slot(14, 0, 30*time.Minute)},
			},
			want: "These times are free for Standup:\n1. Fri 16 Oct, 12:00-12:30\n2. Fri 16 Oct, 14:00-14:30\nWhich one works for you?",
		},
		{
			name:  "proposals after race",
			state: booking.NewState("c1"),
			decision: booking.Decision{
				Action:    booking.ActionProposeSlots,
				Proposals: []booking.Slot{slot(15, 0, time.Hour)},
				Reason:    booking.ReasonSlotTaken,
			},
			want: "That slot was taken in the meantime. These times are free for your meeting:\n1. Fri 16 Oct, 15:00-16:00\nWhich one works for you?",
		},
		{
			name:  "committed",
			state: standup,
			decision: booking.Decision{
				Action: booking.ActionConfirmCommitted,
				Booking: &booking.Booking{
					Title:     "Standup",
					Attendees: []string{"Alice", "Bob"},
					Slot:      slot(14, 0, 30*time.Minute),
				},
			},
			want: "Booked: Standup on Fri 16 Oct, 14:00-14:30 with Alice, Bob.",
		},
		{
			name:  "already committed",
			state: standup,
			decision: booking.Decision{
				Action:  booking.ActionConfirmCommitted,
				Reason:  booking.ReasonAlreadyCommitted,
				Booking: &booking.Booking{Title: "Standup", Slot: slot(14, 0, 30*time.Minute)},
			},
			want: "This is already booked: Standup on Fri 16 Oct, 14:00-14:30.",
		},
		{
			name:     "no availability",
			state:    standup,
			decision: booking.Decision{Action: booking.ActionNoAvailability, Field: booking.FieldWindow},
			want:     "Nothing is free in that window. Which other day or time should I check?",
		},
		{
			name:  "disambiguate",
			state: standup,
			decision: booking.Decision{
				Action:    booking.ActionAskDisambiguate,
				Proposals: []booking.Slot{slot(12, 0, 30*time.Minute)},
			},
			want: "Sorry, I'm not sure which one you mean.\n1. Fri 16 Oct, 12:00-12:30\nYou can answer with the number.",
		},
		{
			name:     "cancelled draft",
			state:    standup,
			decision: booking.Decision{Action: booking.ActionCancelled},
			want:     "Okay, the booking is cancelled. Just ask if you want to set up another one.",
		},
		{
			name:  "cancelled event",
			state: standup,
			decision: booking.Decision{
				Action:  booking.ActionCancelled,
				Booking: &booking.Booking{Title: "Standup", Slot: slot(14, 0, 30*time.Minute)},
			},
			want: "Cancelled Standup on Fri 16 Oct, 14:00-14:30. Just ask if you want to set up another one.",
		},
		{
			name:     "error",
			state:    standup,
			decision: booking.Decision{Action: booking.ActionErrorOccurred},
			want:     "Sorry, something went wrong on my side and I couldn't finish this booking. Ask me to schedule again whenever you're ready.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Render(tc.state, tc.decision)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRender_UsesLocation(t *testing.T) {
	svc, err := NewService(nil, time.FixedZone("UTC+2", 2*60*60))
	require.NoError(t, err)

	got, err := svc.Render(booking.NewState("c1"), booking.Decision{
		Action:    booking.ActionProposeSlots,
		Proposals: []booking.Slot{slot(12, 0, 30*time.Minute)},
	})
	require.NoError(t, err)
	require.Contains(t, got, "14:00-14:30")
}

func TestRender_UnknownAction(t *testing.T) {
	svc, err := NewService(nil, time.UTC)
	require.NoError(t, err)

	_, err = svc.Render(booking.NewState("c1"), booking.Decision{Action: "dance"})
	require.Error(t, err)
}

func TestCompose_Rephrases(t *testing.T) {
	model := &fakeModel{output: "  Done! Standup is booked.  "}
	svc, err := NewService(model, time.UTC)
	require.NoError(t, err)

	got := svc.Compose(context.Background(), booking.NewState("c1"), booking.Decision{Action: booking.ActionCancelled}, "cancel it")
	require.Equal(t, "Done! Standup is booked.", got)
	require.Equal(t, 1, model.calls)
}

func TestCompose_FallsBackToTemplate(t *testing.T) {
	svc, err := NewService(&fakeModel{err: errors.New("rate limited")}, time.UTC)
	require.NoError(t, err)

	got := svc.Compose(context.Background(), booking.NewState("c1"), booking.Decision{Action: booking.ActionCancelled}, "cancel it")
	require.Equal(t, "Okay, the booking is cancelled. Just ask if you want to set up another one.", got)
}

func TestCompose_WithoutModel(t *testing.T) {
	svc, err := NewService(nil, time.UTC)
	require.NoError(t, err)

	got := svc.Compose(context.Background(), booking.NewState("c1"), booking.Decision{
		Action: booking.ActionAskField,
		Field:  booking.FieldDuration,
	}, "book something")
	require.Equal(t, "How long should the meeting be?", got)
}
