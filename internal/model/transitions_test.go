package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStatus_Allows(t *testing.T) {
	tests := []struct {
		from   BookingStatus
		action Action
		to     BookingStatus
		want   bool
	}{
		{BookingStatusRequested, ActionConfirm, BookingStatusConfirmed, true},
		{BookingStatusRequested, ActionCancel, BookingStatusCancelled, true},
		{BookingStatusRequested, ActionComplete, BookingStatusCompleted, false},
		{BookingStatusConfirmed, ActionComplete, BookingStatusCompleted, true},
		{BookingStatusConfirmed, ActionMarkNoShow, BookingStatusNoShow, true},
		{BookingStatusConfirmed, ActionConfirm, BookingStatusConfirmed, false},
		{BookingStatusReschedulePending, ActionRescheduleConfirm, BookingStatusConfirmed, true},
		{BookingStatusReschedulePending, ActionRescheduleConfirm, BookingStatusRequested, true},
		{BookingStatusReschedulePending, ActionRescheduleConfirm, BookingStatusCompleted, false},
		{BookingStatusReschedulePending, ActionCancel, BookingStatusCancelled, false},
		{BookingStatusCompleted, ActionRate, BookingStatusCompleted, true},
		{BookingStatusCompleted, ActionCancel, BookingStatusCancelled, false},
		{BookingStatusCancelled, ActionAddNotes, BookingStatusCancelled, false},
		{BookingStatusNoShow, ActionRate, BookingStatusNoShow, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Allows(tt.action, tt.to))
		})
	}
}

func TestBookingStatus_TerminalStatesHaveNoStatusChange(t *testing.T) {
	for _, s := range AllStatuses() {
		if !s.IsTerminal() {
			continue
		}
		for action, targets := range transitionTable[s] {
			for _, to := range targets {
				assert.Equal(t, s, to, "%s must not leave %s", action, s)
			}
		}
	}
}

func TestBookingStatus_Occupies(t *testing.T) {
	assert.ElementsMatch(t, []BookingStatus{
		BookingStatusRequested,
		BookingStatusConfirmed,
		BookingStatusReschedulePending,
		BookingStatusCompleted,
	}, OccupyingStatuses())

	assert.False(t, BookingStatusCancelled.Occupies())
	assert.False(t, BookingStatusNoShow.Occupies())
}

func TestParseBookingStatus(t *testing.T) {
	s, err := ParseBookingStatus("CONFIRMED")
	require.NoError(t, err)
	assert.Equal(t, BookingStatusConfirmed, s)

	_, err = ParseBookingStatus("confirmed")
	assert.Error(t, err)
}

func TestEventType_StillRelevant(t *testing.T) {
	assert.True(t, EventCancelled.StillRelevant(BookingStatusCancelled))
	assert.False(t, EventCreated.StillRelevant(BookingStatusCancelled))
	assert.True(t, EventReminder.StillRelevant(BookingStatusConfirmed))
	assert.False(t, EventReminder.StillRelevant(BookingStatusRequested))
	assert.True(t, EventNoShow.StillRelevant(BookingStatusNoShow))
}
