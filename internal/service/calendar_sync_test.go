package service

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarSync_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addMondayWindow(t)

	b := e.book(t, student, monday(9, 0), 60)
	n, err := e.calendar.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := e.bookingRepo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalEventID)
	uid := *stored.ExternalEventID
	assert.Equal(t, model.BookingStatusRequested, e.adapter.events[uid])

	_, err = e.bookings.Confirm(ctx, professor, b.ID)
	require.NoError(t, err)
	_, err = e.calendar.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.adapter.updated)
	assert.Equal(t, model.BookingStatusConfirmed, e.adapter.events[uid])

	// the version bump from Confirm must not drop the external id
	stored, err = e.bookingRepo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalEventID)

	_, err = e.bookings.Cancel(ctx, student, b.ID, "")
	require.NoError(t, err)
	_, err = e.calendar.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.adapter.deleted)
	assert.Empty(t, e.adapter.events)

	stored, err = e.bookingRepo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ExternalEventID)

	for _, task := range e.tasks.all() {
		assert.Equal(t, model.DeliverySent, task.Status)
	}
}

func TestCalendarSync_CancelledBeforeSync(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addMondayWindow(t)

	b := e.book(t, student, monday(9, 0), 60)
	_, err := e.bookings.Cancel(ctx, student, b.ID, "")
	require.NoError(t, err)

	n, err := e.calendar.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Zero(t, e.adapter.created)
	assert.Zero(t, e.adapter.deleted)

	tasks := e.tasks.all()
	assert.Equal(t, model.DeliverySkipped, tasks[0].Status)
	assert.Equal(t, model.DeliverySent, tasks[1].Status)
}

func TestCalendarSync_FailureDoesNotTouchBooking(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addMondayWindow(t)

	b := e.book(t, student, monday(9, 0), 60)
	e.adapter.fails = 100

	for range 3 {
		_, err := e.calendar.ProcessBatch(ctx)
		require.NoError(t, err)
		e.clock.Advance(time.Hour)
	}

	task := e.tasks.all()[0]
	assert.Equal(t, model.DeliveryFailed, task.Status)
	assert.Contains(t, task.LastError, "503")

	stored, err := e.bookings.Get(ctx, student, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusRequested, stored.Status)
	assert.Nil(t, stored.ExternalEventID)
}

func TestCalendarSync_RetrySucceeds(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addMondayWindow(t)

	e.book(t, student, monday(9, 0), 60)
	e.adapter.fails = 1

	_, err := e.calendar.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPending, e.tasks.all()[0].Status)

	e.clock.Advance(time.Minute)
	_, err = e.calendar.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, e.tasks.all()[0].Status)
	assert.Equal(t, 1, e.adapter.created)
}
