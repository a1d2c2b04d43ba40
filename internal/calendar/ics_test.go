package calendar

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memEvents struct {
	mu     sync.Mutex
	events map[string]*model.CalendarEvent
}

func newMemEvents() *memEvents {
	return &memEvents{events: make(map[string]*model.CalendarEvent)}
}

func (m *memEvents) Upsert(_ context.Context, e *model.CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.events[e.UID]; ok {
		e.Sequence = prev.Sequence + 1
	}
	e.UpdatedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := *e
	m.events[e.UID] = &cp
	return nil
}

func (m *memEvents) GetByUID(_ context.Context, uid string) (*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[uid]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memEvents) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.events, uid)
	return nil
}

func (m *memEvents) ListByUser(_ context.Context, userID int64) ([]*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.CalendarEvent
	for _, e := range m.events {
		if e.StudentID == userID || e.ProfessorID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func testBooking() *model.Booking {
	return &model.Booking{
		ID:              7,
		StudentID:       1,
		ProfessorID:     10,
		Title:           "Курсовая работа",
		Description:     "Обсуждение второй главы",
		StartsAt:        time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Location:        "ауд. 301",
		MeetingLink:     "https://meet.example.com/abc",
		Status:          model.BookingStatusRequested,
	}
}

func TestICSCalendar_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMemEvents()
	cal := NewICSCalendar(store, "consult.test", time.UTC, zap.NewNop())

	b := testBooking()
	uid, err := cal.CreateEvent(ctx, b)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uid, "@consult.test"))

	stored, err := store.GetByUID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "TENTATIVE", stored.Status)
	assert.True(t, stored.EndsAt.Equal(b.StartsAt.Add(time.Hour)))

	b.Status = model.BookingStatusConfirmed
	require.NoError(t, cal.UpdateEvent(ctx, uid, b))
	stored, err = store.GetByUID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", stored.Status)
	assert.Equal(t, 1, stored.Sequence)

	require.NoError(t, cal.DeleteEvent(ctx, uid))
	require.NoError(t, cal.DeleteEvent(ctx, uid), "deleting a missing event is not an error")

	stored, err = store.GetByUID(ctx, uid)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestICSCalendar_Feed(t *testing.T) {
	ctx := context.Background()
	store := newMemEvents()
	cal := NewICSCalendar(store, "consult.test", time.UTC, zap.NewNop())

	uid, err := cal.CreateEvent(ctx, testBooking())
	require.NoError(t, err)

	other := testBooking()
	other.ID = 8
	other.StudentID = 2
	other.Title = "Чужая консультация"
	_, err = cal.CreateEvent(ctx, other)
	require.NoError(t, err)

	feed, err := cal.Feed(ctx, 1)
	require.NoError(t, err)

	assert.Contains(t, feed, "BEGIN:VCALENDAR")
	assert.Contains(t, feed, "METHOD:PUBLISH")
	assert.Contains(t, feed, "UID:"+uid)
	assert.Contains(t, feed, "DTSTART:20250303T060000Z")
	assert.Contains(t, feed, "DTEND:20250303T070000Z")
	assert.Contains(t, feed, "STATUS:TENTATIVE")
	assert.NotContains(t, feed, "Чужая консультация")

	professorFeed, err := cal.Feed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(professorFeed, "BEGIN:VEVENT"))
}

func TestEventStatus(t *testing.T) {
	assert.Equal(t, "TENTATIVE", string(eventStatus(model.BookingStatusReschedulePending)))
	assert.Equal(t, "CANCELLED", string(eventStatus(model.BookingStatusCancelled)))
	assert.Equal(t, "CONFIRMED", string(eventStatus(model.BookingStatusCompleted)))
}
