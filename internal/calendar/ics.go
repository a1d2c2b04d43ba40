package calendar

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const productID = "-//prof_consult//consultations//RU"

// EventStore хранилище зеркальных событий
type EventStore interface {
	Upsert(ctx context.Context, e *model.CalendarEvent) error
	GetByUID(ctx context.Context, uid string) (*model.CalendarEvent, error)
	Delete(ctx context.Context, uid string) error
	ListByUser(ctx context.Context, userID int64) ([]*model.CalendarEvent, error)
}

// ICSCalendar календарь, публикуемый участникам как ICS-фид
type ICSCalendar struct {
	events EventStore
	domain string
	loc    *time.Location
	logger *zap.Logger
}

func NewICSCalendar(events EventStore, domain string, loc *time.Location, logger *zap.Logger) *ICSCalendar {
	return &ICSCalendar{
		events: events,
		domain: domain,
		loc:    loc,
		logger: logger,
	}
}

// CreateEvent создаёт событие и возвращает его UID
func (c *ICSCalendar) CreateEvent(ctx context.Context, b *model.Booking) (string, error) {
	uid := fmt.Sprintf("%s@%s", uuid.NewString(), c.domain)

	if err := c.events.Upsert(ctx, eventFromBooking(uid, b)); err != nil {
		return "", fmt.Errorf("create calendar event: %w", err)
	}
	return uid, nil
}

// UpdateEvent обновляет событие, создавая его заново, если оно пропало
func (c *ICSCalendar) UpdateEvent(ctx context.Context, uid string, b *model.Booking) error {
	if err := c.events.Upsert(ctx, eventFromBooking(uid, b)); err != nil {
		return fmt.Errorf("update calendar event: %w", err)
	}
	return nil
}

// DeleteEvent удаляет событие; удаление отсутствующего события не ошибка
func (c *ICSCalendar) DeleteEvent(ctx context.Context, uid string) error {
	if err := c.events.Delete(ctx, uid); err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

// Feed собирает ICS-календарь пользователя
func (c *ICSCalendar) Feed(ctx context.Context, userID int64) (string, error) {
	events, err := c.events.ListByUser(ctx, userID)
	if err != nil {
		return "", err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("Консультации")
	cal.SetXWRTimezone(c.loc.String())

	for _, e := range events {
		ev := cal.AddEvent(e.UID)
		ev.SetDtStampTime(e.UpdatedAt)
		ev.SetModifiedAt(e.UpdatedAt)
		ev.SetStartAt(e.StartsAt)
		ev.SetEndAt(e.EndsAt)
		ev.SetSummary(e.Summary)
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.URL != "" {
			ev.SetURL(e.URL)
		}
		ev.SetStatus(ics.ObjectStatus(e.Status))
		ev.SetProperty(ics.ComponentProperty(ics.PropertySequence), strconv.Itoa(e.Sequence))
	}

	return cal.Serialize(), nil
}

func eventFromBooking(uid string, b *model.Booking) *model.CalendarEvent {
	return &model.CalendarEvent{
		UID:         uid,
		BookingID:   b.ID,
		StudentID:   b.StudentID,
		ProfessorID: b.ProfessorID,
		Summary:     b.Title,
		Description: b.Description,
		Location:    b.Location,
		URL:         b.MeetingLink,
		StartsAt:    b.StartsAt,
		EndsAt:      b.Slot().End(),
		Status:      string(eventStatus(b.Status)),
	}
}

// eventStatus статус VEVENT для статуса бронирования
func eventStatus(s model.BookingStatus) ics.ObjectStatus {
	switch s {
	case model.BookingStatusRequested, model.BookingStatusReschedulePending:
		return ics.ObjectStatusTentative
	case model.BookingStatusCancelled:
		return ics.ObjectStatusCancelled
	default:
		return ics.ObjectStatusConfirmed
	}
}
