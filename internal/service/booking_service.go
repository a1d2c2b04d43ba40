package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/lock"
	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxNotesLength   = 4000
	versionRetries   = 3
)

// BookingConfig параметры машины состояний бронирования
type BookingConfig struct {
	MaxAdvance time.Duration // горизонт записи, 0 - без ограничения
	Lock       lock.Options
	Location   *time.Location
}

// CreateBookingInput параметры новой консультации
type CreateBookingInput struct {
	ProfessorID     int64     `json:"professor_id" validate:"required"`
	StudentID       int64     `json:"student_id"` // только для создания администратором
	Title           string    `json:"title" validate:"required,max=200"`
	Description     string    `json:"description" validate:"max=2000"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=15,max=240"` // 0 - длительность из профиля
	Location        string    `json:"location" validate:"max=200"`                          // пусто - кабинет из профиля
	MeetingLink     string    `json:"meeting_link" validate:"omitempty,url,max=500"`
}

// RescheduleInput новое окно бронирования. Zero duration keeps the current one.
type RescheduleInput struct {
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=15,max=240"`
}

type recipientEvent struct {
	event       model.EventType
	recipientID int64
}

// effects побочные эффекты перехода, записываемые в outbox вместе с ним
type effects struct {
	notify   []recipientEvent
	calendar model.CalendarOp
}

// BookingService машина состояний консультации
type BookingService struct {
	tx       Transactor
	users    UserRepository
	bookings BookingRepository
	resolver *ConflictResolver
	locker   lock.Locker
	notifier NotificationQueue
	calendar CalendarQueue
	clock    Clock
	cfg      BookingConfig
	logger   *zap.Logger
}

func NewBookingService(
	tx Transactor,
	users UserRepository,
	bookings BookingRepository,
	resolver *ConflictResolver,
	locker lock.Locker,
	notifier NotificationQueue,
	calendar CalendarQueue,
	clock Clock,
	cfg BookingConfig,
	logger *zap.Logger,
) *BookingService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &BookingService{
		tx:       tx,
		users:    users,
		bookings: bookings,
		resolver: resolver,
		locker:   locker,
		notifier: notifier,
		calendar: calendar,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create создаёт запрос на консультацию от имени студента
func (s *BookingService) Create(ctx context.Context, actor model.Actor, in CreateBookingInput) (*model.Booking, error) {
	if actor.Role != model.RoleStudent {
		return nil, ErrForbidden
	}
	return s.create(ctx, actor, actor.UserID, in, false)
}

// CreateUnchecked создаёт бронирование от имени администратора без проверки окон приёма.
// Overlap and past-slot checks still apply.
func (s *BookingService) CreateUnchecked(ctx context.Context, actor model.Actor, in CreateBookingInput) (*model.Booking, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if in.StudentID == 0 {
		return nil, invalid("student_id", "is required")
	}
	student, err := s.users.GetByID(ctx, in.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	if student == nil || student.Role != model.RoleStudent {
		return nil, invalid("student_id", "student %d not found", in.StudentID)
	}
	return s.create(ctx, actor, in.StudentID, in, true)
}

func (s *BookingService) create(ctx context.Context, actor model.Actor, studentID int64, in CreateBookingInput, override bool) (*model.Booking, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	profile, err := s.resolver.Profile(ctx, in.ProfessorID)
	if err != nil {
		return nil, err
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = profile.DefaultDurationMinutes
	}
	if strings.TrimSpace(in.Location) == "" {
		in.Location = profile.OfficeLocation
	}

	slot := model.Slot{StartsAt: in.StartsAt.In(s.cfg.Location), DurationMinutes: in.DurationMinutes}
	if err := s.validateSlot(slot, profile); err != nil {
		return nil, err
	}

	professor, err := s.users.GetByID(ctx, in.ProfessorID)
	if err != nil {
		return nil, fmt.Errorf("get professor: %w", err)
	}
	if professor == nil || professor.Role != model.RoleProfessor {
		return nil, invalid("professor_id", "professor %d not found", in.ProfessorID)
	}

	release, err := s.lockSlot(ctx, in.ProfessorID, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	booking := &model.Booking{
		StudentID:       studentID,
		ProfessorID:     in.ProfessorID,
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		StartsAt:        slot.StartsAt,
		DurationMinutes: slot.DurationMinutes,
		Location:        in.Location,
		MeetingLink:     in.MeetingLink,
		Status:          model.InitialStatus,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		result, err := s.resolver.Check(ctx, CheckRequest{
			ProfessorID: in.ProfessorID,
			Slot:        slot,
			Override:    override,
		})
		if err != nil {
			return err
		}
		if !result.OK {
			return result.Err()
		}

		if err := s.bookings.Create(ctx, booking); err != nil {
			if errors.Is(err, repository.ErrOverlap) {
				return &ConflictError{Reason: ReasonSlotTaken}
			}
			return err
		}

		return s.record(ctx, actor, booking, model.ActionCreate, "", effects{
			notify: []recipientEvent{
				{model.EventCreated, booking.StudentID},
				{model.EventCreated, booking.ProfessorID},
			},
			calendar: model.CalendarOpCreate,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("student_id", booking.StudentID),
		zap.Int64("professor_id", booking.ProfessorID),
		zap.Time("starts_at", booking.StartsAt),
		zap.Int("duration_minutes", booking.DurationMinutes),
		zap.Bool("override", override),
	)

	return booking, nil
}

// Confirm подтверждение преподавателем
func (s *BookingService) Confirm(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	return s.mutate(ctx, actor, id, model.ActionConfirm, func(ctx context.Context, b *model.Booking) (effects, error) {
		if actor.UserID != b.ProfessorID {
			return effects{}, ErrForbidden
		}
		if err := apply(b, model.ActionConfirm, model.BookingStatusConfirmed); err != nil {
			return effects{}, err
		}
		now := s.clock.Now()
		b.ConfirmedAt = &now

		return effects{
			notify:   []recipientEvent{{model.EventConfirmed, b.StudentID}},
			calendar: model.CalendarOpUpdate,
		}, nil
	})
}

// Cancel отмена студентом, преподавателем или администратором
func (s *BookingService) Cancel(ctx context.Context, actor model.Actor, id int64, reason string) (*model.Booking, error) {
	return s.mutate(ctx, actor, id, model.ActionCancel, func(ctx context.Context, b *model.Booking) (effects, error) {
		if !b.IsParty(actor.UserID) && !actor.IsAdmin() {
			return effects{}, ErrForbidden
		}
		if err := apply(b, model.ActionCancel, model.BookingStatusCancelled); err != nil {
			return effects{}, err
		}
		now := s.clock.Now()
		b.CancelledAt = &now
		b.CancellationReason = strings.TrimSpace(reason)

		return effects{
			notify: []recipientEvent{
				{model.EventCancelled, b.StudentID},
				{model.EventCancelled, b.ProfessorID},
			},
			calendar: model.CalendarOpDelete,
		}, nil
	})
}

// RequestReschedule переносит бронирование в новое окно и ждёт согласия второй стороны.
// The booking holds the new window from this moment on.
func (s *BookingService) RequestReschedule(ctx context.Context, actor model.Actor, id int64, in RescheduleInput) (*model.Booking, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = current.DurationMinutes
	}
	slot := model.Slot{StartsAt: in.StartsAt.In(s.cfg.Location), DurationMinutes: duration}
	profile, err := s.resolver.Profile(ctx, current.ProfessorID)
	if err != nil {
		return nil, err
	}
	if err := s.validateSlot(slot, profile); err != nil {
		return nil, err
	}

	release, err := s.lockSlot(ctx, current.ProfessorID, slot)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.mutate(ctx, actor, id, model.ActionRescheduleRequest, func(ctx context.Context, b *model.Booking) (effects, error) {
		if !b.IsParty(actor.UserID) && !actor.IsAdmin() {
			return effects{}, ErrForbidden
		}
		from := b.Status
		if err := apply(b, model.ActionRescheduleRequest, model.BookingStatusReschedulePending); err != nil {
			return effects{}, err
		}

		result, err := s.resolver.Check(ctx, CheckRequest{
			ProfessorID:      b.ProfessorID,
			Slot:             slot,
			ExcludeBookingID: b.ID,
		})
		if err != nil {
			return effects{}, err
		}
		if !result.OK {
			return effects{}, result.Err()
		}

		requester := actor.UserID
		b.StartsAt = slot.StartsAt
		b.DurationMinutes = slot.DurationMinutes
		b.RescheduleFromStatus = &from
		b.RescheduleRequestedBy = &requester

		var notify []recipientEvent
		if b.IsParty(actor.UserID) {
			notify = []recipientEvent{{model.EventRescheduled, b.Counterparty(actor.UserID)}}
		} else {
			notify = []recipientEvent{
				{model.EventRescheduled, b.StudentID},
				{model.EventRescheduled, b.ProfessorID},
			}
		}
		return effects{notify: notify}, nil
	})
}

// ConfirmReschedule согласие второй стороны на перенос. The booking returns to
// CONFIRMED when it was confirmed before or the professor accepts, otherwise to REQUESTED.
func (s *BookingService) ConfirmReschedule(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	return s.mutate(ctx, actor, id, model.ActionRescheduleConfirm, func(ctx context.Context, b *model.Booking) (effects, error) {
		if !b.IsParty(actor.UserID) && !actor.IsAdmin() {
			return effects{}, ErrForbidden
		}
		if b.Status != model.BookingStatusReschedulePending {
			return effects{}, &InvalidTransitionError{From: b.Status, Action: model.ActionRescheduleConfirm}
		}
		requester := b.StudentID
		if b.RescheduleRequestedBy != nil {
			requester = *b.RescheduleRequestedBy
		}
		if requester == actor.UserID && !actor.IsAdmin() {
			return effects{}, ErrForbidden
		}

		to := model.BookingStatusRequested
		if (b.RescheduleFromStatus != nil && *b.RescheduleFromStatus == model.BookingStatusConfirmed) ||
			actor.UserID == b.ProfessorID {
			to = model.BookingStatusConfirmed
		}
		if err := apply(b, model.ActionRescheduleConfirm, to); err != nil {
			return effects{}, err
		}
		if to == model.BookingStatusConfirmed && b.ConfirmedAt == nil {
			now := s.clock.Now()
			b.ConfirmedAt = &now
		}
		b.RescheduleFromStatus = nil
		b.RescheduleRequestedBy = nil

		var notify []recipientEvent
		if b.IsParty(requester) && requester != actor.UserID {
			notify = []recipientEvent{{model.EventConfirmed, requester}}
		} else {
			notify = []recipientEvent{
				{model.EventConfirmed, b.StudentID},
				{model.EventConfirmed, b.ProfessorID},
			}
		}
		return effects{notify: notify, calendar: model.CalendarOpUpdate}, nil
	})
}

// Complete отмечает консультацию проведённой
func (s *BookingService) Complete(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	return s.mutate(ctx, actor, id, model.ActionComplete, func(ctx context.Context, b *model.Booking) (effects, error) {
		if actor.UserID != b.ProfessorID {
			return effects{}, ErrForbidden
		}
		if err := s.requireStarted(b, model.ActionComplete); err != nil {
			return effects{}, err
		}
		if err := apply(b, model.ActionComplete, model.BookingStatusCompleted); err != nil {
			return effects{}, err
		}
		return effects{}, nil
	})
}

// MarkNoShow отмечает неявку студента
func (s *BookingService) MarkNoShow(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	return s.mutate(ctx, actor, id, model.ActionMarkNoShow, func(ctx context.Context, b *model.Booking) (effects, error) {
		if actor.UserID != b.ProfessorID {
			return effects{}, ErrForbidden
		}
		if err := s.requireStarted(b, model.ActionMarkNoShow); err != nil {
			return effects{}, err
		}
		if err := apply(b, model.ActionMarkNoShow, model.BookingStatusNoShow); err != nil {
			return effects{}, err
		}
		return effects{notify: []recipientEvent{{model.EventNoShow, b.StudentID}}}, nil
	})
}

// Rate оценка проведённой консультации студентом, один раз
func (s *BookingService) Rate(ctx context.Context, actor model.Actor, id int64, rating int, feedback string) (*model.Booking, error) {
	if rating < model.MinRating || rating > model.MaxRating {
		return nil, invalid("rating", "must be between %d and %d", model.MinRating, model.MaxRating)
	}
	if len(feedback) > maxNotesLength {
		return nil, invalid("feedback", "must be at most %d characters", maxNotesLength)
	}

	return s.mutate(ctx, actor, id, model.ActionRate, func(ctx context.Context, b *model.Booking) (effects, error) {
		if actor.UserID != b.StudentID {
			return effects{}, ErrForbidden
		}
		if err := apply(b, model.ActionRate, model.BookingStatusCompleted); err != nil {
			return effects{}, err
		}
		if b.Rating != nil {
			return effects{}, &InvalidTransitionError{From: b.Status, Action: model.ActionRate, Reason: "already rated"}
		}
		b.Rating = &rating
		b.Feedback = strings.TrimSpace(feedback)
		return effects{}, nil
	})
}

// AddNotes дописывает заметки преподавателя
func (s *BookingService) AddNotes(ctx context.Context, actor model.Actor, id int64, notes string) (*model.Booking, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, invalid("notes", "is required")
	}

	return s.mutate(ctx, actor, id, model.ActionAddNotes, func(ctx context.Context, b *model.Booking) (effects, error) {
		if actor.UserID != b.ProfessorID {
			return effects{}, ErrForbidden
		}
		if err := apply(b, model.ActionAddNotes, b.Status); err != nil {
			return effects{}, err
		}
		merged := notes
		if b.Notes != "" {
			merged = b.Notes + "\n\n" + notes
		}
		if len(merged) > maxNotesLength {
			return effects{}, invalid("notes", "must be at most %d characters in total", maxNotesLength)
		}
		b.Notes = merged
		return effects{}, nil
	})
}

// Get возвращает бронирование участнику или администратору
func (s *BookingService) Get(ctx context.Context, actor model.Actor, id int64) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if b == nil {
		return nil, ErrNotFound
	}
	if !b.IsParty(actor.UserID) && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return b, nil
}

// List возвращает бронирования, видимые пользователю
func (s *BookingService) List(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]*model.Booking, error) {
	switch actor.Role {
	case model.RoleStudent:
		f.StudentID = &actor.UserID
	case model.RoleProfessor:
		f.ProfessorID = &actor.UserID
	case model.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, invalid("to", "must be after from")
	}

	return s.bookings.List(ctx, f)
}

// History возвращает историю переходов бронирования
func (s *BookingService) History(ctx context.Context, actor model.Actor, id int64) ([]*model.BookingEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.bookings.ListEvents(ctx, id)
}

// mutate reads the booking, applies fn and writes it back with a version check,
// all in one transaction together with history and outbox entries. A concurrent
// write re-runs the whole step so fn sees the fresh state.
func (s *BookingService) mutate(
	ctx context.Context,
	actor model.Actor,
	id int64,
	action model.Action,
	fn func(ctx context.Context, b *model.Booking) (effects, error),
) (*model.Booking, error) {
	var booking *model.Booking

	backoff := retry.WithMaxRetries(versionRetries, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("get booking: %w", err)
			}
			if b == nil {
				return ErrNotFound
			}

			from := b.Status
			fx, err := fn(ctx, b)
			if err != nil {
				return err
			}

			if err := s.bookings.Update(ctx, b); err != nil {
				if errors.Is(err, repository.ErrOverlap) {
					return &ConflictError{Reason: ReasonSlotTaken}
				}
				return err
			}

			if err := s.record(ctx, actor, b, action, from, fx); err != nil {
				return err
			}
			booking = b
			return nil
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking transition",
		zap.Int64("booking_id", booking.ID),
		zap.String("action", string(action)),
		zap.String("status", string(booking.Status)),
		zap.Int64("actor_id", actor.UserID),
		zap.Int64("professor_id", booking.ProfessorID),
	)

	return booking, nil
}

// record пишет историю и outbox-записи перехода
func (s *BookingService) record(ctx context.Context, actor model.Actor, b *model.Booking, action model.Action, from model.BookingStatus, fx effects) error {
	err := s.bookings.AddEvent(ctx, &model.BookingEvent{
		BookingID:       b.ID,
		Action:          action,
		FromStatus:      from,
		ToStatus:        b.Status,
		ActorID:         actor.UserID,
		StartsAt:        b.StartsAt,
		DurationMinutes: b.DurationMinutes,
	})
	if err != nil {
		return err
	}

	for _, n := range fx.notify {
		if err := s.notifier.Enqueue(ctx, b.ID, n.event, n.recipientID); err != nil {
			return err
		}
	}

	if fx.calendar != "" {
		if err := s.calendar.Schedule(ctx, b.ID, fx.calendar); err != nil {
			return err
		}
	}

	return nil
}

// apply переводит бронирование в to, если таблица переходов это разрешает
func apply(b *model.Booking, action model.Action, to model.BookingStatus) error {
	if !b.Status.Allows(action, to) {
		return &InvalidTransitionError{From: b.Status, Action: action}
	}
	b.Status = to
	return nil
}

func (s *BookingService) requireStarted(b *model.Booking, action model.Action) error {
	if !b.HasStarted(s.clock.Now()) {
		return &InvalidTransitionError{From: b.Status, Action: action, Reason: "scheduled time has not passed"}
	}
	return nil
}

func (s *BookingService) validateSlot(slot model.Slot, profile *model.ProfessorProfile) error {
	if slot.StartsAt.Second() != 0 || slot.StartsAt.Nanosecond() != 0 {
		return invalid("starts_at", "must be on a whole minute")
	}
	if slot.DurationMinutes < model.MinDurationMinutes || slot.DurationMinutes > model.MaxDurationMinutes {
		return invalid("duration_minutes", "must be between %d and %d", model.MinDurationMinutes, model.MaxDurationMinutes)
	}
	if slot.CrossesMidnight() {
		return invalid("duration_minutes", "consultation must end on the day it starts")
	}
	horizon := s.horizon(profile)
	if horizon > 0 && slot.StartsAt.After(s.clock.Now().Add(horizon)) {
		return invalid("starts_at", "must be within %d days", int(horizon.Hours()/24))
	}
	return nil
}

// horizon горизонт записи: из профиля преподавателя, иначе общий
func (s *BookingService) horizon(profile *model.ProfessorProfile) time.Duration {
	if profile != nil && profile.MaxAdvanceDays > 0 {
		return time.Duration(profile.MaxAdvanceDays) * 24 * time.Hour
	}
	return s.cfg.MaxAdvance
}

// lockSlot сериализует проверку и запись для пары (преподаватель, дата)
func (s *BookingService) lockSlot(ctx context.Context, professorID int64, slot model.Slot) (func(), error) {
	key := fmt.Sprintf("booking:%d:%s", professorID, slot.StartsAt.In(s.cfg.Location).Format(time.DateOnly))

	release, err := lock.Acquire(ctx, s.locker, key, s.cfg.Lock)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.logger.Warn("Slot lock not acquired",
				zap.Int64("professor_id", professorID),
				zap.String("key", key),
			)
			return nil, &ConflictError{Reason: ReasonSlotTaken}
		}
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	return release, nil
}
