package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(db *base.Repository) *BookingRepository {
	return &BookingRepository{Repository: db}
}

const bookingColumns = `
	id, student_id, professor_id, title, description, starts_at, duration_minutes,
	location, meeting_link, status, notes, rating, feedback, cancellation_reason,
	external_event_id, reschedule_from_status, reschedule_requested_by,
	confirmed_at, cancelled_at, reminder_sent_at, version, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		rating *int16
	)
	err := row.Scan(
		&b.ID,
		&b.StudentID,
		&b.ProfessorID,
		&b.Title,
		&b.Description,
		&b.StartsAt,
		&b.DurationMinutes,
		&b.Location,
		&b.MeetingLink,
		&b.Status,
		&b.Notes,
		&rating,
		&b.Feedback,
		&b.CancellationReason,
		&b.ExternalEventID,
		&b.RescheduleFromStatus,
		&b.RescheduleRequestedBy,
		&b.ConfirmedAt,
		&b.CancelledAt,
		&b.ReminderSentAt,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rating != nil {
		v := int(*rating)
		b.Rating = &v
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*model.Booking, error) {
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func occupyingStatuses() []string {
	statuses := model.OccupyingStatuses()
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Create создаёт новое бронирование
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	query := `
		INSERT INTO bookings (
			student_id, professor_id, title, description, starts_at, duration_minutes, ends_at,
			location, meeting_link, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, version, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		b.StudentID,
		b.ProfessorID,
		b.Title,
		b.Description,
		b.StartsAt,
		b.DurationMinutes,
		b.Slot().End(),
		b.Location,
		b.MeetingLink,
		b.Status,
	).Scan(&b.ID, &b.Version, &b.CreatedAt, &b.UpdatedAt)

	if err != nil {
		if base.IsExclusionViolation(err) {
			return fmt.Errorf("create booking: %w", ErrOverlap)
		}
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return b, nil
}

// Update сохраняет изменения бронирования, если его версия не изменилась с момента чтения.
// external_event_id и reminder_sent_at меняются только своими методами.
func (r *BookingRepository) Update(ctx context.Context, b *model.Booking) error {
	query := `
		UPDATE bookings
		SET starts_at = $1, duration_minutes = $2, ends_at = $3, status = $4, notes = $5,
			rating = $6, feedback = $7, cancellation_reason = $8, reschedule_from_status = $9,
			reschedule_requested_by = $10, confirmed_at = $11, cancelled_at = $12,
			title = $13, description = $14, location = $15, meeting_link = $16,
			version = version + 1, updated_at = NOW()
		WHERE id = $17 AND version = $18
		RETURNING version, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		b.StartsAt,
		b.DurationMinutes,
		b.Slot().End(),
		b.Status,
		b.Notes,
		b.Rating,
		b.Feedback,
		b.CancellationReason,
		b.RescheduleFromStatus,
		b.RescheduleRequestedBy,
		b.ConfirmedAt,
		b.CancelledAt,
		b.Title,
		b.Description,
		b.Location,
		b.MeetingLink,
		b.ID,
		b.Version,
	).Scan(&b.Version, &b.UpdatedAt)

	if err != nil {
		switch {
		case base.IsNotFound(err):
			return fmt.Errorf("update booking %d: %w", b.ID, ErrVersionConflict)
		case base.IsExclusionViolation(err):
			return fmt.Errorf("update booking %d: %w", b.ID, ErrOverlap)
		}
		return fmt.Errorf("update booking: %w", err)
	}

	return nil
}

// ListOccupying возвращает бронирования преподавателя, занимающие время внутри интервала
func (r *BookingRepository) ListOccupying(ctx context.Context, professorID int64, within model.Interval) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE professor_id = $1
		  AND status = ANY($2)
		  AND starts_at < $4
		  AND ends_at > $3
		ORDER BY starts_at
	`

	rows, err := r.Query(ctx, query, professorID, occupyingStatuses(), within.Start, within.End)
	if err != nil {
		return nil, fmt.Errorf("list occupying bookings: %w", err)
	}

	return collectBookings(rows)
}

// List возвращает бронирования по фильтру
func (r *BookingRepository) List(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StudentID != nil {
		conds = append(conds, "student_id = "+arg(*f.StudentID))
	}
	if f.ProfessorID != nil {
		conds = append(conds, "professor_id = "+arg(*f.ProfessorID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if f.From != nil {
		conds = append(conds, "starts_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "starts_at < "+arg(*f.To))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY starts_at, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	return collectBookings(rows)
}

// ListDueReminders возвращает подтверждённые бронирования, начинающиеся в [from, to), без отправленного напоминания
func (r *BookingRepository) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = $1
		  AND reminder_sent_at IS NULL
		  AND starts_at >= $2
		  AND starts_at < $3
		ORDER BY starts_at
		LIMIT $4
	`

	rows, err := r.Query(ctx, query, model.BookingStatusConfirmed, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}

	return collectBookings(rows)
}

// MarkReminderSent отмечает напоминание отправленным; false, если его уже отметили
func (r *BookingRepository) MarkReminderSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `UPDATE bookings SET reminder_sent_at = $1 WHERE id = $2 AND reminder_sent_at IS NULL`

	affected, err := r.ExecAffected(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}

	return affected > 0, nil
}

// SetExternalEventID сохраняет ссылку на событие во внешнем календаре
func (r *BookingRepository) SetExternalEventID(ctx context.Context, id int64, eventID *string) error {
	query := `UPDATE bookings SET external_event_id = $1 WHERE id = $2`

	affected, err := r.ExecAffected(ctx, query, eventID, id)
	if err != nil {
		return fmt.Errorf("set external event id: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("set external event id: %w", ErrNoRows)
	}

	return nil
}

// AddEvent добавляет запись в историю бронирования
func (r *BookingRepository) AddEvent(ctx context.Context, e *model.BookingEvent) error {
	query := `
		INSERT INTO booking_events (booking_id, action, from_status, to_status, actor_id, starts_at, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.QueryRow(
		ctx, query,
		e.BookingID,
		e.Action,
		e.FromStatus,
		e.ToStatus,
		e.ActorID,
		e.StartsAt,
		e.DurationMinutes,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("add booking event: %w", err)
	}

	return nil
}

// ListEvents возвращает историю бронирования в хронологическом порядке
func (r *BookingRepository) ListEvents(ctx context.Context, bookingID int64) ([]*model.BookingEvent, error) {
	query := `
		SELECT id, booking_id, action, from_status, to_status, actor_id, starts_at, duration_minutes, created_at
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY id
	`

	rows, err := r.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list booking events: %w", err)
	}
	defer rows.Close()

	var events []*model.BookingEvent
	for rows.Next() {
		var e model.BookingEvent
		err := rows.Scan(
			&e.ID,
			&e.BookingID,
			&e.Action,
			&e.FromStatus,
			&e.ToStatus,
			&e.ActorID,
			&e.StartsAt,
			&e.DurationMinutes,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan booking event: %w", err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}
