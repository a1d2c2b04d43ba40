package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

// CalendarTaskRepository outbox задач синхронизации календаря
type CalendarTaskRepository struct {
	*base.Repository
}

func NewCalendarTaskRepository(db *base.Repository) *CalendarTaskRepository {
	return &CalendarTaskRepository{Repository: db}
}

const calendarTaskColumns = `id, booking_id, op, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func scanCalendarTask(row pgx.Row) (*model.CalendarTask, error) {
	var t model.CalendarTask
	err := row.Scan(
		&t.ID,
		&t.BookingID,
		&t.Op,
		&t.Status,
		&t.Attempts,
		&t.LastError,
		&t.NextAttempt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Enqueue ставит задачу синхронизации в очередь
func (r *CalendarTaskRepository) Enqueue(ctx context.Context, t *model.CalendarTask) error {
	query := `
		INSERT INTO calendar_tasks (booking_id, op, status, next_attempt_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	t.Status = model.DeliveryPending
	err := r.QueryRow(ctx, query, t.BookingID, t.Op, t.Status, t.NextAttempt).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)

	if err != nil {
		return fmt.Errorf("enqueue calendar task: %w", err)
	}

	return nil
}

// ClaimDue забирает готовые задачи в порядке постановки
func (r *CalendarTaskRepository) ClaimDue(ctx context.Context, now time.Time, limit int, staleAfter time.Duration) ([]*model.CalendarTask, error) {
	query := `
		UPDATE calendar_tasks
		SET status = 'PROCESSING', attempts = attempts + 1, updated_at = $1
		WHERE id IN (
			SELECT id FROM calendar_tasks
			WHERE (status = 'PENDING' AND next_attempt_at <= $1)
			   OR (status = 'PROCESSING' AND updated_at < $2)
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + calendarTaskColumns

	rows, err := r.Query(ctx, query, now, now.Add(-staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claim calendar tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.CalendarTask
	for rows.Next() {
		t, err := scanCalendarTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING не сохраняет порядок подзапроса
	sortTasks(tasks)
	return tasks, nil
}

func sortTasks(tasks []*model.CalendarTask) {
	slices.SortFunc(tasks, func(a, b *model.CalendarTask) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// Finish переводит задачу в итоговый статус
func (r *CalendarTaskRepository) Finish(ctx context.Context, id int64, status model.DeliveryStatus, lastErr string) error {
	query := `UPDATE calendar_tasks SET status = $1, last_error = $2, updated_at = NOW() WHERE id = $3`

	if _, err := r.ExecAffected(ctx, query, status, lastErr, id); err != nil {
		return fmt.Errorf("finish calendar task: %w", err)
	}
	return nil
}

// MarkRetry возвращает задачу в очередь до nextAttempt
func (r *CalendarTaskRepository) MarkRetry(ctx context.Context, id int64, nextAttempt time.Time, lastErr string) error {
	query := `UPDATE calendar_tasks SET status = 'PENDING', next_attempt_at = $1, last_error = $2, updated_at = NOW() WHERE id = $3`

	if _, err := r.ExecAffected(ctx, query, nextAttempt, lastErr, id); err != nil {
		return fmt.Errorf("mark calendar task retry: %w", err)
	}
	return nil
}

// CalendarEventRepository хранилище зеркальных событий календаря
type CalendarEventRepository struct {
	*base.Repository
}

func NewCalendarEventRepository(db *base.Repository) *CalendarEventRepository {
	return &CalendarEventRepository{Repository: db}
}

const calendarEventColumns = `
	uid, booking_id, student_id, professor_id, summary, description, location, url,
	starts_at, ends_at, status, sequence, updated_at`

// Upsert создаёт событие или обновляет его, увеличивая sequence
func (r *CalendarEventRepository) Upsert(ctx context.Context, e *model.CalendarEvent) error {
	query := `
		INSERT INTO calendar_events (
			uid, booking_id, student_id, professor_id, summary, description, location, url,
			starts_at, ends_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (uid) DO UPDATE
		SET summary = EXCLUDED.summary, description = EXCLUDED.description,
			location = EXCLUDED.location, url = EXCLUDED.url,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
			status = EXCLUDED.status, sequence = calendar_events.sequence + 1, updated_at = NOW()
		RETURNING sequence, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		e.UID,
		e.BookingID,
		e.StudentID,
		e.ProfessorID,
		e.Summary,
		e.Description,
		e.Location,
		e.URL,
		e.StartsAt,
		e.EndsAt,
		e.Status,
	).Scan(&e.Sequence, &e.UpdatedAt)

	if err != nil {
		return fmt.Errorf("upsert calendar event: %w", err)
	}

	return nil
}

// GetByUID получает событие по UID
func (r *CalendarEventRepository) GetByUID(ctx context.Context, uid string) (*model.CalendarEvent, error) {
	query := `SELECT ` + calendarEventColumns + ` FROM calendar_events WHERE uid = $1`

	rows, err := r.Query(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("get calendar event: %w", err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// Delete удаляет событие
func (r *CalendarEventRepository) Delete(ctx context.Context, uid string) error {
	if _, err := r.ExecAffected(ctx, `DELETE FROM calendar_events WHERE uid = $1`, uid); err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

// ListByUser возвращает события, в которых пользователь студент или преподаватель
func (r *CalendarEventRepository) ListByUser(ctx context.Context, userID int64) ([]*model.CalendarEvent, error) {
	query := `
		SELECT ` + calendarEventColumns + `
		FROM calendar_events
		WHERE student_id = $1 OR professor_id = $1
		ORDER BY starts_at
	`

	rows, err := r.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*model.CalendarEvent, error) {
	defer rows.Close()

	var events []*model.CalendarEvent
	for rows.Next() {
		var e model.CalendarEvent
		err := rows.Scan(
			&e.UID,
			&e.BookingID,
			&e.StudentID,
			&e.ProfessorID,
			&e.Summary,
			&e.Description,
			&e.Location,
			&e.URL,
			&e.StartsAt,
			&e.EndsAt,
			&e.Status,
			&e.Sequence,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}
