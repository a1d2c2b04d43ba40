package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

// AvailabilityRepository управляет окнами приёма преподавателей
type AvailabilityRepository struct {
	*base.Repository
}

// NewAvailabilityRepository создаёт новый репозиторий
func NewAvailabilityRepository(db *base.Repository) *AvailabilityRepository {
	return &AvailabilityRepository{Repository: db}
}

const availabilityColumns = `id, professor_id, weekday, on_date, start_minute, end_minute, slot_minutes, created_at`

func scanWindow(row pgx.Row) (*model.AvailabilityWindow, error) {
	var (
		w       model.AvailabilityWindow
		weekday *int16
	)
	err := row.Scan(
		&w.ID,
		&w.ProfessorID,
		&weekday,
		&w.Date,
		&w.StartMinute,
		&w.EndMinute,
		&w.SlotMinutes,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if weekday != nil {
		wd := time.Weekday(*weekday)
		w.Weekday = &wd
	}
	return &w, nil
}

// Create создаёт окно приёма
func (r *AvailabilityRepository) Create(ctx context.Context, w *model.AvailabilityWindow) error {
	query := `
		INSERT INTO availability_windows (professor_id, weekday, on_date, start_minute, end_minute, slot_minutes)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		RETURNING id, created_at
	`

	var weekday *int16
	if w.Weekday != nil {
		wd := int16(*w.Weekday)
		weekday = &wd
	}
	var onDate *string
	if w.Date != nil {
		d := w.Date.Format(time.DateOnly)
		onDate = &d
	}

	err := r.QueryRow(
		ctx, query,
		w.ProfessorID,
		weekday,
		onDate,
		w.StartMinute,
		w.EndMinute,
		w.SlotMinutes,
	).Scan(&w.ID, &w.CreatedAt)

	if err != nil {
		return fmt.Errorf("create availability window: %w", err)
	}

	return nil
}

// GetByID получает окно по ID
func (r *AvailabilityRepository) GetByID(ctx context.Context, id int64) (*model.AvailabilityWindow, error) {
	query := `SELECT ` + availabilityColumns + ` FROM availability_windows WHERE id = $1`

	w, err := scanWindow(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get availability window by id: %w", err)
	}

	return w, nil
}

// ListByProfessor возвращает все окна преподавателя
func (r *AvailabilityRepository) ListByProfessor(ctx context.Context, professorID int64) ([]*model.AvailabilityWindow, error) {
	query := `
		SELECT ` + availabilityColumns + `
		FROM availability_windows
		WHERE professor_id = $1
		ORDER BY weekday NULLS LAST, on_date NULLS FIRST, start_minute
	`

	rows, err := r.Query(ctx, query, professorID)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	defer rows.Close()

	var windows []*model.AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan availability window: %w", err)
		}
		windows = append(windows, w)
	}

	return windows, rows.Err()
}

// Delete удаляет окно преподавателя
func (r *AvailabilityRepository) Delete(ctx context.Context, professorID, id int64) error {
	query := `DELETE FROM availability_windows WHERE id = $1 AND professor_id = $2`

	affected, err := r.ExecAffected(ctx, query, id, professorID)
	if err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("delete availability window: %w", ErrNoRows)
	}

	return nil
}

// LockProfessor сериализует изменения окон одного преподавателя до конца транзакции
func (r *AvailabilityRepository) LockProfessor(ctx context.Context, professorID int64) error {
	_, err := r.Conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, int32(1), int32(professorID))
	if err != nil {
		return fmt.Errorf("lock professor availability: %w", err)
	}
	return nil
}
