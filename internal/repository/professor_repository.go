package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
)

type ProfessorProfileRepository struct {
	*base.Repository
}

func NewProfessorProfileRepository(db *base.Repository) *ProfessorProfileRepository {
	return &ProfessorProfileRepository{Repository: db}
}

// Get возвращает профиль преподавателя или nil, если он не сохранялся
func (r *ProfessorProfileRepository) Get(ctx context.Context, professorID int64) (*model.ProfessorProfile, error) {
	query := `
		SELECT professor_id, title, department, office_location, default_duration_minutes,
			max_advance_days, buffer_minutes, updated_at
		FROM professor_profiles
		WHERE professor_id = $1
	`

	var p model.ProfessorProfile
	err := r.QueryRow(ctx, query, professorID).Scan(
		&p.ProfessorID,
		&p.Title,
		&p.Department,
		&p.OfficeLocation,
		&p.DefaultDurationMinutes,
		&p.MaxAdvanceDays,
		&p.BufferMinutes,
		&p.UpdatedAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get professor profile: %w", err)
	}

	return &p, nil
}

// Upsert создаёт или заменяет профиль преподавателя
func (r *ProfessorProfileRepository) Upsert(ctx context.Context, p *model.ProfessorProfile) error {
	query := `
		INSERT INTO professor_profiles (
			professor_id, title, department, office_location, default_duration_minutes,
			max_advance_days, buffer_minutes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (professor_id) DO UPDATE
		SET title = EXCLUDED.title,
			department = EXCLUDED.department,
			office_location = EXCLUDED.office_location,
			default_duration_minutes = EXCLUDED.default_duration_minutes,
			max_advance_days = EXCLUDED.max_advance_days,
			buffer_minutes = EXCLUDED.buffer_minutes,
			updated_at = NOW()
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		p.ProfessorID,
		p.Title,
		p.Department,
		p.OfficeLocation,
		p.DefaultDurationMinutes,
		p.MaxAdvanceDays,
		p.BufferMinutes,
	).Scan(&p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("upsert professor profile: %w", err)
	}

	return nil
}
