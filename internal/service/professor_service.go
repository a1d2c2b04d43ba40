package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"go.uber.org/zap"
)

// ProfessorService справочник преподавателей и их расписание
type ProfessorService struct {
	users        UserRepository
	profiles     ProfileRepository
	availability *AvailabilityStore
	logger       *zap.Logger
}

func NewProfessorService(
	users UserRepository,
	profiles ProfileRepository,
	availability *AvailabilityStore,
	logger *zap.Logger,
) *ProfessorService {
	return &ProfessorService{
		users:        users,
		profiles:     profiles,
		availability: availability,
		logger:       logger,
	}
}

// ListProfessors возвращает всех преподавателей
func (s *ProfessorService) ListProfessors(ctx context.Context) ([]*model.User, error) {
	return s.users.ListByRole(ctx, model.RoleProfessor)
}

// GetProfessor возвращает преподавателя по ID
func (s *ProfessorService) GetProfessor(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get professor: %w", err)
	}
	if user == nil || user.Role != model.RoleProfessor {
		return nil, ErrNotFound
	}
	return user, nil
}

// ProfileInput изменяемые поля профиля преподавателя
type ProfileInput struct {
	Title                  string `json:"title" validate:"max=100"`
	Department             string `json:"department" validate:"max=200"`
	OfficeLocation         string `json:"office_location" validate:"max=200"`
	DefaultDurationMinutes int    `json:"default_duration_minutes" validate:"min=15,max=240"`
	MaxAdvanceDays         int    `json:"max_advance_days" validate:"min=0,max=365"`
	BufferMinutes          int    `json:"buffer_minutes" validate:"min=0,max=120"`
}

// ProfessorCard преподаватель вместе с профилем
type ProfessorCard struct {
	*model.User
	Profile *model.ProfessorProfile `json:"profile"`
}

// GetProfile возвращает преподавателя и его профиль
func (s *ProfessorService) GetProfile(ctx context.Context, professorID int64) (*ProfessorCard, error) {
	user, err := s.GetProfessor(ctx, professorID)
	if err != nil {
		return nil, err
	}
	profile, err := s.availability.Profile(ctx, professorID)
	if err != nil {
		return nil, err
	}
	return &ProfessorCard{User: user, Profile: profile}, nil
}

// UpdateProfile заменяет профиль. Professors edit their own profile, admins any.
func (s *ProfessorService) UpdateProfile(ctx context.Context, actor model.Actor, professorID int64, in ProfileInput) (*model.ProfessorProfile, error) {
	if !actor.IsAdmin() && (actor.Role != model.RoleProfessor || actor.UserID != professorID) {
		return nil, ErrForbidden
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if _, err := s.GetProfessor(ctx, professorID); err != nil {
		return nil, err
	}

	profile := &model.ProfessorProfile{
		ProfessorID:            professorID,
		Title:                  strings.TrimSpace(in.Title),
		Department:             strings.TrimSpace(in.Department),
		OfficeLocation:         strings.TrimSpace(in.OfficeLocation),
		DefaultDurationMinutes: in.DefaultDurationMinutes,
		MaxAdvanceDays:         in.MaxAdvanceDays,
		BufferMinutes:          in.BufferMinutes,
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	s.logger.Info("Professor profile updated",
		zap.Int64("professor_id", professorID),
		zap.Int64("actor_id", actor.UserID),
		zap.Int("buffer_minutes", profile.BufferMinutes),
		zap.Int("max_advance_days", profile.MaxAdvanceDays),
	)

	return profile, nil
}

// Windows возвращает окна приёма преподавателя
func (s *ProfessorService) Windows(ctx context.Context, professorID int64) ([]*model.AvailabilityWindow, error) {
	if _, err := s.GetProfessor(ctx, professorID); err != nil {
		return nil, err
	}
	return s.availability.ListWindows(ctx, professorID)
}

// FreeSlots возвращает свободные слоты преподавателя в диапазоне
func (s *ProfessorService) FreeSlots(ctx context.Context, professorID int64, from, to time.Time, granularity int) ([]model.Interval, error) {
	if _, err := s.GetProfessor(ctx, professorID); err != nil {
		return nil, err
	}

	seq, err := s.availability.FreeSlots(ctx, professorID, from, to, granularity)
	if err != nil {
		return nil, err
	}

	var slots []model.Interval
	for iv := range seq {
		slots = append(slots, iv)
	}
	return slots, nil
}
