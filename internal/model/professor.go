package model

import "time"

// DefaultConsultationMinutes длительность консультации, если преподаватель её не настроил
const DefaultConsultationMinutes = 30

// ProfessorProfile настройки приёма преподавателя
type ProfessorProfile struct {
	ProfessorID            int64     `json:"professor_id"`
	Title                  string    `json:"title"`
	Department             string    `json:"department"`
	OfficeLocation         string    `json:"office_location"`
	DefaultDurationMinutes int       `json:"default_duration_minutes"`
	MaxAdvanceDays         int       `json:"max_advance_days"` // 0 - общий горизонт сервиса
	BufferMinutes          int       `json:"buffer_minutes"`   // перерыв между консультациями
	UpdatedAt              time.Time `json:"updated_at"`
}

// DefaultProfile профиль преподавателя, который ещё ничего не настроил
func DefaultProfile(professorID int64) *ProfessorProfile {
	return &ProfessorProfile{
		ProfessorID:            professorID,
		DefaultDurationMinutes: DefaultConsultationMinutes,
	}
}

// Buffer returns the gap required before and after each consultation
func (p *ProfessorProfile) Buffer() time.Duration {
	return time.Duration(p.BufferMinutes) * time.Minute
}

// Padded widens iv by the professor's buffer on both sides
func (p *ProfessorProfile) Padded(iv Interval) Interval {
	buf := p.Buffer()
	return Interval{Start: iv.Start.Add(-buf), End: iv.End.Add(buf)}
}
