package model

import "time"

// CalendarOp операция синхронизации с внешним календарём
type CalendarOp string

const (
	CalendarOpCreate CalendarOp = "CREATE"
	CalendarOpUpdate CalendarOp = "UPDATE"
	CalendarOpDelete CalendarOp = "DELETE"
)

// CalendarTask задача синхронизации из outbox
type CalendarTask struct {
	ID          int64          `json:"id"`
	BookingID   int64          `json:"booking_id"`
	Op          CalendarOp     `json:"op"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	NextAttempt time.Time      `json:"next_attempt_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CalendarEvent событие, отражающее бронирование во внешнем календаре
type CalendarEvent struct {
	UID         string    `json:"uid"`
	BookingID   int64     `json:"booking_id"`
	StudentID   int64     `json:"student_id"`
	ProfessorID int64     `json:"professor_id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	URL         string    `json:"url"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      string    `json:"status"`
	Sequence    int       `json:"sequence"`
	UpdatedAt   time.Time `json:"updated_at"`
}
