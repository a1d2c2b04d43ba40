package model

import "time"

type BookingStatus string

const (
	BookingStatusRequested         BookingStatus = "REQUESTED"          // Ожидает подтверждения преподавателя
	BookingStatusConfirmed         BookingStatus = "CONFIRMED"          // Подтверждено
	BookingStatusReschedulePending BookingStatus = "RESCHEDULE_PENDING" // Перенос ждёт согласия второй стороны
	BookingStatusCompleted         BookingStatus = "COMPLETED"          // Проведено
	BookingStatusCancelled         BookingStatus = "CANCELLED"          // Отменено
	BookingStatusNoShow            BookingStatus = "NO_SHOW"            // Студент не пришёл
)

const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 240
	MinRating          = 1
	MaxRating          = 5
)

type Booking struct {
	ID                 int64         `json:"id"`
	StudentID          int64         `json:"student_id"`
	ProfessorID        int64         `json:"professor_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	StartsAt           time.Time     `json:"starts_at"`
	DurationMinutes    int           `json:"duration_minutes"`
	Location           string        `json:"location"`
	MeetingLink        string        `json:"meeting_link"`
	Status             BookingStatus `json:"status"`
	Notes              string        `json:"notes"`
	Rating             *int          `json:"rating"`
	Feedback           string        `json:"feedback"`
	CancellationReason string        `json:"cancellation_reason"`
	ExternalEventID    *string       `json:"external_event_id"`

	// Состояние переноса, заполнено только в RESCHEDULE_PENDING
	RescheduleFromStatus  *BookingStatus `json:"reschedule_from_status,omitempty"`
	RescheduleRequestedBy *int64         `json:"reschedule_requested_by,omitempty"`

	ConfirmedAt    *time.Time `json:"confirmed_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	ReminderSentAt *time.Time `json:"reminder_sent_at"`
	Version        int64      `json:"version"` // счётчик для условного обновления
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Slot возвращает забронированное окно
func (b *Booking) Slot() Slot {
	return Slot{StartsAt: b.StartsAt, DurationMinutes: b.DurationMinutes}
}

// Interval returns [start, start+duration)
func (b *Booking) Interval() Interval {
	return b.Slot().Interval()
}

// IsParty checks if the user is the student or the professor of the booking
func (b *Booking) IsParty(userID int64) bool {
	return b.StudentID == userID || b.ProfessorID == userID
}

// Counterparty возвращает вторую сторону бронирования
func (b *Booking) Counterparty(userID int64) int64 {
	if userID == b.StudentID {
		return b.ProfessorID
	}
	return b.StudentID
}

// HasStarted проверяет, что время начала консультации наступило
func (b *Booking) HasStarted(now time.Time) bool {
	return !now.Before(b.StartsAt)
}

// BookingEvent запись истории бронирования
type BookingEvent struct {
	ID              int64         `json:"id"`
	BookingID       int64         `json:"booking_id"`
	Action          Action        `json:"action"`
	FromStatus      BookingStatus `json:"from_status"`
	ToStatus        BookingStatus `json:"to_status"`
	ActorID         int64         `json:"actor_id"`
	StartsAt        time.Time     `json:"starts_at"`
	DurationMinutes int           `json:"duration_minutes"`
	CreatedAt       time.Time     `json:"created_at"`
}

// BookingFilter параметры выборки списка бронирований
type BookingFilter struct {
	StudentID   *int64
	ProfessorID *int64
	Statuses    []BookingStatus
	From        *time.Time // starts_at >= From
	To          *time.Time // starts_at < To
	Limit       int
	Offset      int
}
