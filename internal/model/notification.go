package model

import "time"

// EventType тип уведомления
type EventType string

const (
	EventCreated     EventType = "CREATED"
	EventConfirmed   EventType = "CONFIRMED"
	EventCancelled   EventType = "CANCELLED"
	EventRescheduled EventType = "RESCHEDULED"
	EventReminder    EventType = "REMINDER"
	EventCompleted   EventType = "COMPLETED"
	EventNoShow      EventType = "NO_SHOW"
)

func (e EventType) IsValid() bool {
	switch e {
	case EventCreated, EventConfirmed, EventCancelled, EventRescheduled,
		EventReminder, EventCompleted, EventNoShow:
		return true
	}
	return false
}

// DeliveryStatus состояние доставки уведомления
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	DeliverySent       DeliveryStatus = "SENT"
	DeliveryFailed     DeliveryStatus = "FAILED"
	DeliverySkipped    DeliveryStatus = "SKIPPED"
)

// IsDone checks if no more delivery attempts will be made
func (s DeliveryStatus) IsDone() bool {
	return s == DeliverySent || s == DeliveryFailed || s == DeliverySkipped
}

type Notification struct {
	ID          int64          `json:"id"`
	BookingID   int64          `json:"booking_id"`
	EventType   EventType      `json:"event_type"`
	RecipientID int64          `json:"recipient_id"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	NextAttempt time.Time      `json:"next_attempt_at"`
	ReadAt      *time.Time     `json:"read_at"`
	SentAt      *time.Time     `json:"sent_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IdempotencyKey ключ, по которому схлопываются повторные постановки
type IdempotencyKey struct {
	BookingID   int64
	EventType   EventType
	RecipientID int64
}

func (n *Notification) Key() IdempotencyKey {
	return IdempotencyKey{BookingID: n.BookingID, EventType: n.EventType, RecipientID: n.RecipientID}
}

// StillRelevant reports whether an event is worth delivering given the booking's
// current status. A cancelled booking only receives its cancellation, and a
// reminder only makes sense for a confirmed booking.
func (e EventType) StillRelevant(status BookingStatus) bool {
	if status == BookingStatusCancelled && e != EventCancelled {
		return false
	}
	if e == EventReminder && status != BookingStatusConfirmed {
		return false
	}
	return true
}
