package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
)

// Transactor выполняет fn атомарно; репозитории берут транзакцию из контекста
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	ListByRole(ctx context.Context, role model.Role) ([]*model.User, error)
	SetTelegramID(ctx context.Context, userID int64, telegramID *int64) error
}

// LinkCodeRepository одноразовые коды привязки Telegram-чатов
type LinkCodeRepository interface {
	CreateLinkCode(ctx context.Context, code string, telegramID int64, expiresAt time.Time) error
	ConsumeLinkCode(ctx context.Context, code string, now time.Time) (int64, bool, error)
	DeleteExpiredLinkCodes(ctx context.Context, now time.Time) (int64, error)
}

type ProfileRepository interface {
	Get(ctx context.Context, professorID int64) (*model.ProfessorProfile, error)
	Upsert(ctx context.Context, p *model.ProfessorProfile) error
}

type AvailabilityRepository interface {
	Create(ctx context.Context, w *model.AvailabilityWindow) error
	GetByID(ctx context.Context, id int64) (*model.AvailabilityWindow, error)
	ListByProfessor(ctx context.Context, professorID int64) ([]*model.AvailabilityWindow, error)
	Delete(ctx context.Context, professorID, id int64) error
	LockProfessor(ctx context.Context, professorID int64) error
}

type BookingRepository interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	Update(ctx context.Context, b *model.Booking) error
	ListOccupying(ctx context.Context, professorID int64, within model.Interval) ([]*model.Booking, error)
	List(ctx context.Context, f model.BookingFilter) ([]*model.Booking, error)
	ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]*model.Booking, error)
	MarkReminderSent(ctx context.Context, id int64, at time.Time) (bool, error)
	SetExternalEventID(ctx context.Context, id int64, eventID *string) error
	AddEvent(ctx context.Context, e *model.BookingEvent) error
	ListEvents(ctx context.Context, bookingID int64) ([]*model.BookingEvent, error)
}

type NotificationRepository interface {
	Enqueue(ctx context.Context, n *model.Notification) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, limit int, staleAfter time.Duration) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkRetry(ctx context.Context, id int64, nextAttempt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id int64, lastErr string) error
	MarkSkipped(ctx context.Context, id int64) error
	ListByRecipient(ctx context.Context, recipientID int64, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id, recipientID int64, at time.Time) (bool, error)
}

type CalendarTaskRepository interface {
	Enqueue(ctx context.Context, t *model.CalendarTask) error
	ClaimDue(ctx context.Context, now time.Time, limit int, staleAfter time.Duration) ([]*model.CalendarTask, error)
	Finish(ctx context.Context, id int64, status model.DeliveryStatus, lastErr string) error
	MarkRetry(ctx context.Context, id int64, nextAttempt time.Time, lastErr string) error
}

// CalendarAdapter внешний календарь
type CalendarAdapter interface {
	CreateEvent(ctx context.Context, b *model.Booking) (string, error)
	UpdateEvent(ctx context.Context, eventID string, b *model.Booking) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// Sender доставляет уведомление получателю
type Sender interface {
	Send(ctx context.Context, recipient *model.User, n *model.Notification, b *model.Booking) error
}

// NotificationQueue ставит уведомление в outbox в рамках текущей транзакции
type NotificationQueue interface {
	Enqueue(ctx context.Context, bookingID int64, event model.EventType, recipientID int64) error
}

// CalendarQueue ставит задачу синхронизации календаря в outbox в рамках текущей транзакции
type CalendarQueue interface {
	Schedule(ctx context.Context, bookingID int64, op model.CalendarOp) error
}
