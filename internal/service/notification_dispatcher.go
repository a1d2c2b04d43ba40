package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"go.uber.org/zap"
)

const maxNotificationsList = 100

// NotificationDispatcher outbox уведомлений: постановка, доставка, повторы
type NotificationDispatcher struct {
	tx       Transactor
	repo     NotificationRepository
	bookings BookingRepository
	users    UserRepository
	sender   Sender
	clock    Clock
	cfg      WorkerConfig
	logger   *zap.Logger
}

func NewNotificationDispatcher(
	tx Transactor,
	repo NotificationRepository,
	bookings BookingRepository,
	users UserRepository,
	sender Sender,
	clock Clock,
	cfg WorkerConfig,
	logger *zap.Logger,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		tx:       tx,
		repo:     repo,
		bookings: bookings,
		users:    users,
		sender:   sender,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Enqueue ставит уведомление в очередь. Re-enqueueing a key that is not delivered yet is a no-op.
func (d *NotificationDispatcher) Enqueue(ctx context.Context, bookingID int64, event model.EventType, recipientID int64) error {
	if !event.IsValid() {
		return fmt.Errorf("enqueue notification: unknown event type %q", event)
	}

	n := &model.Notification{
		BookingID:   bookingID,
		EventType:   event,
		RecipientID: recipientID,
		NextAttempt: d.clock.Now(),
	}

	created, err := d.repo.Enqueue(ctx, n)
	if err != nil {
		return err
	}

	if !created {
		d.logger.Debug("Notification already queued",
			zap.Int64("booking_id", bookingID),
			zap.String("event", string(event)),
			zap.Int64("recipient_id", recipientID),
		)
	}
	return nil
}

// ProcessBatch доставляет готовые уведомления и возвращает число обработанных
func (d *NotificationDispatcher) ProcessBatch(ctx context.Context) (int, error) {
	claimed, err := d.repo.ClaimDue(ctx, d.clock.Now(), d.cfg.BatchSize, d.cfg.StaleAfter)
	if err != nil {
		return 0, err
	}

	for _, n := range claimed {
		if err := d.deliver(ctx, n); err != nil {
			return 0, err
		}
	}

	return len(claimed), nil
}

// deliver returns only storage errors; delivery failures are recorded on the row
func (d *NotificationDispatcher) deliver(ctx context.Context, n *model.Notification) error {
	booking, err := d.bookings.GetByID(ctx, n.BookingID)
	if err != nil {
		return d.fail(ctx, n, &DependencyError{Dependency: "bookings", Err: err})
	}
	if booking == nil || !n.EventType.StillRelevant(booking.Status) {
		d.logger.Info("Notification skipped",
			zap.Int64("notification_id", n.ID),
			zap.Int64("booking_id", n.BookingID),
			zap.String("event", string(n.EventType)),
		)
		return d.repo.MarkSkipped(ctx, n.ID)
	}

	recipient, err := d.users.GetByID(ctx, n.RecipientID)
	if err != nil {
		return d.fail(ctx, n, &DependencyError{Dependency: "users", Err: err})
	}
	if recipient == nil {
		return d.repo.MarkFailed(ctx, n.ID, "recipient not found")
	}

	if err := d.sender.Send(ctx, recipient, n, booking); err != nil {
		return d.fail(ctx, n, &DependencyError{Dependency: "notification sender", Err: err})
	}

	if err := d.repo.MarkSent(ctx, n.ID, d.clock.Now()); err != nil {
		return err
	}

	d.logger.Info("Notification sent",
		zap.Int64("notification_id", n.ID),
		zap.Int64("booking_id", n.BookingID),
		zap.String("event", string(n.EventType)),
		zap.Int64("recipient_id", n.RecipientID),
	)
	return nil
}

func (d *NotificationDispatcher) fail(ctx context.Context, n *model.Notification, cause error) error {
	if n.Attempts >= d.cfg.MaxAttempts {
		d.logger.Error("Notification delivery failed",
			zap.Int64("notification_id", n.ID),
			zap.Int64("booking_id", n.BookingID),
			zap.Int("attempts", n.Attempts),
			zap.Error(cause),
		)
		return d.repo.MarkFailed(ctx, n.ID, cause.Error())
	}

	next := d.clock.Now().Add(d.cfg.retryDelay(n.Attempts))
	d.logger.Warn("Notification delivery will be retried",
		zap.Int64("notification_id", n.ID),
		zap.Int("attempts", n.Attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return d.repo.MarkRetry(ctx, n.ID, next, cause.Error())
}

// EnqueueReminders ставит напоминания обеим сторонам подтверждённых консультаций,
// начинающихся в ближайшие lead. Each booking gets at most one reminder.
func (d *NotificationDispatcher) EnqueueReminders(ctx context.Context, lead time.Duration) (int, error) {
	now := d.clock.Now()
	due, err := d.bookings.ListDueReminders(ctx, now, now.Add(lead), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, b := range due {
		err := d.tx.WithinTx(ctx, func(ctx context.Context) error {
			marked, err := d.bookings.MarkReminderSent(ctx, b.ID, now)
			if err != nil || !marked {
				return err
			}
			if err := d.Enqueue(ctx, b.ID, model.EventReminder, b.StudentID); err != nil {
				return err
			}
			if err := d.Enqueue(ctx, b.ID, model.EventReminder, b.ProfessorID); err != nil {
				return err
			}
			queued++
			return nil
		})
		if err != nil {
			return queued, fmt.Errorf("enqueue reminder for booking %d: %w", b.ID, err)
		}
	}

	return queued, nil
}

// ListForUser возвращает уведомления пользователя, включая недоставленные
func (d *NotificationDispatcher) ListForUser(ctx context.Context, actor model.Actor, limit int) ([]*model.Notification, error) {
	if limit <= 0 || limit > maxNotificationsList {
		limit = maxNotificationsList
	}
	return d.repo.ListByRecipient(ctx, actor.UserID, limit)
}

// MarkRead отмечает уведомление прочитанным
func (d *NotificationDispatcher) MarkRead(ctx context.Context, actor model.Actor, id int64) error {
	ok, err := d.repo.MarkRead(ctx, id, actor.UserID, d.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
