package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

// NotificationRepository outbox уведомлений
type NotificationRepository struct {
	*base.Repository
}

func NewNotificationRepository(db *base.Repository) *NotificationRepository {
	return &NotificationRepository{Repository: db}
}

const notificationColumns = `
	id, booking_id, event_type, recipient_id, status, attempts, last_error,
	next_attempt_at, read_at, sent_at, created_at, updated_at`

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	err := row.Scan(
		&n.ID,
		&n.BookingID,
		&n.EventType,
		&n.RecipientID,
		&n.Status,
		&n.Attempts,
		&n.LastError,
		&n.NextAttempt,
		&n.ReadAt,
		&n.SentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*model.Notification, error) {
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}

	return out, rows.Err()
}

// Enqueue ставит уведомление в очередь. Если недоставленное уведомление с тем же
// ключом уже есть, ничего не делает и возвращает false.
func (r *NotificationRepository) Enqueue(ctx context.Context, n *model.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (booking_id, event_type, recipient_id, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (booking_id, event_type, recipient_id) WHERE status IN ('PENDING', 'PROCESSING')
		DO NOTHING
		RETURNING id, created_at, updated_at
	`

	n.Status = model.DeliveryPending
	err := r.QueryRow(
		ctx, query,
		n.BookingID,
		n.EventType,
		n.RecipientID,
		n.Status,
		n.NextAttempt,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue notification: %w", err)
	}

	return true, nil
}

// ClaimDue забирает готовые к отправке уведомления и переводит их в PROCESSING.
// Зависшие в PROCESSING дольше staleAfter забираются повторно.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int, staleAfter time.Duration) ([]*model.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'PROCESSING', attempts = attempts + 1, updated_at = $1
		WHERE id IN (
			SELECT id FROM notifications
			WHERE (status = 'PENDING' AND next_attempt_at <= $1)
			   OR (status = 'PROCESSING' AND updated_at < $2)
			ORDER BY next_attempt_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	rows, err := r.Query(ctx, query, now, now.Add(-staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claim notifications: %w", err)
	}

	return collectNotifications(rows)
}

// MarkSent отмечает уведомление доставленным
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE notifications SET status = 'SENT', sent_at = $1, last_error = '', updated_at = $1 WHERE id = $2`

	if _, err := r.ExecAffected(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkRetry возвращает уведомление в очередь до nextAttempt
func (r *NotificationRepository) MarkRetry(ctx context.Context, id int64, nextAttempt time.Time, lastErr string) error {
	query := `UPDATE notifications SET status = 'PENDING', next_attempt_at = $1, last_error = $2, updated_at = NOW() WHERE id = $3`

	if _, err := r.ExecAffected(ctx, query, nextAttempt, lastErr, id); err != nil {
		return fmt.Errorf("mark notification retry: %w", err)
	}
	return nil
}

// MarkFailed отмечает уведомление окончательно недоставленным
func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	query := `UPDATE notifications SET status = 'FAILED', last_error = $1, updated_at = NOW() WHERE id = $2`

	if _, err := r.ExecAffected(ctx, query, lastErr, id); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// MarkSkipped отмечает уведомление потерявшим актуальность
func (r *NotificationRepository) MarkSkipped(ctx context.Context, id int64) error {
	query := `UPDATE notifications SET status = 'SKIPPED', updated_at = NOW() WHERE id = $1`

	if _, err := r.ExecAffected(ctx, query, id); err != nil {
		return fmt.Errorf("mark notification skipped: %w", err)
	}
	return nil
}

// ListByRecipient возвращает уведомления пользователя, новые первыми
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID int64, limit int) ([]*model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return collectNotifications(rows)
}

// MarkRead отмечает уведомление прочитанным; false, если уведомление не принадлежит пользователю
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID int64, at time.Time) (bool, error) {
	query := `UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id = $2 AND recipient_id = $3`

	affected, err := r.ExecAffected(ctx, query, at, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}

	return affected > 0, nil
}
