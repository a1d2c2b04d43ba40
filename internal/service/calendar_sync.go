package service

import (
	"context"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"go.uber.org/zap"
)

// CalendarSync отражает состояние бронирований во внешнем календаре через outbox.
// Sync failures never touch booking state.
type CalendarSync struct {
	tasks    CalendarTaskRepository
	bookings BookingRepository
	adapter  CalendarAdapter
	clock    Clock
	cfg      WorkerConfig
	logger   *zap.Logger
}

func NewCalendarSync(
	tasks CalendarTaskRepository,
	bookings BookingRepository,
	adapter CalendarAdapter,
	clock Clock,
	cfg WorkerConfig,
	logger *zap.Logger,
) *CalendarSync {
	return &CalendarSync{
		tasks:    tasks,
		bookings: bookings,
		adapter:  adapter,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Schedule ставит задачу синхронизации в очередь
func (c *CalendarSync) Schedule(ctx context.Context, bookingID int64, op model.CalendarOp) error {
	return c.tasks.Enqueue(ctx, &model.CalendarTask{
		BookingID:   bookingID,
		Op:          op,
		NextAttempt: c.clock.Now(),
	})
}

// ProcessBatch выполняет готовые задачи по порядку постановки
func (c *CalendarSync) ProcessBatch(ctx context.Context) (int, error) {
	tasks, err := c.tasks.ClaimDue(ctx, c.clock.Now(), c.cfg.BatchSize, c.cfg.StaleAfter)
	if err != nil {
		return 0, err
	}

	for _, t := range tasks {
		status, runErr := c.run(ctx, t)
		if runErr != nil {
			if err := c.fail(ctx, t, &DependencyError{Dependency: "calendar", Err: runErr}); err != nil {
				return 0, err
			}
			continue
		}
		if err := c.tasks.Finish(ctx, t.ID, status, ""); err != nil {
			return 0, err
		}
	}

	return len(tasks), nil
}

// run выполняет задачу. CREATE and UPDATE converge on "the event exists and
// matches the booking", so a retried or reordered task stays correct.
func (c *CalendarSync) run(ctx context.Context, t *model.CalendarTask) (model.DeliveryStatus, error) {
	b, err := c.bookings.GetByID(ctx, t.BookingID)
	if err != nil {
		return "", err
	}
	if b == nil {
		return model.DeliverySkipped, nil
	}

	switch t.Op {
	case model.CalendarOpCreate, model.CalendarOpUpdate:
		if b.Status == model.BookingStatusCancelled {
			return model.DeliverySkipped, nil
		}
		if b.ExternalEventID == nil {
			eventID, err := c.adapter.CreateEvent(ctx, b)
			if err != nil {
				return "", err
			}
			if err := c.bookings.SetExternalEventID(ctx, b.ID, &eventID); err != nil {
				return "", err
			}
			c.logger.Info("Calendar event created",
				zap.Int64("booking_id", b.ID),
				zap.String("event_id", eventID),
			)
			return model.DeliverySent, nil
		}
		if err := c.adapter.UpdateEvent(ctx, *b.ExternalEventID, b); err != nil {
			return "", err
		}
		c.logger.Info("Calendar event updated",
			zap.Int64("booking_id", b.ID),
			zap.String("event_id", *b.ExternalEventID),
		)
		return model.DeliverySent, nil

	case model.CalendarOpDelete:
		if b.ExternalEventID == nil {
			return model.DeliverySent, nil
		}
		if err := c.adapter.DeleteEvent(ctx, *b.ExternalEventID); err != nil {
			return "", err
		}
		if err := c.bookings.SetExternalEventID(ctx, b.ID, nil); err != nil {
			return "", err
		}
		c.logger.Info("Calendar event deleted",
			zap.Int64("booking_id", b.ID),
			zap.String("event_id", *b.ExternalEventID),
		)
		return model.DeliverySent, nil
	}

	return model.DeliverySkipped, nil
}

func (c *CalendarSync) fail(ctx context.Context, t *model.CalendarTask, cause error) error {
	if t.Attempts >= c.cfg.MaxAttempts {
		c.logger.Error("Calendar sync failed",
			zap.Int64("task_id", t.ID),
			zap.Int64("booking_id", t.BookingID),
			zap.String("op", string(t.Op)),
			zap.Int("attempts", t.Attempts),
			zap.Error(cause),
		)
		return c.tasks.Finish(ctx, t.ID, model.DeliveryFailed, cause.Error())
	}

	next := c.clock.Now().Add(c.cfg.retryDelay(t.Attempts))
	c.logger.Warn("Calendar sync will be retried",
		zap.Int64("task_id", t.ID),
		zap.String("op", string(t.Op)),
		zap.Int("attempts", t.Attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return c.tasks.MarkRetry(ctx, t.ID, next, cause.Error())
}
