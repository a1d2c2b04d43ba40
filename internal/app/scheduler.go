package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BatchProcessor обрабатывает очередную порцию outbox
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// ReminderQueue ставит напоминания о ближайших консультациях
type ReminderQueue interface {
	EnqueueReminders(ctx context.Context, lead time.Duration) (int, error)
}

// SchedulerConfig интервалы фоновых задач
type SchedulerConfig struct {
	PollInterval     time.Duration
	ReminderInterval time.Duration
	ReminderLead     time.Duration
}

// maxDrainRounds ограничивает число порций за один тик
const maxDrainRounds = 20

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	notifications BatchProcessor
	calendar      BatchProcessor
	reminders     ReminderQueue
	cfg           SchedulerConfig
	logger        *zap.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewScheduler создаёт новый планировщик
func NewScheduler(
	notifications BatchProcessor,
	calendar BatchProcessor,
	reminders ReminderQueue,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		notifications: notifications,
		calendar:      calendar,
		reminders:     reminders,
		cfg:           cfg,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	s.runTask(ctx, "notification delivery", s.cfg.PollInterval, func(ctx context.Context) {
		s.drain(ctx, "notification delivery", s.notifications)
	})
	s.runTask(ctx, "calendar sync", s.cfg.PollInterval, func(ctx context.Context) {
		s.drain(ctx, "calendar sync", s.calendar)
	})
	s.runTask(ctx, "reminders", s.cfg.ReminderInterval, s.enqueueReminders)
}

// Stop останавливает фоновые задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

// runTask периодически выполняет fn, первый запуск сразу при старте
func (s *Scheduler) runTask(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		fn(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-s.stopChan:
				s.logger.Info("Background task stopped", zap.String("task", name))
				return
			case <-ctx.Done():
				s.logger.Info("Background task cancelled", zap.String("task", name))
				return
			}
		}
	}()
}

// drain обрабатывает порции, пока очередь не опустеет
func (s *Scheduler) drain(ctx context.Context, name string, p BatchProcessor) {
	for range maxDrainRounds {
		n, err := p.ProcessBatch(ctx)
		if err != nil {
			s.logger.Error("Background batch failed", zap.String("task", name), zap.Error(err))
			return
		}
		if n == 0 {
			return
		}
		s.logger.Debug("Background batch processed", zap.String("task", name), zap.Int("count", n))
	}
}

func (s *Scheduler) enqueueReminders(ctx context.Context) {
	n, err := s.reminders.EnqueueReminders(ctx, s.cfg.ReminderLead)
	if err != nil {
		s.logger.Error("Failed to enqueue reminders", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Reminders enqueued", zap.Int("count", n))
	}
}
