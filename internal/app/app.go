package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Freeeeeet/prof_consult/internal/calendar"
	"github.com/Freeeeeet/prof_consult/internal/config"
	"github.com/Freeeeeet/prof_consult/internal/controller"
	"github.com/Freeeeeet/prof_consult/internal/controller/rest"
	"github.com/Freeeeeet/prof_consult/internal/lock"
	"github.com/Freeeeeet/prof_consult/internal/notify"
	"github.com/Freeeeeet/prof_consult/internal/repository"
	"github.com/Freeeeeet/prof_consult/internal/repository/base"
	"github.com/Freeeeeet/prof_consult/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App собранное приложение: HTTP API, фоновые воркеры и Telegram-бот
type App struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	locker    lock.Locker
	closers   []func() error
	server    *http.Server
	scheduler *Scheduler
	bot       *controller.BotController
	logger    *zap.Logger
}

// New поднимает зависимости и собирает сервисы
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	pool, err := NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if err := a.migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) migrate(ctx context.Context) error {
	migrator, err := NewMigrator(a.pool, a.cfg.MigrationsPath, a.logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	return migrator.Run(ctx)
}

func (a *App) build(ctx context.Context) error {
	loc := a.cfg.Location()
	clock := service.NewSystemClock(loc)

	db := base.NewRepository(a.pool)
	userRepo := repository.NewUserRepository(db)
	windowRepo := repository.NewAvailabilityRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	profileRepo := repository.NewProfessorProfileRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	taskRepo := repository.NewCalendarTaskRepository(db)
	eventRepo := repository.NewCalendarEventRepository(db)

	locker, err := a.newLocker()
	if err != nil {
		return err
	}
	a.locker = locker

	var botInstance *bot.Bot
	var sender service.Sender = notify.NewLogSender(loc, a.logger)
	if a.cfg.TelegramToken != "" {
		botInstance, err = bot.New(a.cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		sender = notify.NewTelegramSender(botInstance, loc, a.logger)
	} else {
		a.logger.Warn("TELEGRAM_TOKEN is empty, notifications are only logged")
	}

	workerCfg := service.WorkerConfig{
		BatchSize:      a.cfg.BatchSize,
		MaxAttempts:    a.cfg.MaxAttempts,
		RetryBaseDelay: a.cfg.RetryBaseDelay,
	}

	ics := calendar.NewICSCalendar(eventRepo, a.cfg.CalendarDomain, loc, a.logger)
	calendarSync := service.NewCalendarSync(taskRepo, bookingRepo, ics, clock, workerCfg, a.logger)
	dispatcher := service.NewNotificationDispatcher(db, notificationRepo, bookingRepo, userRepo, sender, clock, workerCfg, a.logger)

	availability := service.NewAvailabilityStore(db, userRepo, windowRepo, bookingRepo, profileRepo, clock, loc, a.logger)
	resolver := service.NewConflictResolver(availability, bookingRepo, clock)
	bookings := service.NewBookingService(
		db,
		userRepo,
		bookingRepo,
		resolver,
		locker,
		dispatcher,
		calendarSync,
		clock,
		service.BookingConfig{
			MaxAdvance: a.cfg.MaxAdvance(),
			Lock: lock.Options{
				TTL:      a.cfg.LockTTL,
				Attempts: a.cfg.LockAttempts,
			},
			Location: loc,
		},
		a.logger,
	)
	users := service.NewUserService(db, userRepo, userRepo, clock, a.logger)
	professors := service.NewProfessorService(userRepo, profileRepo, availability, a.logger)

	a.scheduler = NewScheduler(dispatcher, calendarSync, dispatcher, SchedulerConfig{
		PollInterval:     a.cfg.PollInterval,
		ReminderInterval: a.cfg.ReminderInterval,
		ReminderLead:     a.cfg.ReminderLead,
	}, a.logger)

	router := rest.NewRouter(rest.Deps{
		Bookings:      bookings,
		Availability:  availability,
		Professors:    professors,
		Notifications: dispatcher,
		Calendar:      ics,
		Users:         users,
		Health:        a.health,
		Location:      loc,
	}, rest.NewAuthenticator(a.cfg.JWTSecret), a.logger)

	a.server = &http.Server{
		Addr:         a.cfg.Address,
		Handler:      router,
		ReadTimeout:  a.cfg.Timeout,
		WriteTimeout: a.cfg.Timeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	if botInstance != nil {
		a.bot = controller.NewBotController(botInstance, users, bookings, loc, a.logger)
		if err := a.bot.RegisterHandlers(ctx); err != nil {
			// меню команд не критично для работы
			a.logger.Warn("Failed to register bot commands", zap.Error(err))
		}
	}

	return nil
}

func (a *App) newLocker() (lock.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		a.logger.Warn("REDIS_ADDR is empty, using in-process booking locks")
		return lock.NewMemoryLock(), nil
	}

	l, err := lock.NewRedisLock(lock.RedisOptions{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, l.Close)
	return l, nil
}

func (a *App) health(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if r, ok := a.locker.(*lock.RedisLock); ok {
		if err := r.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run запускает HTTP-сервер, воркеры и бота. Returns when ctx is cancelled or any part fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.scheduler.Start(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Start(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")

		a.scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close освобождает ресурсы в обратном порядке
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
}
