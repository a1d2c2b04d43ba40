package config

import (
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string `env:"ENV" env-default:"development"`
	DBDSN         string `env:"DB_DSN" env-required:"true"`
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	JWTSecret     string `env:"JWT_SECRET" env-required:"true"`
	Timezone      string `env:"TIMEZONE" env-default:"Europe/Moscow"`
	// пустой путь - встроенные миграции
	MigrationsPath string `env:"MIGRATIONS_PATH"`
	// домен в UID событий календаря
	CalendarDomain string `env:"CALENDAR_DOMAIN" env-default:"prof-consult.local"`

	HTTPServer
	Redis
	Booking
	Worker
}

type HTTPServer struct {
	Address         string        `env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout         time.Duration `env:"HTTP_TIMEOUT" env-default:"4s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// Redis пустой адрес - блокировки внутри процесса
type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type Booking struct {
	MaxAdvanceDays int           `env:"BOOKING_MAX_ADVANCE_DAYS" env-default:"30"`
	LockTTL        time.Duration `env:"BOOKING_LOCK_TTL" env-default:"10s"`
	LockAttempts   uint64        `env:"BOOKING_LOCK_ATTEMPTS" env-default:"5"`
}

type Worker struct {
	PollInterval     time.Duration `env:"WORKER_POLL_INTERVAL" env-default:"5s"`
	BatchSize        int           `env:"WORKER_BATCH_SIZE" env-default:"50"`
	MaxAttempts      int           `env:"WORKER_MAX_ATTEMPTS" env-default:"5"`
	RetryBaseDelay   time.Duration `env:"WORKER_RETRY_BASE_DELAY" env-default:"30s"`
	ReminderInterval time.Duration `env:"REMINDER_INTERVAL" env-default:"10m"`
	ReminderLead     time.Duration `env:"REMINDER_LEAD" env-default:"24h"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	return FromEnv()
}

// FromEnv читает конфигурацию из переменных окружения
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	// cleanenv считает заданную пустую переменную заполненной
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.MaxAdvanceDays < 0 {
		return fmt.Errorf("BOOKING_MAX_ADVANCE_DAYS must not be negative")
	}
	if c.PollInterval <= 0 || c.ReminderInterval <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	return nil
}

// Location часовой пояс, в котором считаются даты и окна приёма
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaxAdvance горизонт записи
func (c *Config) MaxAdvance() time.Duration {
	return time.Duration(c.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
