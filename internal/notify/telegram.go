package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// TelegramSender доставляет уведомления в привязанный Telegram-чат.
// Users without a linked chat only see the in-app list, which counts as delivered.
type TelegramSender struct {
	bot    *bot.Bot
	loc    *time.Location
	logger *zap.Logger
}

func NewTelegramSender(b *bot.Bot, loc *time.Location, logger *zap.Logger) *TelegramSender {
	return &TelegramSender{bot: b, loc: loc, logger: logger}
}

func (s *TelegramSender) Send(ctx context.Context, recipient *model.User, n *model.Notification, b *model.Booking) error {
	if recipient.TelegramID == nil {
		return nil
	}

	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    *recipient.TelegramID,
		Text:      FormatMessage(n, b, s.loc),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

// LogSender пишет уведомления в лог, когда Telegram не настроен
type LogSender struct {
	loc    *time.Location
	logger *zap.Logger
}

func NewLogSender(loc *time.Location, logger *zap.Logger) *LogSender {
	return &LogSender{loc: loc, logger: logger}
}

func (s *LogSender) Send(_ context.Context, recipient *model.User, n *model.Notification, b *model.Booking) error {
	s.logger.Info("Notification",
		zap.Int64("recipient_id", recipient.ID),
		zap.Int64("booking_id", b.ID),
		zap.String("event", string(n.EventType)),
		zap.String("text", FormatMessage(n, b, s.loc)),
	)
	return nil
}
