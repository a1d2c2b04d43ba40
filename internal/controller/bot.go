package controller

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
	"github.com/Freeeeeet/prof_consult/internal/notify"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	myBookingsLimit = 10
	errorText       = "❌ Произошла ошибка. Попробуйте позже."
)

type UserFinder interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	IssueLinkCode(ctx context.Context, telegramID int64) (string, error)
}

type BookingLister interface {
	List(ctx context.Context, actor model.Actor, f model.BookingFilter) ([]*model.Booking, error)
}

// BotController обслуживает Telegram-канал: привязка чата и просмотр ближайших консультаций
type BotController struct {
	bot      *bot.Bot
	users    UserFinder
	bookings BookingLister
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	users UserFinder,
	bookings BookingLister,
	loc *time.Location,
	logger *zap.Logger,
) *BotController {
	return &BotController{
		bot:      botInstance,
		users:    users,
		bookings: bookings,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/mybookings", bot.MatchTypeExact, c.HandleMyBookings)

	return c.setCommands(ctx)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Привязать чат к аккаунту"},
		{Command: "mybookings", Description: "📅 Мои консультации"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// Start запускает бота, блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
	return nil
}

// HandleStart обрабатывает команду /start
func (c *BotController) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	c.send(ctx, b, chatID, c.startReply(ctx, chatID))
}

func (c *BotController) startReply(ctx context.Context, chatID int64) string {
	user, err := c.users.GetByTelegramID(ctx, chatID)
	if err != nil {
		c.logger.Error("Failed to find user by telegram id", zap.Int64("chat_id", chatID), zap.Error(err))
		return errorText
	}
	if user == nil {
		return c.linkReply(ctx, chatID)
	}

	return fmt.Sprintf(
		"👋 Привет, %s!\n\n"+
			"Этот чат уже привязан к вашему аккаунту, уведомления о консультациях приходят сюда.\n\n"+
			"/mybookings - Ближайшие консультации",
		html.EscapeString(user.FullName),
	)
}

// linkReply выдаёт одноразовый код привязки для непривязанного чата
func (c *BotController) linkReply(ctx context.Context, chatID int64) string {
	code, err := c.users.IssueLinkCode(ctx, chatID)
	if err != nil {
		c.logger.Error("Failed to issue link code", zap.Int64("chat_id", chatID), zap.Error(err))
		return errorText
	}

	return fmt.Sprintf(
		"👋 Привет!\n\n"+
			"Чтобы получать уведомления о консультациях, привяжите этот чат к аккаунту.\n\n"+
			"Код привязки: <code>%s</code>\n\n"+
			"Отправьте его в профиле (PUT /me/telegram) в течение 15 минут.",
		code,
	)
}

// HandleMyBookings обрабатывает команду /mybookings
func (c *BotController) HandleMyBookings(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	c.send(ctx, b, chatID, c.myBookingsReply(ctx, chatID))
}

func (c *BotController) myBookingsReply(ctx context.Context, chatID int64) string {
	user, err := c.users.GetByTelegramID(ctx, chatID)
	if err != nil {
		c.logger.Error("Failed to find user by telegram id", zap.Int64("chat_id", chatID), zap.Error(err))
		return errorText
	}
	if user == nil {
		return c.linkReply(ctx, chatID)
	}

	from := c.now()
	bookings, err := c.bookings.List(ctx, model.Actor{UserID: user.ID, Role: user.Role}, model.BookingFilter{
		Statuses: model.OccupyingStatuses(),
		From:     &from,
		Limit:    myBookingsLimit,
	})
	if err != nil {
		c.logger.Error("Failed to list bookings", zap.Int64("user_id", user.ID), zap.Error(err))
		return "❌ Не удалось загрузить записи. Попробуйте позже."
	}

	return formatBookings(bookings, c.loc)
}

func formatBookings(bookings []*model.Booking, loc *time.Location) string {
	if len(bookings) == 0 {
		return "📅 У вас нет предстоящих консультаций."
	}

	var sb strings.Builder
	sb.WriteString("📅 <b>Ближайшие консультации</b>\n")
	for _, bk := range bookings {
		start := bk.StartsAt.In(loc)
		end := start.Add(time.Duration(bk.DurationMinutes) * time.Minute)
		status := notify.GetStatusDisplay(bk.Status)

		fmt.Fprintf(&sb, "\n%s <b>%s</b>\n%s %s, %s (%s)\n",
			status.Emoji,
			html.EscapeString(bk.Title),
			notify.GetWeekdayShortName(start.Weekday()),
			start.Format("02.01"),
			notify.FormatTimeRange(start, end),
			status.Text,
		)
	}
	return sb.String()
}

func (c *BotController) send(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		c.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
