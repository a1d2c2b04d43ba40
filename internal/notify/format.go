package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Freeeeeet/prof_consult/internal/model"
)

// StatusDisplay представляет отображение статуса бронирования
type StatusDisplay struct {
	Emoji string
	Text  string
}

// GetStatusDisplay возвращает emoji и текст для статуса бронирования
func GetStatusDisplay(status model.BookingStatus) StatusDisplay {
	displays := map[model.BookingStatus]StatusDisplay{
		model.BookingStatusRequested:         {"⏳", "Ожидает подтверждения"},
		model.BookingStatusConfirmed:         {"✅", "Подтверждена"},
		model.BookingStatusReschedulePending: {"🔄", "Перенос ждёт согласия"},
		model.BookingStatusCompleted:         {"✔️", "Проведена"},
		model.BookingStatusCancelled:         {"❌", "Отменена"},
		model.BookingStatusNoShow:            {"🚫", "Неявка"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return StatusDisplay{"❓", "Неизвестно"}
}

// eventTitles заголовки уведомлений
var eventTitles = map[model.EventType]string{
	model.EventCreated:     "📝 Новая запись на консультацию",
	model.EventConfirmed:   "✅ Консультация подтверждена",
	model.EventCancelled:   "❌ Консультация отменена",
	model.EventRescheduled: "🔄 Предложен перенос консультации",
	model.EventReminder:    "⏰ Напоминание о консультации",
	model.EventCompleted:   "✔️ Консультация проведена",
	model.EventNoShow:      "🚫 Отмечена неявка на консультацию",
}

// FormatDateTime форматирует дату и время
func FormatDateTime(t time.Time) string {
	return t.Format("02.01.2006 15:04")
}

// FormatTimeRange форматирует диапазон времени
func FormatTimeRange(start, end time.Time) string {
	return fmt.Sprintf("%s-%s", start.Format("15:04"), end.Format("15:04"))
}

// FormatDuration форматирует длительность в минутах
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d мин", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d ч %d мин", hours, mins)
}

// GetWeekdayShortName возвращает краткое название дня недели на русском
func GetWeekdayShortName(weekday time.Weekday) string {
	names := []string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}
	if weekday >= 0 && int(weekday) < len(names) {
		return names[weekday]
	}
	return "?"
}

// FormatMessage собирает HTML-текст уведомления
func FormatMessage(n *model.Notification, b *model.Booking, loc *time.Location) string {
	title, ok := eventTitles[n.EventType]
	if !ok {
		title = string(n.EventType)
	}

	start := b.StartsAt.In(loc)
	status := GetStatusDisplay(b.Status)

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n\n", title)
	fmt.Fprintf(&sb, "📚 %s\n", html.EscapeString(b.Title))
	fmt.Fprintf(&sb, "📅 %s, %s %s (%s)\n",
		GetWeekdayShortName(start.Weekday()),
		start.Format("02.01.2006"),
		FormatTimeRange(start, b.Slot().End().In(loc)),
		FormatDuration(b.DurationMinutes),
	)
	if b.Location != "" {
		fmt.Fprintf(&sb, "📍 %s\n", html.EscapeString(b.Location))
	}
	if b.MeetingLink != "" {
		fmt.Fprintf(&sb, "🔗 %s\n", html.EscapeString(b.MeetingLink))
	}
	fmt.Fprintf(&sb, "%s %s\n", status.Emoji, status.Text)
	if n.EventType == model.EventCancelled && b.CancellationReason != "" {
		fmt.Fprintf(&sb, "\nПричина: %s\n", html.EscapeString(b.CancellationReason))
	}

	return sb.String()
}
