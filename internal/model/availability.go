package model

import (
	"errors"
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// AvailabilityWindow окно приёма преподавателя: еженедельное (Weekday) или на конкретную дату (Date)
type AvailabilityWindow struct {
	ID          int64         `json:"id"`
	ProfessorID int64         `json:"professor_id"`
	Weekday     *time.Weekday `json:"weekday,omitempty"` // 0 = Sunday, 6 = Saturday
	Date        *time.Time    `json:"date,omitempty"`    // полночь дня в часовом поясе сервиса
	StartMinute int           `json:"start_minute"`      // минуты от полуночи
	EndMinute   int           `json:"end_minute"`
	SlotMinutes int           `json:"slot_minutes"` // гранулярность нарезки свободных слотов
	CreatedAt   time.Time     `json:"created_at"`
}

// Validate checks the window's own invariants
func (w *AvailabilityWindow) Validate() error {
	if (w.Weekday == nil) == (w.Date == nil) {
		return errors.New("exactly one of weekday or date must be set")
	}
	if w.Weekday != nil && (*w.Weekday < time.Sunday || *w.Weekday > time.Saturday) {
		return fmt.Errorf("weekday %d out of range", *w.Weekday)
	}
	if w.StartMinute < 0 || w.EndMinute > minutesPerDay {
		return errors.New("window must lie within one day")
	}
	if w.StartMinute >= w.EndMinute {
		return errors.New("start must be before end")
	}
	if w.SlotMinutes < 0 {
		return errors.New("slot granularity must not be negative")
	}
	return nil
}

// IsRecurring checks if window repeats weekly
func (w *AvailabilityWindow) IsRecurring() bool {
	return w.Weekday != nil
}

// DayKey ключ дня, в пределах которого окна одного преподавателя не должны пересекаться
func (w *AvailabilityWindow) DayKey() string {
	if w.Weekday != nil {
		return WeekdayKey(*w.Weekday)
	}
	return DateKey(*w.Date)
}

// AppliesTo проверяет, действует ли окно в указанный день
func (w *AvailabilityWindow) AppliesTo(date time.Time) bool {
	if w.Weekday != nil {
		return date.Weekday() == *w.Weekday
	}
	return DateKey(*w.Date) == DateKey(date)
}

// On возвращает конкретный интервал окна в день date (в часовом поясе date)
func (w *AvailabilityWindow) On(date time.Time) Interval {
	y, m, d := date.Date()
	loc := date.Location()
	return Interval{
		Start: time.Date(y, m, d, w.StartMinute/60, w.StartMinute%60, 0, 0, loc),
		End:   time.Date(y, m, d, w.EndMinute/60, w.EndMinute%60, 0, 0, loc),
	}
}

// Overlaps reports whether two windows share a day key and intersect in time
func (w *AvailabilityWindow) Overlaps(o *AvailabilityWindow) bool {
	if w.DayKey() != o.DayKey() {
		return false
	}
	return w.StartMinute < o.EndMinute && o.StartMinute < w.EndMinute
}

func WeekdayKey(wd time.Weekday) string {
	return fmt.Sprintf("wd:%d", int(wd))
}

func DateKey(t time.Time) string {
	return "date:" + t.Format(time.DateOnly)
}

// ClockMinutes переводит "15:04" в минуты от полуночи
func ClockMinutes(s string) (int, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock форматирует минуты от полуночи как "15:04"
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
