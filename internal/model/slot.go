package model

import "time"

// Interval полуоткрытый интервал [Start, End)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open intervals share at least one instant.
// Touching boundaries do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Duration длительность интервала
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Slot кандидат или забронированное окно: дата + время начала + длительность
type Slot struct {
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// End время окончания слота
func (s Slot) End() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Interval returns the slot as a half-open interval
func (s Slot) Interval() Interval {
	return Interval{Start: s.StartsAt, End: s.End()}
}

// Date полночь дня начала слота в его часовом поясе
func (s Slot) Date() time.Time {
	return DateOf(s.StartsAt)
}

// CrossesMidnight проверяет, что слот заканчивается в другой день
func (s Slot) CrossesMidnight() bool {
	end := s.End()
	next := s.Date().AddDate(0, 0, 1)
	return end.After(next)
}

// DateOf truncates t to midnight in t's location
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
