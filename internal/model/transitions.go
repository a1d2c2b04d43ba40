package model

import "fmt"

// Action действие над бронированием
type Action string

const (
	ActionCreate            Action = "create"
	ActionConfirm           Action = "confirm"
	ActionCancel            Action = "cancel"
	ActionRescheduleRequest Action = "reschedule-request"
	ActionRescheduleConfirm Action = "reschedule-confirm"
	ActionComplete          Action = "complete"
	ActionMarkNoShow        Action = "mark-no-show"
	ActionRate              Action = "rate"
	ActionAddNotes          Action = "add-notes"
)

// InitialStatus статус нового бронирования
const InitialStatus = BookingStatusRequested

// transitionTable is the complete set of legal transitions; anything absent is rejected.
var transitionTable = map[BookingStatus]map[Action][]BookingStatus{
	BookingStatusRequested: {
		ActionConfirm:           {BookingStatusConfirmed},
		ActionCancel:            {BookingStatusCancelled},
		ActionRescheduleRequest: {BookingStatusReschedulePending},
		ActionAddNotes:          {BookingStatusRequested},
	},
	BookingStatusConfirmed: {
		ActionCancel:            {BookingStatusCancelled},
		ActionRescheduleRequest: {BookingStatusReschedulePending},
		ActionComplete:          {BookingStatusCompleted},
		ActionMarkNoShow:        {BookingStatusNoShow},
		ActionAddNotes:          {BookingStatusConfirmed},
	},
	BookingStatusReschedulePending: {
		ActionRescheduleConfirm: {BookingStatusConfirmed, BookingStatusRequested},
		ActionAddNotes:          {BookingStatusReschedulePending},
	},
	BookingStatusCompleted: {
		ActionRate:     {BookingStatusCompleted},
		ActionAddNotes: {BookingStatusCompleted},
	},
	BookingStatusCancelled: {},
	BookingStatusNoShow:    {},
}

// IsValid returns true if the status is a recognized booking status
func (s BookingStatus) IsValid() bool {
	_, ok := transitionTable[s]
	return ok
}

// IsTerminal checks if the status admits no further status change
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

// Occupies reports whether a booking in this status holds its window.
// Only CANCELLED and NO_SHOW release it.
func (s BookingStatus) Occupies() bool {
	return s != BookingStatusCancelled && s != BookingStatusNoShow
}

// Targets возвращает допустимые целевые статусы действия из статуса s
func (s BookingStatus) Targets(a Action) ([]BookingStatus, bool) {
	targets, ok := transitionTable[s][a]
	return targets, ok
}

// Allows checks if action leads from s to the given target
func (s BookingStatus) Allows(a Action, to BookingStatus) bool {
	targets, ok := s.Targets(a)
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// OccupyingStatuses статусы, занимающие окно преподавателя
func OccupyingStatuses() []BookingStatus {
	var out []BookingStatus
	for _, s := range AllStatuses() {
		if s.Occupies() {
			out = append(out, s)
		}
	}
	return out
}

func AllStatuses() []BookingStatus {
	return []BookingStatus{
		BookingStatusRequested,
		BookingStatusConfirmed,
		BookingStatusReschedulePending,
		BookingStatusCompleted,
		BookingStatusCancelled,
		BookingStatusNoShow,
	}
}

// ParseBookingStatus converts a string to a BookingStatus
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}
